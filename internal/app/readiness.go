package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/ai-mock-interview/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/observability"
	"github.com/fairyhunter13/ai-mock-interview/internal/config"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// BuildReadinessChecks returns one check per configured dependency. A nil pool
// or client means that dependency is disabled and is not probed.
func BuildReadinessChecks(cfg config.Config, pool Pinger, rdb redis.Cmdable) []httpserver.ReadinessCheck {
	hc := observability.NewHTTPClient(2 * time.Second)
	var checks []httpserver.ReadinessCheck
	if pool != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "db", Check: pool.Ping})
	}
	if rdb != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if u := strings.TrimRight(cfg.MLServiceURL, "/"); u != "" {
		checks = append(checks, httpserver.ReadinessCheck{Name: "ml", Check: httpCheck(hc, "ml", u+"/health")})
	}
	if u := strings.TrimRight(cfg.TikaURL, "/"); u != "" {
		checks = append(checks, httpserver.ReadinessCheck{Name: "tika", Check: httpCheck(hc, "tika", u+"/version")})
	}
	return checks
}

func httpCheck(hc *http.Client, name, url string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return fmt.Errorf("%s status %d", name, resp.StatusCode)
	}
}
