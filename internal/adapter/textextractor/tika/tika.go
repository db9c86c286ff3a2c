// Package tika extracts plain text from uploaded resumes through an Apache
// Tika server (PUT /tika with Accept: text/plain).
package tika

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/observability"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	"github.com/fairyhunter13/ai-mock-interview/pkg/textx"
)

const (
	provider       = "tika"
	defaultBaseURL = "http://localhost:9998"
)

// Client implements domain.TextExtractor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// roots are the only directories ExtractPath reads from.
	roots []string
}

// New constructs a Tika client. Uploads are only read from the system temp dir
// and the working directory.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	wd, _ := os.Getwd()
	roots := []string{filepath.Clean(os.TempDir())}
	if wd != "" {
		roots = append(roots, filepath.Clean(wd))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: observability.NewHTTPClient(timeout),
		roots:      roots,
	}
}

// ExtractPath uploads the file at path and returns its text with blank-line runs collapsed.
func (c *Client) ExtractPath(ctx context.Context, fileName, path string) (string, error) {
	openPath, err := c.confine(path)
	if err != nil {
		return "", fmt.Errorf("op=tika.ExtractPath: %w", err)
	}
	data, err := os.ReadFile(openPath)
	if err != nil {
		return "", fmt.Errorf("op=tika.ExtractPath: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("op=tika.ExtractPath: %w: empty file", domain.ErrInvalidArgument)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("op=tika.ExtractPath: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType(fileName, data))

	resp, err := c.httpClient.Do(req)
	observability.ObserveAIRequest(provider, "extract", start)
	if err != nil {
		observability.FailAIRequest(provider, "extract", upstream.Class(err))
		return "", upstream.Wrap("tika.ExtractPath", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := upstream.ReadResponse(provider, resp)
	if err != nil {
		observability.FailAIRequest(provider, "extract", upstream.Class(err))
		return "", upstream.Wrap("tika.ExtractPath", err)
	}
	return textx.CollapseBlankLines(textx.SanitizeText(string(body))), nil
}

// confine resolves path and rejects anything outside the allowed roots.
func (c *Client) confine(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)
	for _, root := range c.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			continue
		}
		return filepath.Join(root, rel), nil
	}
	return "", fmt.Errorf("%w: disallowed path %s", domain.ErrInvalidArgument, abs)
}

// contentType prefers the file extension and falls back to sniffing.
func contentType(fileName string, data []byte) string {
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case "", ".":
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	return mimetype.Detect(data).String()
}
