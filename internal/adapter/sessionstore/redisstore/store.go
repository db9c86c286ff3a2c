// Package redisstore keeps interview sessions as JSON documents in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
)

const keyPrefix = "interview:session:"

// Store implements domain.SessionStore. Each write resets the key TTL, so a
// session lives for ttl after its last turn.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New creates a Store on top of a go-redis client.
func New(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(id string) string { return keyPrefix + id }

// Create implements domain.SessionStore.
func (s *Store) Create(ctx context.Context, sess domain.InterviewSession) error {
	tracer := otel.Tracer("sessionstore.redis")
	ctx, span := tracer.Start(ctx, "sessions.Create")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID))

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("op=redisstore.Create: marshal: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, key(sess.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("op=redisstore.Create: %w", err)
	}
	if !ok {
		return fmt.Errorf("op=redisstore.Create: %w: session %s exists", domain.ErrConflict, sess.ID)
	}
	return nil
}

// Get implements domain.SessionStore.
func (s *Store) Get(ctx context.Context, id string) (domain.InterviewSession, error) {
	tracer := otel.Tracer("sessionstore.redis")
	ctx, span := tracer.Start(ctx, "sessions.Get")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id))

	data, err := s.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.InterviewSession{}, fmt.Errorf("op=redisstore.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.InterviewSession{}, fmt.Errorf("op=redisstore.Get: %w", err)
	}
	var sess domain.InterviewSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return domain.InterviewSession{}, fmt.Errorf("op=redisstore.Get: decode: %w", err)
	}
	return sess, nil
}

// Save implements domain.SessionStore. The version check and the write run
// in one WATCH/MULTI transaction, and a deleted session is never resurrected.
func (s *Store) Save(ctx context.Context, sess domain.InterviewSession) error {
	tracer := otel.Tracer("sessionstore.redis")
	ctx, span := tracer.Start(ctx, "sessions.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("session.status", string(sess.Status)),
		attribute.Int64("session.version", sess.Version),
	)

	stored := sess
	stored.Version++
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("op=redisstore.Save: marshal: %w", err)
	}
	k := key(sess.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		var head struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(cur, &head); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if head.Version != sess.Version {
			return fmt.Errorf("%w: stale version %d, stored %d", domain.ErrConflict, sess.Version, head.Version)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, data, s.ttl)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		err = fmt.Errorf("%w: concurrent write", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("op=redisstore.Save: %w", err)
	}
	return nil
}

// Delete implements domain.SessionStore.
func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, key(id)).Result()
	if err != nil {
		return fmt.Errorf("op=redisstore.Delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("op=redisstore.Delete: %w", domain.ErrNotFound)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
