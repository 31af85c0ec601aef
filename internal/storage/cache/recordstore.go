// Package cache adds a Redis read-aside layer in front of a RequestStore.
// Only processed records are cached: processed is terminal, so a cached
// marker can never be stale. Unprocessed reads and every conditional update
// still go to the durable store.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrCacheMiss (or any error) when the key is unusable.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedRequestStore decorates a RequestStore with processed-marker caching.
type CachedRequestStore struct {
	dispatch.RequestStore
	cache  CacheClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedRequestStore(realStore dispatch.RequestStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedRequestStore {
	return &CachedRequestStore{
		RequestStore: realStore,
		cache:        cache,
		ttl:          ttl,
		logger:       logger.With("component", "CachedRequestStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedRequestStore) GetRecord(ctx context.Context, id string) (*dispatch.DeliveryRecord, error) {
	if cached, ok := s.lookup(ctx, id); ok {
		return cached, nil
	}

	rec, err := s.RequestStore.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Processed {
		s.remember(ctx, id, *rec)
	}
	return rec, nil
}

// GetRequest answers a replay of a processed request from the cache. The
// returned request carries only the record; its intent is never needed once
// the record is processed.
func (s *CachedRequestStore) GetRequest(ctx context.Context, id string) (*dispatch.NotificationRequest, error) {
	if cached, ok := s.lookup(ctx, id); ok {
		return &dispatch.NotificationRequest{ID: id, Record: *cached}, nil
	}

	req, err := s.RequestStore.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Record.Processed {
		s.remember(ctx, id, req.Record)
	}
	return req, nil
}

// --- WRITE PATH ---

func (s *CachedRequestStore) MarkProcessed(ctx context.Context, id, messageID string, at time.Time) error {
	if err := s.RequestStore.MarkProcessed(ctx, id, messageID, at); err != nil {
		return err
	}
	s.remember(ctx, id, dispatch.DeliveryRecord{Processed: true, ProcessedAt: at, MessageID: messageID})
	return nil
}

func (s *CachedRequestStore) lookup(ctx context.Context, id string) (*dispatch.DeliveryRecord, bool) {
	var cached dispatch.DeliveryRecord
	if err := s.cache.Get(ctx, s.cacheKey(id), &cached); err != nil || !cached.Processed {
		return nil, false
	}
	return &cached, true
}

// remember populates the cache. Errors are ignored; Redis being down only
// costs a durable read.
func (s *CachedRequestStore) remember(ctx context.Context, id string, rec dispatch.DeliveryRecord) {
	if err := s.cache.Set(ctx, s.cacheKey(id), rec, s.ttl); err != nil {
		s.logger.Debug("Failed to cache processed marker", "request_id", id, "err", err)
	}
}

func (s *CachedRequestStore) cacheKey(id string) string {
	return fmt.Sprintf("dispatch:processed:%s", id)
}
