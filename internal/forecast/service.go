// Package forecast wires a weather source, the daily aggregation and the
// table renderer into one call.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"forecast-card/internal/log"
	"forecast-card/internal/render"
	"forecast-card/internal/weather"
)

// ErrNoForecast wraps any failure to obtain upstream data.
var ErrNoForecast = errors.New("no forecast available")

type Request struct {
	Coordinates weather.Coordinates
	Label       string
	// At is the reference instant; zero means now.
	At time.Time
}

type Card struct {
	Label       string                   `json:"label"`
	Days        []weather.DailyAggregate `json:"days"`
	GeneratedAt time.Time                `json:"generated_at"`
	PNG         []byte                   `json:"-"`
}

type Service struct {
	source   weather.Source
	renderer *render.Renderer
	location *time.Location
	strategy weather.Strategy
	cacheTTL time.Duration
	now      func() time.Time

	cacheMu   sync.Mutex
	cache     map[string]cacheEntry
	cacheSize int
}

type cacheEntry struct {
	FetchedAt time.Time
	Samples   []weather.RawSample
}

type ServiceConfig struct {
	Source   weather.Source
	Renderer *render.Renderer
	Location *time.Location
	Strategy weather.Strategy
	CacheTTL time.Duration
	// CacheSize caps the number of cached coordinates; zero means DefaultCacheSize.
	CacheSize int
}

// DefaultCacheSize is the default number of coordinates kept in the sample cache.
const DefaultCacheSize = 256

func NewService(cfg ServiceConfig) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = weather.StrategyFullDay
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Service{
		source:    cfg.Source,
		renderer:  cfg.Renderer,
		location:  loc,
		strategy:  strategy,
		cacheTTL:  cfg.CacheTTL,
		now:       time.Now,
		cache:     map[string]cacheEntry{},
		cacheSize: size,
	}
}

func (s *Service) Location() *time.Location {
	return s.location
}

// Forecast fetches and aggregates without rendering.
func (s *Service) Forecast(ctx context.Context, req Request) ([]weather.DailyAggregate, error) {
	samples, err := s.samples(ctx, req.Coordinates)
	if err != nil {
		return nil, err
	}
	return weather.Aggregate(samples, s.refTime(req), s.location, s.strategy), nil
}

// Build fetches, aggregates and renders. Upstream failures come back as
// ErrNoForecast; render precondition failures keep their render errors.
func (s *Service) Build(ctx context.Context, req Request) (*Card, error) {
	ref := s.refTime(req)

	samples, err := s.samples(ctx, req.Coordinates)
	if err != nil {
		return nil, err
	}
	days := weather.Aggregate(samples, ref, s.location, s.strategy)

	png, err := s.renderer.Render(days, req.Label, ref, s.location)
	if err != nil {
		return nil, fmt.Errorf("render forecast: %w", err)
	}

	return &Card{
		Label:       req.Label,
		Days:        days,
		GeneratedAt: ref,
		PNG:         png,
	}, nil
}

func (s *Service) refTime(req Request) time.Time {
	if req.At.IsZero() {
		return s.now()
	}
	return req.At
}

func (s *Service) samples(ctx context.Context, coords weather.Coordinates) ([]weather.RawSample, error) {
	key := coords.Key()
	now := s.now()

	if s.cacheTTL > 0 {
		s.cacheMu.Lock()
		entry, ok := s.cache[key]
		s.cacheMu.Unlock()
		if ok && now.Sub(entry.FetchedAt) < s.cacheTTL {
			return entry.Samples, nil
		}
	}

	samples, err := s.source.Fetch(ctx, coords)
	if err != nil {
		log.Warnw("forecast fetch failed", "provider", s.source.Name(), "coords", key, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrNoForecast, s.source.Name(), err)
	}

	if s.cacheTTL > 0 {
		s.cacheMu.Lock()
		s.pruneLocked(now)
		s.cache[key] = cacheEntry{FetchedAt: now, Samples: samples}
		s.cacheMu.Unlock()
	}
	return samples, nil
}

// pruneLocked drops expired entries and, if the cache is still full, the
// oldest one. Callers hold cacheMu.
func (s *Service) pruneLocked(now time.Time) {
	for key, entry := range s.cache {
		if now.Sub(entry.FetchedAt) >= s.cacheTTL {
			delete(s.cache, key)
		}
	}
	for len(s.cache) >= s.cacheSize {
		var oldestKey string
		var oldest time.Time
		for key, entry := range s.cache {
			if oldestKey == "" || entry.FetchedAt.Before(oldest) {
				oldestKey, oldest = key, entry.FetchedAt
			}
		}
		delete(s.cache, oldestKey)
	}
}
