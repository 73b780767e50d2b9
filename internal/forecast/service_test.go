package forecast

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"
	"time"

	"forecast-card/internal/render"
	"forecast-card/internal/weather"
)

var msk = time.FixedZone("MSK", 3*60*60)

type fakeSource struct {
	samples []weather.RawSample
	err     error
	calls   int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, coords weather.Coordinates) ([]weather.RawSample, error) {
	f.calls++
	return f.samples, f.err
}

func constantSamples(start time.Time, hours int) []weather.RawSample {
	samples := make([]weather.RawSample, hours)
	for i := range samples {
		temp, speed, dir, rain := 5.0, 3.0, 90.0, 0.0
		samples[i] = weather.RawSample{
			Time:              start.Add(time.Duration(i) * time.Hour),
			AirTemperature:    &temp,
			WindSpeed:         &speed,
			WindFromDirection: &dir,
			Precipitation:     []weather.Accumulation{{Hours: 1, Amount: &rain}},
		}
	}
	return samples
}

func newTestService(t *testing.T, src weather.Source, opts render.Options, ttl time.Duration) *Service {
	t.Helper()
	r, err := render.New(opts)
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	return NewService(ServiceConfig{
		Source:   src,
		Renderer: r,
		Location: msk,
		Strategy: weather.StrategyFullDay,
		CacheTTL: ttl,
	})
}

func TestService_BuildEndToEnd(t *testing.T) {
	ref := time.Date(2024, 3, 10, 9, 0, 0, 0, msk)
	src := &fakeSource{samples: constantSamples(time.Date(2024, 3, 10, 0, 0, 0, 0, msk), 5*24)}
	svc := newTestService(t, src, render.DefaultOptions(), 0)

	card, err := svc.Build(context.Background(), Request{
		Coordinates: weather.Coordinates{Latitude: 55.75, Longitude: 37.62},
		Label:       "Moscow",
		At:          ref,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(card.Days) != 5 {
		t.Fatalf("Expected 5 days, got %d", len(card.Days))
	}
	for i, d := range card.Days {
		if *d.TempMin != 5 || *d.TempMax != 5 || *d.WindDirection != 90 || d.PrecipMM != 0 || d.SnowCM != 0 {
			t.Errorf("day %d: unexpected aggregate %+v", i, d)
		}
	}

	rows := render.Layout(card.Days, ref, msk)
	if rows[0].Cells[render.ColumnDate].Text() != "Today" {
		t.Errorf("Expected Today label, got %q", rows[0].Cells[render.ColumnDate].Text())
	}
	if rows[0].Cells[render.ColumnRain].Text() != "-" || rows[0].Cells[render.ColumnSnow].Text() != "-" {
		t.Error("Expected dash placeholders for zero rain and snow")
	}

	if _, err := png.Decode(bytes.NewReader(card.PNG)); err != nil {
		t.Errorf("decode: %v", err)
	}
}

func TestService_FetchFailure(t *testing.T) {
	src := &fakeSource{err: weather.ErrMalformedPayload}
	svc := newTestService(t, src, render.DefaultOptions(), 0)

	_, err := svc.Build(context.Background(), Request{})
	if !errors.Is(err, ErrNoForecast) {
		t.Errorf("Expected ErrNoForecast, got %v", err)
	}
	if !errors.Is(err, weather.ErrMalformedPayload) {
		t.Errorf("Expected cause to be kept, got %v", err)
	}
}

func TestService_NoRowsIsDistinct(t *testing.T) {
	src := &fakeSource{samples: nil}
	svc := newTestService(t, src, render.DefaultOptions(), 0)

	_, err := svc.Build(context.Background(), Request{At: time.Date(2024, 3, 10, 9, 0, 0, 0, msk)})
	if !errors.Is(err, render.ErrNoRows) {
		t.Errorf("Expected render.ErrNoRows, got %v", err)
	}
	if errors.Is(err, ErrNoForecast) {
		t.Error("ErrNoRows must not be reported as ErrNoForecast")
	}
}

func TestService_Cache(t *testing.T) {
	src := &fakeSource{samples: constantSamples(time.Date(2024, 3, 10, 0, 0, 0, 0, msk), 24)}
	svc := newTestService(t, src, render.DefaultOptions(), 10*time.Minute)

	now := time.Date(2024, 3, 10, 9, 0, 0, 0, msk)
	svc.now = func() time.Time { return now }

	req := Request{Coordinates: weather.Coordinates{Latitude: 1, Longitude: 2}}
	for i := 0; i < 3; i++ {
		if _, err := svc.Forecast(context.Background(), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if src.calls != 1 {
		t.Errorf("Expected 1 upstream call, got %d", src.calls)
	}

	now = now.Add(11 * time.Minute)
	if _, err := svc.Forecast(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("Expected refetch after TTL, got %d calls", src.calls)
	}
}

func TestService_CacheEvictsExpiredEntries(t *testing.T) {
	src := &fakeSource{samples: constantSamples(time.Date(2024, 3, 10, 0, 0, 0, 0, msk), 24)}
	svc := newTestService(t, src, render.DefaultOptions(), 10*time.Minute)

	now := time.Date(2024, 3, 10, 9, 0, 0, 0, msk)
	svc.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		req := Request{Coordinates: weather.Coordinates{Latitude: float64(i), Longitude: 10}}
		if _, err := svc.Forecast(context.Background(), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(svc.cache) != 50 {
		t.Fatalf("Expected 50 cached coordinates, got %d", len(svc.cache))
	}

	now = now.Add(24 * time.Hour)
	if _, err := svc.Forecast(context.Background(), Request{Coordinates: weather.Coordinates{Latitude: 89, Longitude: 10}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.cache) != 1 {
		t.Errorf("Expected expired entries to be dropped, %d left", len(svc.cache))
	}
}

func TestService_CacheSizeBound(t *testing.T) {
	src := &fakeSource{samples: constantSamples(time.Date(2024, 3, 10, 0, 0, 0, 0, msk), 24)}
	r, err := render.New(render.DefaultOptions())
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	svc := NewService(ServiceConfig{Source: src, Renderer: r, Location: msk, CacheTTL: time.Hour, CacheSize: 3})

	now := time.Date(2024, 3, 10, 9, 0, 0, 0, msk)
	svc.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		req := Request{Coordinates: weather.Coordinates{Latitude: float64(i), Longitude: 10}}
		if _, err := svc.Forecast(context.Background(), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(svc.cache) > 3 {
			t.Fatalf("cache grew to %d entries", len(svc.cache))
		}
	}

	// The newest coordinate survives, the oldest is gone.
	if _, ok := svc.cache[weather.Coordinates{Latitude: 9, Longitude: 10}.Key()]; !ok {
		t.Error("Expected newest coordinate to be cached")
	}
	if _, ok := svc.cache[weather.Coordinates{Latitude: 0, Longitude: 10}.Key()]; ok {
		t.Error("Expected oldest coordinate to be evicted")
	}
}
