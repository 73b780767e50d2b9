package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedPayload is returned when an upstream body cannot be decoded or
// lacks the series the source expects.
var ErrMalformedPayload = errors.New("malformed forecast payload")

// ForecastDays is the length of the aggregation window, today included.
const ForecastDays = 5

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinates) Key() string {
	return fmt.Sprintf("%.4f,%.4f", c.Latitude, c.Longitude)
}

// Source fetches hourly samples for a point.
type Source interface {
	Name() string
	Fetch(ctx context.Context, coords Coordinates) ([]RawSample, error)
}

// Accumulation is a precipitation total covering the next Hours hours from
// the sample time.
type Accumulation struct {
	Hours  int
	Amount *float64
}

type RawSample struct {
	Time              time.Time
	AirTemperature    *float64
	WindSpeed         *float64
	WindFromDirection *float64
	Precipitation     []Accumulation
}

type DailyAggregate struct {
	Date          time.Time `json:"date"`
	TempMin       *int      `json:"temp_min"`
	TempMax       *int      `json:"temp_max"`
	WindSpeed     *float64  `json:"wind_speed"`
	WindDirection *float64  `json:"wind_dir_deg"`
	PrecipMM      float64   `json:"precip_mm"`
	SnowCM        float64   `json:"snow_cm"`
	Samples       int       `json:"samples"`
}

// Strategy selects how a day's bucket of samples is reduced to one row.
type Strategy string

const (
	// StrategyFullDay takes min/max/mean/sum over every sample of the day.
	StrategyFullDay Strategy = "full_day"
	// StrategyNearestNoon uses the single sample closest to local noon.
	StrategyNearestNoon Strategy = "nearest_noon"
)

func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "full_day", "full-day", "fullday":
		return StrategyFullDay, nil
	case "nearest_noon", "nearest-noon", "noon":
		return StrategyNearestNoon, nil
	default:
		return "", fmt.Errorf("unknown aggregation strategy %q", value)
	}
}

func float64Ptr(v float64) *float64 {
	return &v
}

func intPtr(v int) *int {
	return &v
}
