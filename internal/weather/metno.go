package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const DefaultMetNoEndpoint = "https://api.met.no/weatherapi/locationforecast/2.0/compact"

// MetNoClient reads the MET Norway locationforecast API. MET Norway rejects
// requests without an identifying User-Agent.
type MetNoClient struct {
	endpoint  string
	userAgent string
	client    *http.Client
	circuit   *gobreaker.CircuitBreaker
}

func NewMetNoClient(endpoint, userAgent string, timeout time.Duration) *MetNoClient {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultMetNoEndpoint
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MetNoClient{
		endpoint:  endpoint,
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
		},
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "metno",
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (c *MetNoClient) Name() string {
	return "metno"
}

func (c *MetNoClient) Fetch(ctx context.Context, coords Coordinates) ([]RawSample, error) {
	if strings.TrimSpace(c.userAgent) == "" {
		return nil, fmt.Errorf("metno user agent is empty")
	}

	query := url.Values{}
	query.Set("lat", fmt.Sprintf("%.4f", coords.Latitude))
	query.Set("lon", fmt.Sprintf("%.4f", coords.Longitude))

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("metno endpoint: %w", err)
	}
	endpoint.RawQuery = query.Encode()

	result, err := c.circuit.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("metno request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("metno request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("metno bad status: %s", resp.Status)
		}

		return DecodeLocationForecast(resp.Body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("metno unavailable: %w", err)
		}
		return nil, err
	}

	samples, ok := result.([]RawSample)
	if !ok {
		return nil, fmt.Errorf("metno: unexpected result type %T", result)
	}
	return samples, nil
}

type metnoDocument struct {
	Properties *struct {
		Timeseries []json.RawMessage `json:"timeseries"`
	} `json:"properties"`
}

type metnoTimeStep struct {
	Time string `json:"time"`
	Data *struct {
		Instant *struct {
			Details *struct {
				AirTemperature    *float64 `json:"air_temperature"`
				WindSpeed         *float64 `json:"wind_speed"`
				WindFromDirection *float64 `json:"wind_from_direction"`
			} `json:"details"`
		} `json:"instant"`
		Next1Hours  *metnoPeriod `json:"next_1_hours"`
		Next6Hours  *metnoPeriod `json:"next_6_hours"`
		Next12Hours *metnoPeriod `json:"next_12_hours"`
	} `json:"data"`
}

type metnoPeriod struct {
	Details *struct {
		PrecipitationAmount *float64 `json:"precipitation_amount"`
	} `json:"details"`
}

func (p *metnoPeriod) amount() *float64 {
	if p == nil || p.Details == nil {
		return nil
	}
	return p.Details.PrecipitationAmount
}

// DecodeLocationForecast turns a locationforecast 2.0 document into samples.
// Entries without a parseable time are skipped. A body that is not JSON or
// has no properties.timeseries returns ErrMalformedPayload.
func DecodeLocationForecast(r io.Reader) ([]RawSample, error) {
	var doc metnoDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if doc.Properties == nil || doc.Properties.Timeseries == nil {
		return nil, fmt.Errorf("%w: properties.timeseries missing", ErrMalformedPayload)
	}

	samples := make([]RawSample, 0, len(doc.Properties.Timeseries))
	for _, raw := range doc.Properties.Timeseries {
		var step metnoTimeStep
		if err := json.Unmarshal(raw, &step); err != nil {
			continue
		}
		if strings.TrimSpace(step.Time) == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, step.Time)
		if err != nil {
			continue
		}

		sample := RawSample{Time: ts}
		if step.Data != nil {
			if inst := step.Data.Instant; inst != nil && inst.Details != nil {
				sample.AirTemperature = inst.Details.AirTemperature
				sample.WindSpeed = inst.Details.WindSpeed
				sample.WindFromDirection = inst.Details.WindFromDirection
			}
			sample.Precipitation = []Accumulation{
				{Hours: 1, Amount: step.Data.Next1Hours.amount()},
				{Hours: 6, Amount: step.Data.Next6Hours.amount()},
				{Hours: 12, Amount: step.Data.Next12Hours.amount()},
			}
		}
		samples = append(samples, sample)
	}

	return samples, nil
}
