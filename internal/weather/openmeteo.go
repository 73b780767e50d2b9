package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type OpenMeteoClient struct {
	userAgent string
	client    *http.Client
}

func NewOpenMeteoClient(userAgent string, timeout time.Duration) *OpenMeteoClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenMeteoClient{
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type openMeteoResponse struct {
	Hourly *struct {
		Time             []string   `json:"time"`
		Temperature2m    []*float64 `json:"temperature_2m"`
		WindSpeed10m     []*float64 `json:"wind_speed_10m"`
		WindDirection10m []*float64 `json:"wind_direction_10m"`
		Precipitation    []*float64 `json:"precipitation"`
	} `json:"hourly"`
}

func (c *OpenMeteoClient) Name() string {
	return "openmeteo"
}

func (c *OpenMeteoClient) Fetch(ctx context.Context, coords Coordinates) ([]RawSample, error) {
	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%.6f", coords.Latitude))
	query.Set("longitude", fmt.Sprintf("%.6f", coords.Longitude))
	query.Set("hourly", "temperature_2m,wind_speed_10m,wind_direction_10m,precipitation")
	query.Set("wind_speed_unit", "ms")
	query.Set("precipitation_unit", "mm")
	query.Set("timezone", "GMT")
	query.Set("forecast_days", "6")

	endpoint := url.URL{
		Scheme:   "https",
		Host:     "api.open-meteo.com",
		Path:     "/v1/forecast",
		RawQuery: query.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("open-meteo request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open-meteo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("open-meteo bad status: %s", resp.Status)
	}

	return decodeOpenMeteo(resp.Body)
}

// decodeOpenMeteo expects hourly arrays in GMT. Each hour's precipitation is
// the preceding-hour sum, reported as a one-hour window.
func decodeOpenMeteo(r io.Reader) ([]RawSample, error) {
	var payload openMeteoResponse
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: open-meteo decode: %v", ErrMalformedPayload, err)
	}
	if payload.Hourly == nil || payload.Hourly.Time == nil {
		return nil, fmt.Errorf("%w: open-meteo hourly series missing", ErrMalformedPayload)
	}

	h := payload.Hourly
	samples := make([]RawSample, 0, len(h.Time))
	for i, value := range h.Time {
		t, err := time.ParseInLocation("2006-01-02T15:04", value, time.UTC)
		if err != nil {
			continue
		}
		samples = append(samples, RawSample{
			Time:              t,
			AirTemperature:    seriesAt(h.Temperature2m, i),
			WindSpeed:         seriesAt(h.WindSpeed10m, i),
			WindFromDirection: seriesAt(h.WindDirection10m, i),
			Precipitation: []Accumulation{
				{Hours: 1, Amount: seriesAt(h.Precipitation, i)},
			},
		})
	}
	return samples, nil
}

func seriesAt(values []*float64, i int) *float64 {
	if i < 0 || i >= len(values) {
		return nil
	}
	return values[i]
}
