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

type OpenWeatherClient struct {
	apiKey string
	client *http.Client
}

func NewOpenWeatherClient(apiKey string, timeout time.Duration) *OpenWeatherClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenWeatherClient{
		apiKey: apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type openWeatherForecastResponse struct {
	List []json.RawMessage `json:"list"`
}

type openWeatherEntry struct {
	Dt   int64 `json:"dt"`
	Main *struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Rain *struct {
		ThreeHr *float64 `json:"3h"`
	} `json:"rain"`
	Snow *struct {
		ThreeHr *float64 `json:"3h"`
	} `json:"snow"`
}

func (c *OpenWeatherClient) Name() string {
	return "openweather"
}

func (c *OpenWeatherClient) Fetch(ctx context.Context, coords Coordinates) ([]RawSample, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("openweather api key is empty")
	}

	query := url.Values{}
	query.Set("appid", c.apiKey)
	query.Set("units", "metric")
	query.Set("lat", fmt.Sprintf("%.6f", coords.Latitude))
	query.Set("lon", fmt.Sprintf("%.6f", coords.Longitude))

	endpoint := url.URL{
		Scheme:   "https",
		Host:     "api.openweathermap.org",
		Path:     "/data/2.5/forecast",
		RawQuery: query.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("openweather request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openweather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openweather bad status: %s", resp.Status)
	}

	return decodeOpenWeather(resp.Body)
}

// decodeOpenWeather reads the 5 day / 3 hour forecast. Rain and snow water
// equivalent share one three-hour window.
func decodeOpenWeather(r io.Reader) ([]RawSample, error) {
	var payload openWeatherForecastResponse
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: openweather decode: %v", ErrMalformedPayload, err)
	}
	if payload.List == nil {
		return nil, fmt.Errorf("%w: openweather list missing", ErrMalformedPayload)
	}

	samples := make([]RawSample, 0, len(payload.List))
	for _, raw := range payload.List {
		var entry openWeatherEntry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Dt <= 0 {
			continue
		}

		sample := RawSample{Time: time.Unix(entry.Dt, 0).UTC()}
		if entry.Main != nil {
			sample.AirTemperature = entry.Main.Temp
		}
		if entry.Wind != nil {
			sample.WindSpeed = entry.Wind.Speed
			sample.WindFromDirection = entry.Wind.Deg
		}

		var amount *float64
		if entry.Rain != nil && entry.Rain.ThreeHr != nil {
			amount = float64Ptr(*entry.Rain.ThreeHr)
		}
		if entry.Snow != nil && entry.Snow.ThreeHr != nil {
			if amount == nil {
				amount = float64Ptr(0)
			}
			*amount += *entry.Snow.ThreeHr
		}
		sample.Precipitation = []Accumulation{{Hours: 3, Amount: amount}}

		samples = append(samples, sample)
	}
	return samples, nil
}
