package weather

import (
	"fmt"
	"strings"
	"time"
)

// SourceConfig carries the settings any of the supported sources may need.
type SourceConfig struct {
	Provider  string
	Endpoint  string
	UserAgent string
	APIKey    string
	Timeout   time.Duration
}

func NewSource(cfg SourceConfig) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "metno", "met.no", "yr", "yr.no":
		return NewMetNoClient(cfg.Endpoint, cfg.UserAgent, cfg.Timeout), nil
	case "openmeteo", "open-meteo", "open_meteo":
		return NewOpenMeteoClient(cfg.UserAgent, cfg.Timeout), nil
	case "openweather":
		return NewOpenWeatherClient(cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("weather provider not supported: %s", cfg.Provider)
	}
}
