package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"forecast-card/internal/render"
	"forecast-card/internal/weather"
)

const envPrefix = "FORECAST"

type Config struct {
	Weather  WeatherConfig  `mapstructure:"weather"`
	Render   RenderConfig   `mapstructure:"render"`
	API      APIConfig      `mapstructure:"api"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Database DatabaseConfig `mapstructure:"database"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

type WeatherConfig struct {
	Provider  string        `mapstructure:"provider"`
	Endpoint  string        `mapstructure:"endpoint"`
	UserAgent string        `mapstructure:"user_agent"`
	APIKey    string        `mapstructure:"api_key"`
	Timezone  string        `mapstructure:"timezone"`
	Strategy  string        `mapstructure:"strategy"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	// Location used by the CLI commands.
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Label     string  `mapstructure:"label"`
}

type RenderConfig struct {
	Width       int     `mapstructure:"width"`
	Height      int     `mapstructure:"height"`
	Scale       float64 `mapstructure:"scale"`
	Caption     string  `mapstructure:"caption"`
	Attribution string  `mapstructure:"attribution"`
	EmptyState  string  `mapstructure:"empty_state"`
}

type APIConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

type DatabaseConfig struct {
	Driver    string        `mapstructure:"driver"`
	DSN       string        `mapstructure:"dsn"`
	Retention time.Duration `mapstructure:"retention"`
}

type ScheduleConfig struct {
	Enabled bool  `mapstructure:"enabled"`
	Hours   []int `mapstructure:"hours"`
}

// Load reads configPath (or config.yaml from . and /etc/forecast-card), then
// applies FORECAST_* environment overrides. A .env file in the working
// directory is loaded first if present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/forecast-card")
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("weather.provider", "metno")
	v.SetDefault("weather.endpoint", "")
	v.SetDefault("weather.user_agent", "forecast-card/1.0")
	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.timezone", "Europe/Moscow")
	v.SetDefault("weather.strategy", string(weather.StrategyFullDay))
	v.SetDefault("weather.timeout", "15s")
	v.SetDefault("weather.cache_ttl", "10m")
	v.SetDefault("weather.latitude", 55.7558)
	v.SetDefault("weather.longitude", 37.6173)
	v.SetDefault("weather.label", "")
	v.SetDefault("render.width", 700)
	v.SetDefault("render.height", 300)
	v.SetDefault("render.scale", 1.0)
	v.SetDefault("render.caption", "468 Forecasts")
	v.SetDefault("render.attribution", "yr.no")
	v.SetDefault("render.empty_state", string(render.EmptyStateAbort))
	v.SetDefault("api.port", 8045)
	v.SetDefault("api.enabled", true)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "forecast")
	v.SetDefault("mqtt.client_id", "forecast-card")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./forecast.db")
	v.SetDefault("database.retention", "720h")
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.hours", []int{8, 12, 16, 22})
}

// Validate checks the values that cannot be defaulted later on.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if c.Weather.Timeout <= 0 {
		return fmt.Errorf("weather.timeout must be positive, got %s", c.Weather.Timeout)
	}
	for _, h := range c.Schedule.Hours {
		if h < 0 || h > 23 {
			return fmt.Errorf("schedule.hours: invalid hour %d", h)
		}
	}
	return nil
}

// Location resolves weather.timezone; the zone database is embedded.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Weather.Timezone)
	if err != nil {
		return nil, fmt.Errorf("weather.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) Strategy() (weather.Strategy, error) {
	s, err := weather.ParseStrategy(c.Weather.Strategy)
	if err != nil {
		return "", fmt.Errorf("weather.strategy: %w", err)
	}
	return s, nil
}

func (c *Config) SourceConfig() weather.SourceConfig {
	return weather.SourceConfig{
		Provider:  c.Weather.Provider,
		Endpoint:  c.Weather.Endpoint,
		UserAgent: c.Weather.UserAgent,
		APIKey:    c.Weather.APIKey,
		Timeout:   c.Weather.Timeout,
	}
}

func (c *Config) RenderOptions() render.Options {
	return render.Options{
		Width:       c.Render.Width,
		Height:      c.Render.Height,
		Scale:       c.Render.Scale,
		Caption:     c.Render.Caption,
		Attribution: c.Render.Attribution,
		EmptyState:  render.EmptyStatePolicy(c.Render.EmptyState),
	}
}
