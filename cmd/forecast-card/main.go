package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"forecast-card/config"
	"forecast-card/internal/api"
	"forecast-card/internal/dispatcher"
	"forecast-card/internal/forecast"
	"forecast-card/internal/log"
	"forecast-card/internal/mqtt"
	"forecast-card/internal/render"
	"forecast-card/internal/storage"
	"forecast-card/internal/weather"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forecast-card",
		Short: "Five-day forecast cards",
		Long:  "Aggregates met.no forecasts into daily rows and renders them as PNG cards",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.Init(verbose)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(aggregateCmd())
	rootCmd.AddCommand(sendCmd())

	err := rootCmd.Execute()
	log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	loc      *time.Location
	strategy weather.Strategy
	renderer *render.Renderer
	service  *forecast.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, err
	}

	renderer, err := render.New(cfg.RenderOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	source, err := weather.NewSource(cfg.SourceConfig())
	if err != nil {
		return nil, err
	}

	service := forecast.NewService(forecast.ServiceConfig{
		Source:   source,
		Renderer: renderer,
		Location: loc,
		Strategy: strategy,
		CacheTTL: cfg.Weather.CacheTTL,
	})

	return &app{cfg: cfg, loc: loc, strategy: strategy, renderer: renderer, service: service}, nil
}

func (a *app) openStore() (*storage.Database, error) {
	db, err := storage.NewDatabase(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Infof("Database opened (%s)", a.cfg.Database.Driver)
	return db, nil
}

func (a *app) newPublisher() *mqtt.Publisher {
	publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
		Broker:      a.cfg.MQTT.Broker,
		ClientID:    a.cfg.MQTT.ClientID,
		Username:    a.cfg.MQTT.Username,
		Password:    a.cfg.MQTT.Password,
		TopicPrefix: a.cfg.MQTT.TopicPrefix,
		Enabled:     a.cfg.MQTT.Enabled,
	})
	if err != nil {
		log.Warnf("MQTT connection failed, cards will not be published: %v", err)
		publisher, _ = mqtt.NewPublisher(mqtt.PublisherConfig{Enabled: false})
	}
	return publisher
}

func (a *app) newDispatcher(db *storage.Database, publisher *mqtt.Publisher) (*dispatcher.Dispatcher, error) {
	return dispatcher.NewDispatcher(dispatcher.DispatcherConfig{
		Builder:   a.service,
		Store:     db,
		Publisher: publisher,
		Hours:     a.cfg.Schedule.Hours,
		Location:  a.loc,
		Timeout:   a.cfg.Weather.Timeout,
		Retention: a.cfg.Database.Retention,
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the forecast service",
		Long:  "Start the scheduled dispatcher, the API server and the MQTT publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			publisher := a.newPublisher()
			defer publisher.Close()

			disp, err := a.newDispatcher(db, publisher)
			if err != nil {
				return err
			}
			if a.cfg.Schedule.Enabled {
				if err := disp.Start(); err != nil {
					return err
				}
				defer disp.Stop()
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			var server *api.Server
			if a.cfg.API.Enabled {
				server = api.NewServer(api.ServerConfig{
					Port:       a.cfg.API.Port,
					Service:    a.service,
					Dispatcher: disp,
					Database:   db,
					Publisher:  publisher,
				})

				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Errorf("API server error: %v", err)
					}
				}()
			}

			log.Infof("Forecast card service started (%s, %s). Press Ctrl+C to stop.", a.cfg.Weather.Provider, a.loc)

			<-sigChan
			log.Infof("Shutting down...")

			if server != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Stop(ctx); err != nil {
					log.Warnf("API shutdown: %v", err)
				}
			}
			return nil
		},
	}
}

type locationFlags struct {
	lat, lon float64
	label    string
	at       string
	input    string
}

func (f *locationFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "latitude (default from config)")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "longitude (default from config)")
	cmd.Flags().StringVar(&f.label, "label", "", "location label")
	cmd.Flags().StringVar(&f.at, "at", "", "reference time, RFC3339 (default now)")
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "read a saved met.no payload instead of fetching")
}

func (f *locationFlags) request(cmd *cobra.Command, cfg *config.Config) (forecast.Request, error) {
	req := forecast.Request{
		Coordinates: weather.Coordinates{Latitude: cfg.Weather.Latitude, Longitude: cfg.Weather.Longitude},
		Label:       cfg.Weather.Label,
	}
	if cmd.Flags().Changed("lat") {
		req.Coordinates.Latitude = f.lat
	}
	if cmd.Flags().Changed("lon") {
		req.Coordinates.Longitude = f.lon
	}
	if f.label != "" {
		req.Label = f.label
	}
	if f.at != "" {
		at, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return req, fmt.Errorf("invalid --at: %w", err)
		}
		req.At = at
	}
	return req, nil
}

// days aggregates either the saved payload in f.input or a live fetch.
func (a *app) days(ctx context.Context, f *locationFlags, req forecast.Request) ([]weather.DailyAggregate, time.Time, error) {
	ref := req.At
	if ref.IsZero() {
		ref = time.Now()
	}
	if f.input == "" {
		days, err := a.service.Forecast(ctx, req)
		return days, ref, err
	}

	file, err := os.Open(f.input)
	if err != nil {
		return nil, ref, err
	}
	defer file.Close()

	days, err := weather.AggregatePayload(file, ref, a.loc, a.strategy)
	return days, ref, err
}

func renderCmd() *cobra.Command {
	var (
		flags  locationFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a forecast card to a PNG file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			req, err := flags.request(cmd, a.cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Weather.Timeout)
			defer cancel()

			days, ref, err := a.days(ctx, &flags, req)
			if err != nil {
				return err
			}
			img, err := a.renderer.Render(days, req.Label, ref, a.loc)
			if err != nil {
				return err
			}

			if err := os.WriteFile(output, img, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Printf("Wrote %d rows to %s\n", len(days), output)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "forecast.png", "output file")
	return cmd
}

func aggregateCmd() *cobra.Command {
	var flags locationFlags
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Print the daily aggregates as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			req, err := flags.request(cmd, a.cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Weather.Timeout)
			defer cancel()

			days, _, err := a.days(ctx, &flags, req)
			if err != nil {
				return err
			}

			output, _ := json.MarshalIndent(days, "", "  ")
			fmt.Println(string(output))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send",
		Short: "Send cards to every enabled destination once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			publisher := a.newPublisher()
			defer publisher.Close()

			disp, err := a.newDispatcher(db, publisher)
			if err != nil {
				return err
			}

			summary, err := disp.SendAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Sent: %d  No data: %d  Skipped: %d  Failed: %d\n", summary.Sent, summary.NoData, summary.Skipped, summary.Failed)
			return nil
		},
	}
}
