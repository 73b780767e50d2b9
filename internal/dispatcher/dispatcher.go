// Package dispatcher sends forecast cards to every enabled destination on a
// daily schedule.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"forecast-card/internal/forecast"
	"forecast-card/internal/log"
	"forecast-card/internal/mqtt"
	"forecast-card/internal/render"
	"forecast-card/internal/storage"
	"forecast-card/internal/weather"
)

// DefaultHours are the local hours at which cards go out.
var DefaultHours = []int{8, 12, 16, 22}

type CardBuilder interface {
	Build(ctx context.Context, req forecast.Request) (*forecast.Card, error)
}

type CardPublisher interface {
	PublishCard(chatID string, card *forecast.Card) error
}

type Store interface {
	ListEnabledDestinations() ([]storage.Destination, error)
	RecordDelivery(delivery *storage.Delivery) error
	CleanOldDeliveries(olderThan time.Duration) error
}

type Dispatcher struct {
	builder   CardBuilder
	store     Store
	publisher CardPublisher
	hours     []int
	location  *time.Location
	timeout   time.Duration
	retention time.Duration

	scheduler *gocron.Scheduler

	mu        sync.RWMutex
	lastRun   time.Time
	isRunning bool
}

type DispatcherConfig struct {
	Builder   CardBuilder
	Store     Store
	Publisher CardPublisher
	Hours     []int
	Location  *time.Location
	// Timeout bounds each destination's build and publish.
	Timeout time.Duration
	// Retention is how long delivery records are kept; zero keeps them forever.
	Retention time.Duration
}

// Summary counts the outcome of one SendAll run.
type Summary struct {
	Sent    int `json:"sent"`
	NoData  int `json:"no_data"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	hours := cfg.Hours
	if len(hours) == 0 {
		hours = DefaultHours
	}
	hours = append([]int(nil), hours...)
	sort.Ints(hours)
	for _, h := range hours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid schedule hour %d", h)
		}
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Dispatcher{
		builder:   cfg.Builder,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		hours:     hours,
		location:  loc,
		timeout:   timeout,
		retention: cfg.Retention,
	}, nil
}

func (d *Dispatcher) Hours() []int {
	return append([]int(nil), d.hours...)
}

// Start registers one daily job per configured hour and starts the scheduler
// in the background.
func (d *Dispatcher) Start() error {
	s := gocron.NewScheduler(d.location)
	s.SingletonModeAll()

	for _, h := range d.hours {
		at := fmt.Sprintf("%02d:00", h)
		if _, err := s.Every(1).Day().At(at).Do(d.runScheduled); err != nil {
			return fmt.Errorf("schedule %s: %w", at, err)
		}
	}
	if d.retention > 0 {
		if _, err := s.Every(1).Day().At("03:30").Do(d.cleanup); err != nil {
			return fmt.Errorf("schedule cleanup: %w", err)
		}
	}

	s.StartAsync()
	d.scheduler = s
	log.Infof("Dispatcher scheduled at hours %v (%s)", d.hours, d.location)
	return nil
}

func (d *Dispatcher) Stop() {
	if d.scheduler != nil {
		d.scheduler.Stop()
		d.scheduler = nil
	}
}

func (d *Dispatcher) runScheduled() {
	summary, err := d.SendAll(context.Background())
	if err != nil {
		log.Errorf("Scheduled send failed: %v", err)
		return
	}
	log.Infow("scheduled send finished", "sent", summary.Sent, "no_data", summary.NoData, "skipped", summary.Skipped, "failed", summary.Failed)
}

func (d *Dispatcher) cleanup() {
	if err := d.store.CleanOldDeliveries(d.retention); err != nil {
		log.Errorf("Error cleaning old deliveries: %v", err)
	}
}

// SendAll sends a card to every enabled destination concurrently. A failing
// destination does not stop the others; each outcome is recorded.
func (d *Dispatcher) SendAll(ctx context.Context) (Summary, error) {
	d.mu.Lock()
	d.isRunning = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.isRunning = false
		d.lastRun = time.Now()
		d.mu.Unlock()
	}()

	dests, err := d.store.ListEnabledDestinations()
	if err != nil {
		return Summary{}, fmt.Errorf("list destinations: %w", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary Summary
	)
	for _, dest := range dests {
		wg.Add(1)
		go func(dest storage.Destination) {
			defer wg.Done()

			_, err := d.SendOne(ctx, dest)

			mu.Lock()
			defer mu.Unlock()
			switch status(err) {
			case storage.DeliverySent:
				summary.Sent++
			case storage.DeliveryNoData:
				summary.NoData++
			case storage.DeliverySkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
		}(dest)
	}
	wg.Wait()

	return summary, nil
}

// SendOne builds and publishes a card for dest and records the outcome.
func (d *Dispatcher) SendOne(ctx context.Context, dest storage.Destination) (*forecast.Card, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	card, err := d.builder.Build(ctx, forecast.Request{
		Coordinates: weather.Coordinates{Latitude: dest.Latitude, Longitude: dest.Longitude},
		Label:       dest.LocationName,
	})
	if err == nil {
		err = d.publisher.PublishCard(dest.ChatID, card)
	}

	delivery := &storage.Delivery{ChatID: dest.ChatID, Status: status(err)}
	if card != nil {
		delivery.Rows = len(card.Days)
	}
	switch {
	case delivery.Status == storage.DeliverySkipped:
		delivery.Error = err.Error()
		log.Debugf("Skipped %s: %v", dest.ChatID, err)
	case err != nil:
		delivery.Error = err.Error()
		log.Warnw("delivery failed", "chat_id", dest.ChatID, "status", delivery.Status, "error", err)
	default:
		log.Debugf("Delivered %d rows to %s", delivery.Rows, dest.ChatID)
	}
	if recErr := d.store.RecordDelivery(delivery); recErr != nil {
		log.Errorf("Error recording delivery for %s: %v", dest.ChatID, recErr)
	}

	if err != nil {
		return nil, err
	}
	return card, nil
}

func status(err error) string {
	switch {
	case err == nil:
		return storage.DeliverySent
	case errors.Is(err, forecast.ErrNoForecast), errors.Is(err, render.ErrNoRows):
		return storage.DeliveryNoData
	case errors.Is(err, mqtt.ErrDisabled):
		return storage.DeliverySkipped
	default:
		return storage.DeliveryFailed
	}
}

func (d *Dispatcher) LastRun() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastRun
}

func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}

// NextRun returns the next scheduled send after now.
func (d *Dispatcher) NextRun(now time.Time) time.Time {
	local := now.In(d.location)
	y, m, day := local.Date()
	for _, h := range d.hours {
		t := time.Date(y, m, day, h, 0, 0, 0, d.location)
		if t.After(local) {
			return t
		}
	}
	return time.Date(y, m, day+1, d.hours[0], 0, 0, 0, d.location)
}
