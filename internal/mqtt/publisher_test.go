package mqtt

import (
	"errors"
	"testing"

	"forecast-card/internal/forecast"
)

func TestDisabledPublisher(t *testing.T) {
	p, err := NewPublisher(PublisherConfig{Enabled: false, TopicPrefix: "forecast"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.PublishCard("-100", &forecast.Card{PNG: []byte{1}}); !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected ErrDisabled, got %v", err)
	}
	if err := p.PublishHomeAssistantDiscovery("-100", "Moscow"); err != nil {
		t.Errorf("Expected no-op, got %v", err)
	}
	if p.IsConnected() {
		t.Error("Disabled publisher must not report connected")
	}
	p.Close()
}

func TestTopics(t *testing.T) {
	p := &Publisher{topicPrefix: "forecast"}
	if got := p.topic("-100", "image"); got != "forecast/-100/image" {
		t.Errorf("unexpected topic %q", got)
	}

	cfg := discoveryConfig("forecast", "-100", "")
	if cfg["image_topic"] != "forecast/-100/image" {
		t.Errorf("unexpected image topic %v", cfg["image_topic"])
	}
	if cfg["unique_id"] != "forecast_card_m100" {
		t.Errorf("unexpected unique id %v", cfg["unique_id"])
	}
	if cfg["name"] != "Forecast -100" {
		t.Errorf("unexpected name %v", cfg["name"])
	}
}
