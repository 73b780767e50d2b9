package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"forecast-card/internal/forecast"
	"forecast-card/internal/log"
	"forecast-card/internal/weather"
)

const publishTimeout = 10 * time.Second

// ErrDisabled is returned by PublishCard when MQTT is switched off.
var ErrDisabled = errors.New("mqtt publisher disabled")

type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	enabled     bool
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return &Publisher{enabled: false, topicPrefix: cfg.TopicPrefix}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Warnf("MQTT connection lost: %v", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Infof("MQTT connected to %s", cfg.Broker)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		enabled:     true,
	}, nil
}

type cardSummary struct {
	ChatID      string                   `json:"chat_id"`
	Label       string                   `json:"label"`
	GeneratedAt time.Time                `json:"generated_at"`
	Days        []weather.DailyAggregate `json:"days"`
}

func (p *Publisher) topic(chatID, leaf string) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, chatID, leaf)
}

// PublishCard sends the PNG and a JSON summary of card as retained messages
// under {prefix}/{chatID}/.
func (p *Publisher) PublishCard(chatID string, card *forecast.Card) error {
	if !p.enabled {
		return ErrDisabled
	}

	summary, err := json.Marshal(cardSummary{
		ChatID:      chatID,
		Label:       card.Label,
		GeneratedAt: card.GeneratedAt,
		Days:        card.Days,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal forecast: %w", err)
	}

	if err := p.publish(p.topic(chatID, "image"), card.PNG); err != nil {
		return fmt.Errorf("failed to publish image: %w", err)
	}
	if err := p.publish(p.topic(chatID, "forecast"), summary); err != nil {
		return fmt.Errorf("failed to publish forecast: %w", err)
	}
	return nil
}

// PublishHomeAssistantDiscovery announces the destination's card as a Home
// Assistant MQTT image entity.
func (p *Publisher) PublishHomeAssistantDiscovery(chatID, name string) error {
	if !p.enabled {
		return nil
	}

	payload, err := json.Marshal(discoveryConfig(p.topicPrefix, chatID, name))
	if err != nil {
		return fmt.Errorf("failed to marshal discovery: %w", err)
	}

	discoveryTopic := fmt.Sprintf("homeassistant/image/forecast_card_%s/config", sanitizeID(chatID))
	return p.publish(discoveryTopic, payload)
}

func discoveryConfig(prefix, chatID, name string) map[string]interface{} {
	if name == "" {
		name = chatID
	}
	id := sanitizeID(chatID)
	return map[string]interface{}{
		"name":         fmt.Sprintf("Forecast %s", name),
		"unique_id":    fmt.Sprintf("forecast_card_%s", id),
		"image_topic":  fmt.Sprintf("%s/%s/image", prefix, chatID),
		"content_type": "image/png",
		"device": map[string]interface{}{
			"identifiers":  []string{"forecast_card"},
			"name":         "Forecast Card",
			"manufacturer": "met.no",
		},
	}
}

// sanitizeID maps chat ids like "-100123" onto Home Assistant's [a-zA-Z0-9_-].
func sanitizeID(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out = append(out, c)
		case c == '-':
			out = append(out, 'm')
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}
