package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTBus publishes through an already connected Paho client. Connection and
// reconnection are the client's business.
type MQTTBus struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMQTTBus wraps client. A zero timeout defaults to five seconds.
func NewMQTTBus(client mqtt.Client, qos byte, timeout time.Duration, logger zerolog.Logger) (*MQTTBus, error) {
	if client == nil {
		return nil, errors.New("MQTT client cannot be nil")
	}
	if qos > 2 {
		return nil, fmt.Errorf("invalid MQTT QoS %d", qos)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTBus{
		client:  client,
		qos:     qos,
		timeout: timeout,
		logger:  logger.With().Str("component", "MQTTBus").Logger(),
	}, nil
}

// IsConnected reports whether the client currently has an open connection.
func (b *MQTTBus) IsConnected() bool {
	return b.client.IsConnectionOpen()
}

// Publish sends payload to topic and waits for the broker to accept it.
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if !b.client.IsConnectionOpen() {
		return fmt.Errorf("%w: %w", ErrPublishFailed, ErrNotConnected)
	}

	token := b.client.Publish(topic, b.qos, retain, payload)
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("%w: no acknowledgement for %s within %s", ErrPublishFailed, topic, b.timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Msg("Broker rejected publish.")
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	b.logger.Debug().Str("topic", topic).Bool("retain", retain).Msg("Publish acknowledged.")
	return nil
}

// Close disconnects the client, allowing 250ms for in-flight work.
func (b *MQTTBus) Close() {
	if b.client.IsConnected() {
		b.client.Disconnect(250)
		b.logger.Info().Msg("Paho MQTT client disconnected.")
	}
}
