package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrPublishFailed is returned when the bus refuses or drops an event.
	ErrPublishFailed = errors.New("publish failed")
	// ErrNotConnected is returned when the bus has no open connection.
	ErrNotConnected = errors.New("bus not connected")
	// ErrPayloadTooLarge is returned when an encoded event exceeds the bus packet budget.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// DefaultMaxPayloadBytes leaves room for two long object URLs while staying
// well inside small broker packet limits.
const DefaultMaxPayloadBytes = 1024

// Bus delivers one payload to a topic.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// connectionReporter is implemented by buses that know whether they are connected.
type connectionReporter interface {
	IsConnected() bool
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// TopicPrefix is the device identifier the topic is derived from.
	TopicPrefix string
	// MaxPayloadBytes rejects larger events before they reach the bus. Zero uses the default.
	MaxPayloadBytes int
}

// Publisher encodes capture events and publishes them, retained, on the
// capture topic. The topic is fixed at construction.
type Publisher struct {
	bus        Bus
	topic      string
	maxPayload int
	logger     zerolog.Logger
}

// NewPublisher creates a Publisher for bus.
func NewPublisher(bus Bus, cfg PublisherConfig, logger zerolog.Logger) (*Publisher, error) {
	if bus == nil {
		return nil, errors.New("bus cannot be nil")
	}
	if strings.Trim(cfg.TopicPrefix, "/") == "" {
		return nil, errors.New("topic prefix is required")
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	topic := Topic(cfg.TopicPrefix)
	return &Publisher{
		bus:        bus,
		topic:      topic,
		maxPayload: cfg.MaxPayloadBytes,
		logger:     logger.With().Str("component", "Publisher").Str("topic", topic).Logger(),
	}, nil
}

// Topic returns the topic events are published on.
func (p *Publisher) Topic() string { return p.topic }

// Ready reports whether the underlying bus can accept a publish right now.
// Buses that cannot tell are assumed ready.
func (p *Publisher) Ready() bool {
	if r, ok := p.bus.(connectionReporter); ok {
		return r.IsConnected()
	}
	return true
}

// Publish builds the event for a capture taken at capturedAt and publishes it
// with retain set. Failures are final for this event; nothing is retried.
func (p *Publisher) Publish(ctx context.Context, capturedAt time.Time, url, thumbURL *string) (EventRecord, error) {
	rec := NewEventRecord(capturedAt, url, thumbURL)
	payload, err := rec.Marshal()
	if err != nil {
		return rec, fmt.Errorf("%w: encoding event: %w", ErrPublishFailed, err)
	}
	if len(payload) > p.maxPayload {
		return rec, fmt.Errorf("%w: %d byte event exceeds %d: %w", ErrPublishFailed, len(payload), p.maxPayload, ErrPayloadTooLarge)
	}

	if err := p.bus.Publish(ctx, p.topic, payload, true); err != nil {
		if errors.Is(err, ErrPublishFailed) {
			return rec, err
		}
		return rec, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.logger.Info().Int64("timestamp", rec.Timestamp).Int("payload_bytes", len(payload)).Msg("Capture event published.")
	return rec, nil
}
