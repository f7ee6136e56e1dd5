package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// natsPublisher is the part of *nats.Conn the bridge needs.
type natsPublisher interface {
	Publish(subj string, data []byte) error
}

// NATSBridge forwards published events to NATS as JSON. The subject is
// "<prefix>.<event type>", e.g. ztp.backup.failed.
type NATSBridge struct {
	conn   *nats.Conn
	pub    natsPublisher
	prefix string
	logger zerolog.Logger
}

// NewNATSBridge connects to the configured NATS server.
func NewNATSBridge(cfg NATSConfig, logger zerolog.Logger) (*NATSBridge, error) {
	opts := []nats.Option{
		nats.Name("ztp"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}

	b := newNATSBridge(nc, cfg.SubjectPrefix, logger)
	b.conn = nc
	return b, nil
}

func newNATSBridge(pub natsPublisher, prefix string, logger zerolog.Logger) *NATSBridge {
	return &NATSBridge{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger.With().Str("component", "nats-bridge").Logger(),
	}
}

// Subject returns the NATS subject an event type is published on.
func (b *NATSBridge) Subject(eventType string) string {
	if b.prefix == "" {
		return eventType
	}
	return b.prefix + "." + eventType
}

// Forward publishes one event. It is an EventSubscriber.
func (b *NATSBridge) Forward(event Event) {
	if err := b.publish(event); err != nil {
		b.logger.Warn().Err(err).Str("type", event.Type).Msg("Failed to forward event")
	}
}

func (b *NATSBridge) publish(event Event) error {
	if b == nil || b.pub == nil {
		return errors.New("nil nats bridge")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return b.pub.Publish(b.Subject(event.Type), data)
}

// Attach subscribes the bridge to every event of the publisher.
func (b *NATSBridge) Attach(ep *EventPublisher) {
	ep.Subscribe(b.Forward, nil)
}

// Close drains the connection, falling back to a hard close.
func (b *NATSBridge) Close() {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}
