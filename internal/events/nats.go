package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/nmslite/netmon/internal/config"
)

// NATSSink publishes events to a JetStream stream under
// "<prefix>.<kind>", e.g. netmon.device.status.
type NATSSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	logger *slog.Logger
}

// NewNATSSink connects to NATS and ensures the stream exists.
func NewNATSSink(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (*NATSSink, error) {
	logger = logger.With("component", "events", "sink", "nats")

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("netmon"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	_, err = js.Stream(ctx, cfg.StreamName)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		sc := jetstream.StreamConfig{
			Name:      cfg.StreamName,
			Subjects:  []string{cfg.SubjectPrefix + ".>"},
			Retention: jetstream.LimitsPolicy,
			MaxAge:    24 * time.Hour,
		}
		if _, err = js.CreateOrUpdateStream(ctx, sc); err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", cfg.StreamName, err)
		}
		logger.Info("created jetstream stream", "stream", cfg.StreamName, "subjects", sc.Subjects)
	} else if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get stream %s: %w", cfg.StreamName, err)
	}

	return &NATSSink{nc: nc, js: js, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an event kind is published on.
func (s *NATSSink) Subject(kind Kind) string {
	return subject(s.prefix, kind)
}

func (s *NATSSink) Send(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.js.Publish(pubCtx, s.Subject(e.Kind), data, jetstream.WithMsgID(e.ID.String())); err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.Kind, err)
	}
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close() {
	if err := s.nc.Drain(); err != nil {
		s.logger.Warn("nats drain failed", "error", err)
	}
}

func subject(prefix string, kind Kind) string {
	if prefix == "" {
		return string(kind)
	}
	return prefix + "." + string(kind)
}
