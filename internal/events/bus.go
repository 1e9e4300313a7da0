package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nmslite/netmon/internal/telemetry"
)

// Bus is a buffered, non-blocking fan-out. Publish never waits: when the
// buffer is full the event is dropped and counted.
type Bus struct {
	ch     chan Event
	sinks  []Sink
	logger *slog.Logger

	mu      sync.RWMutex
	running bool
}

// NewBus creates a bus with the given buffer size.
func NewBus(bufferSize int, logger *slog.Logger, sinks ...Sink) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Bus{
		ch:     make(chan Event, bufferSize),
		sinks:  sinks,
		logger: logger.With("component", "events"),
	}
}

// AddSink registers a sink. It must be called before Run.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish enqueues an event.
func (b *Bus) Publish(e Event) {
	select {
	case b.ch <- e:
	default:
		telemetry.RecordEventDropped("bus")
		b.logger.Warn("event buffer full, dropping event", "kind", e.Kind)
	}
}

// Run delivers events until ctx is cancelled, then drains what is buffered.
func (b *Bus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("event bus already running")
	}
	b.running = true
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	b.logger.Info("event bus starting", "sinks", names)

	for {
		select {
		case <-ctx.Done():
			b.drain(sinks)
			b.logger.Info("event bus stopped")
			return ctx.Err()
		case e := <-b.ch:
			b.deliver(ctx, sinks, e)
		}
	}
}

func (b *Bus) drain(sinks []Sink) {
	for {
		select {
		case e := <-b.ch:
			b.deliver(context.Background(), sinks, e)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, sinks []Sink, e Event) {
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			b.logger.Warn("event delivery failed", "sink", s.Name(), "kind", e.Kind, "error", err)
		}
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, e Event) error {
	s.logger.Info("event", "kind", e.Kind, "id", e.ID, "payload", e.Payload)
	return nil
}
