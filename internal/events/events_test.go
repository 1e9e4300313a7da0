package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nmslite/netmon/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Kind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestBus_DeliversToEverySink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("sink offline")}
	bus := NewBus(8, testLogger(), a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	bus.Publish(New(KindDeviceStatus, DeviceStatusChanged{DeviceID: uuid.New(), Previous: model.StatusUp, Current: model.StatusDown}))
	bus.Publish(New(KindAlertFired, AlertChanged{}))

	require.Eventually(t, func() bool { return len(a.kinds()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Kind{KindDeviceStatus, KindAlertFired}, a.kinds())
	assert.Len(t, b.kinds(), 2, "a failing sink does not stop delivery")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus(1, testLogger())

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(New(KindDiscoveryProgress, DiscoveryProgress{}))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
	assert.Len(t, bus.ch, 1)
}

func TestBus_DrainsOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	bus := NewBus(4, testLogger(), sink)
	bus.Publish(New(KindDiscoveryComplete, DiscoveryProgress{}))
	bus.Publish(New(KindDiscoveryComplete, DiscoveryProgress{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = bus.Run(ctx)

	assert.Len(t, sink.kinds(), 2)
}

func TestBus_RunTwice(t *testing.T) {
	bus := NewBus(1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return bus.running
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, bus.Run(ctx))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "netmon.device.status", subject("netmon", KindDeviceStatus))
	assert.Equal(t, "netmon.discovery.complete", subject("netmon", KindDiscoveryComplete))
	assert.Equal(t, "alert.fired", subject("", KindAlertFired))
}

func TestHub_StreamsFilteredEvents(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?kinds=discovery"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	jobID := uuid.New()
	require.NoError(t, hub.Send(context.Background(), New(KindAlertFired, AlertChanged{})))
	require.NoError(t, hub.Send(context.Background(), New(KindDiscoveryProgress, DiscoveryProgress{JobID: jobID, ProgressPercent: 50})))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Kind    Kind              `json:"kind"`
		Payload DiscoveryProgress `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, KindDiscoveryProgress, got.Kind)
	assert.Equal(t, jobID, got.Payload.JobID)
	assert.Equal(t, 50, got.Payload.ProgressPercent)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
}
