package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/discovery"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/poller"
)

// MockPoller is a mock implementation of Poller
type MockPoller struct {
	TriggerPollFunc func(ctx context.Context, deviceID uuid.UUID, methods []model.Protocol) (*poller.PollReport, error)
	StatusFunc      func() model.PollerStatus
}

func (m *MockPoller) TriggerPoll(ctx context.Context, deviceID uuid.UUID, methods []model.Protocol) (*poller.PollReport, error) {
	if m.TriggerPollFunc != nil {
		return m.TriggerPollFunc(ctx, deviceID, methods)
	}
	return &poller.PollReport{DeviceID: deviceID}, nil
}

func (m *MockPoller) Status() model.PollerStatus {
	if m.StatusFunc != nil {
		return m.StatusFunc()
	}
	return model.PollerStatus{}
}

// MockAvailability is a mock implementation of AvailabilityReader
type MockAvailability struct {
	AvailabilityFunc func(ctx context.Context, deviceID uuid.UUID, window time.Duration, now time.Time) (model.Availability, error)
}

func (m *MockAvailability) Availability(ctx context.Context, deviceID uuid.UUID, window time.Duration, now time.Time) (model.Availability, error) {
	if m.AvailabilityFunc != nil {
		return m.AvailabilityFunc(ctx, deviceID, window, now)
	}
	return model.Availability{DeviceID: deviceID, Since: now.Add(-window)}, nil
}

// MockDiscovery is a mock implementation of DiscoveryService
type MockDiscovery struct {
	StartFunc     func(ctx context.Context, req discovery.StartRequest) (*model.DiscoveryJob, error)
	CancelFunc    func(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error)
	GetFunc       func(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error)
	ListFunc      func(ctx context.Context) ([]model.DiscoveryJob, error)
	ListHostsFunc func(ctx context.Context, jobID uuid.UUID) ([]model.DiscoveredHost, error)
	PromoteFunc   func(ctx context.Context, jobID uuid.UUID, hostIDs []uuid.UUID, pc model.PollConfig) (*model.PromoteResult, error)
}

func (m *MockDiscovery) Start(ctx context.Context, req discovery.StartRequest) (*model.DiscoveryJob, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, req)
	}
	return &model.DiscoveryJob{ID: uuid.New(), CIDR: req.CIDR, Status: model.JobPending}, nil
}

func (m *MockDiscovery) Cancel(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id)
	}
	return &model.DiscoveryJob{ID: id, Status: model.JobCancelled}, nil
}

func (m *MockDiscovery) Get(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return &model.DiscoveryJob{ID: id}, nil
}

func (m *MockDiscovery) List(ctx context.Context) ([]model.DiscoveryJob, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *MockDiscovery) ListHosts(ctx context.Context, jobID uuid.UUID) ([]model.DiscoveredHost, error) {
	if m.ListHostsFunc != nil {
		return m.ListHostsFunc(ctx, jobID)
	}
	return nil, nil
}

func (m *MockDiscovery) Promote(ctx context.Context, jobID uuid.UUID, hostIDs []uuid.UUID, pc model.PollConfig) (*model.PromoteResult, error) {
	if m.PromoteFunc != nil {
		return m.PromoteFunc(ctx, jobID, hostIDs, pc)
	}
	return &model.PromoteResult{}, nil
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

// forgetSpy records device deletions forwarded to the alert engine.
type forgetSpy struct {
	AlertService
	forgotten []uuid.UUID
}

func (s *forgetSpy) ForgetDevice(deviceID uuid.UUID) {
	s.forgotten = append(s.forgotten, deviceID)
	s.AlertService.ForgetDevice(deviceID)
}
