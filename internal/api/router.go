// Package api exposes the monitoring engine over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/auth"
	"github.com/nmslite/netmon/internal/config"
	"github.com/nmslite/netmon/internal/discovery"
	"github.com/nmslite/netmon/internal/middleware"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/poller"
	"github.com/nmslite/netmon/internal/store"
)

// Poller triggers on-demand polls and reports scheduler state.
type Poller interface {
	TriggerPoll(ctx context.Context, deviceID uuid.UUID, methods []model.Protocol) (*poller.PollReport, error)
	Status() model.PollerStatus
}

// AvailabilityReader computes device availability over a window.
type AvailabilityReader interface {
	Availability(ctx context.Context, deviceID uuid.UUID, window time.Duration, now time.Time) (model.Availability, error)
}

// DiscoveryService manages discovery jobs.
type DiscoveryService interface {
	Start(ctx context.Context, req discovery.StartRequest) (*model.DiscoveryJob, error)
	Cancel(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error)
	Get(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error)
	List(ctx context.Context) ([]model.DiscoveryJob, error)
	ListHosts(ctx context.Context, jobID uuid.UUID) ([]model.DiscoveredHost, error)
	Promote(ctx context.Context, jobID uuid.UUID, hostIDs []uuid.UUID, pc model.PollConfig) (*model.PromoteResult, error)
}

// AlertService manages alert rules and the alert lifecycle.
type AlertService interface {
	List(ctx context.Context, openOnly bool) ([]model.Alert, error)
	Acknowledge(ctx context.Context, id uuid.UUID, user string) (*model.Alert, error)
	Resolve(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	Rules(ctx context.Context) ([]model.AlertRule, error)
	CreateRule(ctx context.Context, rule *model.AlertRule) error
	ForgetDevice(deviceID uuid.UUID)
}

// CredentialCreator seals and stores SNMPv3 credentials.
type CredentialCreator interface {
	Create(ctx context.Context, name string, params model.SNMPv3Params) (*model.SNMPCredential, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies is everything the router wires into handlers.
type Dependencies struct {
	Auth         *auth.Service
	Devices      store.DeviceStore
	Credentials  CredentialCreator
	CredStore    store.CredentialStore
	Poller       Poller
	Availability AvailabilityReader
	Discovery    DiscoveryService
	Alerts       AlertService
	Storage      Pinger
	Events       http.HandlerFunc
	Metrics      http.Handler
	MetricsPath  string
	CORS         config.CORSConfig
	Logger       *slog.Logger
}

// NewRouter creates and configures the API router
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger.With("component", "api")
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	if deps.CORS.Enabled {
		r.Use(middleware.CORS(
			deps.CORS.AllowedOrigins,
			deps.CORS.AllowedMethods,
			deps.CORS.AllowedHeaders,
			deps.CORS.MaxAgeSeconds,
		))
	}

	healthHandler := NewHealthHandler(deps.Storage)
	authHandler := NewAuthHandler(deps.Auth)
	deviceHandler := NewDeviceHandler(deps.Devices, deps.Poller, deps.Availability, deps.Alerts)
	credentialHandler := NewCredentialHandler(deps.Credentials, deps.CredStore)
	discoveryHandler := NewDiscoveryHandler(deps.Discovery)
	alertHandler := NewAlertHandler(deps.Alerts)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(deps.Auth))

			r.Route("/devices", func(r chi.Router) {
				r.Post("/", deviceHandler.Create)
				r.Get("/{id}", deviceHandler.Get)
				r.Delete("/{id}", deviceHandler.Delete)
				r.Post("/{id}/poll", deviceHandler.Poll)
				r.Get("/{id}/availability", deviceHandler.Availability)
				r.Get("/{id}/interfaces", deviceHandler.Interfaces)
				r.Get("/{id}/volumes", deviceHandler.Volumes)
			})

			r.Get("/poller/status", deviceHandler.PollerStatus)

			r.Route("/credentials", func(r chi.Router) {
				r.Post("/", credentialHandler.Create)
				r.Delete("/{id}", credentialHandler.Delete)
			})

			r.Route("/discovery/jobs", func(r chi.Router) {
				r.Get("/", discoveryHandler.List)
				r.Post("/", discoveryHandler.Start)
				r.Get("/{id}", discoveryHandler.Get)
				r.Post("/{id}/cancel", discoveryHandler.Cancel)
				r.Get("/{id}/hosts", discoveryHandler.Hosts)
				r.Post("/{id}/promote", discoveryHandler.Promote)
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", alertHandler.List)
				r.Get("/rules", alertHandler.ListRules)
				r.Post("/rules", alertHandler.CreateRule)
				r.Post("/{id}/acknowledge", alertHandler.Acknowledge)
				r.Post("/{id}/resolve", alertHandler.Resolve)
			})

			if deps.Events != nil {
				r.Get("/ws", deps.Events)
			}
		})
	})

	return r
}
