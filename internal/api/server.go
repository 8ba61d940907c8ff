// Package api implements the control plane: the HTTP+WebSocket surface
// described in spec.md §4.8. Handlers are methods on *Server, one
// resource group per file, following the teacher's internal/api layout.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dahateb/rust-crm-sync/internal/bus"
	"github.com/dahateb/rust-crm-sync/internal/rdb"
	"github.com/dahateb/rust-crm-sync/internal/setup"
	"github.com/dahateb/rust-crm-sync/internal/sor"
	"github.com/dahateb/rust-crm-sync/internal/syncengine"
)

// Config holds control-plane-specific settings.
type Config struct {
	// Env is "production", "staging", or "development"; kept for parity
	// with the teacher's Config even though CORS is wildcard regardless
	// (spec.md §4.8: "CORS: all origins, wildcard methods").
	Env string
}

// Server holds all shared dependencies. Each handler file attaches
// methods to this type and uses only the fields it needs.
type Server struct {
	sor *sor.Client
	rdb *rdb.Gateway
	su  *setup.Setup
	sup *syncengine.Supervisor

	msgBus  *bus.Bus // setup/trigger messages
	syncBus *bus.Bus // ingress/egress messages

	triggers chan triggerJob

	cfg       Config
	logger    *slog.Logger
	startedAt time.Time
}

// triggerJob is one (route, number) pair enqueued by a POST /setup/*
// handler and consumed off the request thread by the background worker.
type triggerJob struct {
	id     uuid.UUID
	route  string
	number int
}

// NewServer constructs the Server, wires the chi router, and starts the
// background setup-trigger worker. The returned http.Handler is ready to
// pass to http.ListenAndServe; call the returned function to stop the
// background worker when the process exits.
func NewServer(
	sorClient *sor.Client,
	gateway *rdb.Gateway,
	su *setup.Setup,
	sup *syncengine.Supervisor,
	msgBus, syncBus *bus.Bus,
	cfg Config,
	logger *slog.Logger,
) (http.Handler, func(context.Context)) {
	s := &Server{
		sor:       sorClient,
		rdb:       gateway,
		su:        su,
		sup:       sup,
		msgBus:    msgBus,
		syncBus:   syncBus,
		triggers:  make(chan triggerJob, 16),
		cfg:       cfg,
		logger:    logger,
		startedAt: time.Now(),
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	go s.runTriggerWorker(workerCtx)

	return s.routes(), func(ctx context.Context) { cancel() }
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/", s.handleIndex)
	r.Get("/info", s.handleInfo)

	r.Get("/setup/list", s.handleSetupList)
	r.Get("/setup/available", s.handleSetupAvailable)
	r.Post("/setup/new", s.handleSetupNew)
	r.Post("/setup/delete", s.handleSetupDelete)

	r.Get("/messages", s.handleMessages)
	r.Get("/sync/messages", s.handleSyncMessages)
	r.Put("/sync/start", s.handleSyncStart)
	r.Put("/sync/stop", s.handleSyncStop)

	r.Get("/ws/messages", s.handleWSMessages)
	r.Get("/ws/sync/messages", s.handleWSSyncMessages)

	return r
}
