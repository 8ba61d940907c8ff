package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dahateb/rust-crm-sync/internal/bus"
	"github.com/dahateb/rust-crm-sync/internal/syncengine"
)

// fakeWorker is a minimal syncengine.Worker double so Supervisor-backed
// routes can be tested without a live SOR or RDB connection.
type fakeWorker struct{ running bool }

func (f *fakeWorker) Start(ctx context.Context) error { f.running = true; return nil }
func (f *fakeWorker) Stop(ctx context.Context) error  { f.running = false; return nil }
func (f *fakeWorker) IsRunning() bool                 { return f.running }
func (f *fakeWorker) Timeout() time.Duration          { return time.Second }
func (f *fakeWorker) Execute(ctx context.Context, b *bus.Bus) error { return nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sup := syncengine.NewSupervisor(time.Hour, bus.New(), logger, &fakeWorker{})
	return &Server{
		sup:       sup,
		msgBus:    bus.New(),
		syncBus:   bus.New(),
		triggers:  make(chan triggerJob, 4),
		cfg:       Config{Env: "development"},
		logger:    logger,
		startedAt: time.Now(),
	}
}

func TestHandleIndex_ReturnsHTML(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.handleIndex(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content-type = %q, want text/html prefix", ct)
	}
}

func TestHandleMessages_DrainsMessageBus(t *testing.T) {
	s := testServer(t)
	s.msgBus.Send(bus.Message{Kind: bus.KindSetup, Text: "hello"})

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	w := httptest.NewRecorder()
	s.handleMessages(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hello") {
		t.Fatalf("body = %s, want it to contain the drained message", w.Body.String())
	}
	if s.msgBus.Len() != 0 {
		t.Fatal("bus should be empty after drain")
	}
}

func TestHandleMessages_EmptyBusReturnsEmptyArrayNotNull(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	w := httptest.NewRecorder()
	s.handleMessages(w, req)

	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Fatalf("body = %s, want []", got)
	}
}

func TestHandleSyncStartStop_TogglesSupervisor(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPut, "/sync/start", nil)
	w := httptest.NewRecorder()
	s.handleSyncStart(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", w.Code)
	}
	if !s.sup.IsRunning() {
		t.Fatal("supervisor should be running after /sync/start")
	}

	req = httptest.NewRequest(http.MethodPut, "/sync/stop", nil)
	w = httptest.NewRecorder()
	s.handleSyncStop(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", w.Code)
	}
	if s.sup.IsRunning() {
		t.Fatal("supervisor should be stopped after /sync/stop")
	}
}

func TestHandleSetupDelete_InvalidNumberReturns422(t *testing.T) {
	s := testServer(t)
	form := url.Values{"number": {"not-a-number"}}
	req := httptest.NewRequest(http.MethodPost, "/setup/delete", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.handleSetupDelete(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
}

func TestHandleSetupDelete_ValidNumberEnqueuesJob(t *testing.T) {
	s := testServer(t)
	form := url.Values{"number": {"3"}}
	req := httptest.NewRequest(http.MethodPost, "/setup/delete", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.handleSetupDelete(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	select {
	case job := <-s.triggers:
		if job.route != "delete" || job.number != 3 {
			t.Fatalf("job = %+v, want {route: delete, number: 3}", job)
		}
	default:
		t.Fatal("expected a job on the triggers channel")
	}
}

func TestParseNumberForm_RejectsNegative(t *testing.T) {
	s := testServer(t)
	form := url.Values{"number": {"-1"}}
	req := httptest.NewRequest(http.MethodPost, "/setup/delete", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	_, ok := s.parseNumberForm(w, req)
	if ok {
		t.Fatal("negative number should not parse as a valid unsigned index")
	}
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
}
