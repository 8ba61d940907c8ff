package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dahateb/rust-crm-sync/internal/bus"
	"github.com/dahateb/rust-crm-sync/internal/rdb"
	"github.com/dahateb/rust-crm-sync/internal/setup"
)

const indexHTML = `<!DOCTYPE html>
<html><head><title>sor-rdb-mirror</title></head>
<body><h1>sor-rdb-mirror control plane</h1>
<p>See /info, /setup/list, /setup/available, /messages, /sync/messages.</p>
</body></html>`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	login, _ := s.sor.GetLoginData()
	respond(w, http.StatusOK, map[string]any{
		"sync_running": s.sup.IsRunning(),
		"access_token": login.AccessToken,
		"instance_url": login.InstanceURL,
		"created":      s.startedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleSetupList(w http.ResponseWriter, r *http.Request) {
	out, err := s.su.ListRemoteObjects(r.Context(), nil)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, out)
}

func (s *Server) handleSetupAvailable(w http.ResponseWriter, r *http.Request) {
	out, err := s.su.ListDbObjects(r.Context(), nil)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, out)
}

func (s *Server) handleSetupNew(w http.ResponseWriter, r *http.Request) {
	index, ok := s.parseNumberForm(w, r)
	if !ok {
		return
	}

	exists, err := s.su.RemoteObjectExists(r.Context(), index)
	if !s.handleSetupIndexErr(w, r, err) {
		return
	}
	if exists {
		respondErr(w, http.StatusUnprocessableEntity, "object is already mirrored")
		return
	}

	job := triggerJob{id: uuid.New(), route: "new", number: index}
	select {
	case s.triggers <- job:
	default:
		respondErr(w, http.StatusServiceUnavailable, "setup queue is full, try again shortly")
		return
	}
	respond(w, http.StatusCreated, map[string]string{"status": "queued", "id": job.id.String()})
}

func (s *Server) handleSetupDelete(w http.ResponseWriter, r *http.Request) {
	index, ok := s.parseNumberForm(w, r)
	if !ok {
		return
	}

	job := triggerJob{id: uuid.New(), route: "delete", number: index}
	select {
	case s.triggers <- job:
	default:
		respondErr(w, http.StatusServiceUnavailable, "setup queue is full, try again shortly")
		return
	}
	respond(w, http.StatusCreated, map[string]string{"status": "queued", "id": job.id.String()})
}

// parseNumberForm extracts and validates the "number" form field shared by
// /setup/new and /setup/delete, writing a 422 response on failure.
func (s *Server) parseNumberForm(w http.ResponseWriter, r *http.Request) (int, bool) {
	if err := r.ParseForm(); err != nil {
		respondErr(w, http.StatusUnprocessableEntity, "invalid form body")
		return 0, false
	}
	n, err := strconv.ParseUint(r.FormValue("number"), 10, 32)
	if err != nil {
		respondErr(w, http.StatusUnprocessableEntity, "number must be a non-negative integer")
		return 0, false
	}
	return int(n), true
}

// handleSetupIndexErr maps a Setup index-lookup error to an HTTP response.
// Returns false if a response was already written.
func (s *Server) handleSetupIndexErr(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, setup.ErrCacheNotReady):
		respondErr(w, http.StatusConflict, "call the corresponding list route first")
		return false
	case errors.Is(err, setup.ErrObjectNotFound):
		respondErr(w, http.StatusNotFound, "no object at that index")
		return false
	default:
		s.respondInternalErr(w, r, err)
		return false
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs := s.msgBus.Drain()
	if msgs == nil {
		msgs = []bus.Message{}
	}
	respond(w, http.StatusOK, msgs)
}

func (s *Server) handleSyncMessages(w http.ResponseWriter, r *http.Request) {
	msgs := s.syncBus.Drain()
	if msgs == nil {
		msgs = []bus.Message{}
	}
	respond(w, http.StatusOK, msgs)
}

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Start(r.Context()); err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Stop(r.Context()); err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// runTriggerWorker is the single background task that consumes
// (route, number) triggers off the request thread, per spec.md §4.8
// "Background worker". Grounded on the teacher's internal/worker.Runner
// goroutine-pool shape, simplified to one worker, so queued setup and
// delete jobs run one at a time.
func (s *Server) runTriggerWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.triggers:
			s.runTrigger(ctx, job)
		}
	}
}

func (s *Server) runTrigger(ctx context.Context, job triggerJob) {
	start := time.Now()
	var err error
	switch job.route {
	case "new":
		err = s.su.SetupRemoteObject(ctx, job.number, true, func(m bus.Message) { s.msgBus.Send(m) })
	case "delete":
		var name string
		name, err = s.su.DeleteDbObject(ctx, job.number)
		if err == nil {
			s.msgBus.Send(bus.Message{Kind: bus.KindTrigger, Text: "deleted " + name, Count: job.number})
		}
	}

	elapsed := time.Since(start).Milliseconds()
	text := job.route + " completed"
	if err != nil {
		var schemaErr *rdb.SchemaExistsError
		if errors.As(err, &schemaErr) {
			text = schemaErr.Error()
		} else {
			text = job.route + " failed: " + err.Error()
		}
	}
	s.msgBus.Send(bus.Message{Kind: bus.KindTrigger, Text: text, Count: job.number, ElapsedMs: elapsed})
}
