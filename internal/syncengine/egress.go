package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dahateb/rust-crm-sync/internal/bus"
	"github.com/dahateb/rust-crm-sync/internal/rdb"
	"github.com/dahateb/rust-crm-sync/internal/record"
	"github.com/dahateb/rust-crm-sync/internal/sor"
)

// bookkeeping columns are never part of a SOR payload.
var bookkeepingColumns = map[string]bool{
	"_s_error":   true,
	"_s_state":   true,
	"_s_created": true,
	"_s_updated": true,
}

// Egress pushes notified row changes out to the remote system, per
// spec.md §4.7. Unlike Ingress, Start/Stop also toggle the RDB gateway's
// LISTEN connection, since notifications only exist while listening.
type Egress struct {
	sor     *sor.Client
	rdb     *rdb.Gateway
	cfg     sor.Config
	timeout time.Duration

	running atomic.Bool
}

// NewEgress returns an Egress worker.
func NewEgress(sorClient *sor.Client, gateway *rdb.Gateway, cfg sor.Config, timeout time.Duration) *Egress {
	return &Egress{sor: sorClient, rdb: gateway, cfg: cfg, timeout: timeout}
}

func (w *Egress) Start(ctx context.Context) error {
	if err := w.rdb.ToggleListen(ctx, true); err != nil {
		return fmt.Errorf("egress: start listen: %w", err)
	}
	w.running.Store(true)
	return nil
}

func (w *Egress) Stop(ctx context.Context) error {
	w.running.Store(false)
	if err := w.rdb.ToggleListen(ctx, false); err != nil {
		return fmt.Errorf("egress: stop listen: %w", err)
	}
	return nil
}

func (w *Egress) IsRunning() bool        { return w.running.Load() }
func (w *Egress) Timeout() time.Duration { return w.timeout }

// Execute drains pending notifications, groups them by MirrorTable, and
// pushes each group's rows out. A failure on one group is reported to the
// bus and does not stop the others.
func (w *Egress) Execute(ctx context.Context, b *bus.Bus) error {
	grouped := make(map[string][]int64)
	for _, payload := range w.rdb.DrainNotifications() {
		localName, idStr, ok := strings.Cut(payload, "::")
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		grouped[localName] = append(grouped[localName], id)
	}

	for localName, ids := range grouped {
		if err := w.pushGroup(ctx, localName, ids, b); err != nil {
			b.Send(bus.Message{Kind: bus.KindSync, Text: "egress failed: " + err.Error(), Object: localName})
		}
	}
	return nil
}

func (w *Egress) pushGroup(ctx context.Context, localName string, ids []int64, b *bus.Bus) error {
	oc, found, err := w.rdb.GetObjectConfigByLocalName(ctx, localName)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("egress: no object config for %s", localName)
	}

	recs, err := w.rdb.GetRowsById(ctx, localName, ids)
	if err != nil {
		return err
	}

	remoteIDs := make(map[int64]string)
	pushed := 0
	for _, rec := range recs {
		payload := stripBookkeeping(rec)
		data, err := json.Marshal(payload)
		if err != nil {
			w.fail(ctx, localName, rec.ID, err)
			continue
		}

		if rec.Sfid.Valid {
			if _, err := w.sor.Patch(ctx, apiPath(w.cfg, "/sobjects/"+oc.Name+"/"+rec.Sfid.String), data); err != nil {
				w.fail(ctx, localName, rec.ID, err)
				continue
			}
			pushed++
			continue
		}

		body, err := w.sor.Post(ctx, apiPath(w.cfg, "/sobjects/"+oc.Name), data)
		if err != nil {
			w.fail(ctx, localName, rec.ID, err)
			continue
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(body), &created); err != nil || created.ID == "" {
			w.fail(ctx, localName, rec.ID, fmt.Errorf("egress: could not parse created id: %w", err))
			continue
		}
		remoteIDs[rec.ID] = created.ID
		pushed++
	}

	if len(remoteIDs) > 0 {
		if err := w.rdb.UpdateRemoteIds(ctx, localName, remoteIDs); err != nil {
			return fmt.Errorf("egress: update remote ids for %s: %w", localName, err)
		}
	}

	b.Send(bus.Message{Kind: bus.KindSync, Text: "egress pushed " + localName, Object: localName, Count: pushed})
	return nil
}

func (w *Egress) fail(ctx context.Context, localName string, id int64, err error) {
	if setErr := w.rdb.SetErrorState(ctx, localName, id, err.Error()); setErr != nil {
		_ = setErr // best-effort; the original failure is still the one surfaced
	}
}

// stripBookkeeping returns a copy of rec with bookkeeping columns removed
// and sfid cleared, ready to marshal as a SOR create/update payload.
func stripBookkeeping(rec *record.Record) *record.Record {
	out := &record.Record{ID: rec.ID}
	for _, f := range rec.Fields {
		if bookkeepingColumns[f.Name] {
			continue
		}
		out.Fields = append(out.Fields, f)
	}
	return out
}
