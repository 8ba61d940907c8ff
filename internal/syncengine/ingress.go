package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dahateb/rust-crm-sync/internal/bus"
	"github.com/dahateb/rust-crm-sync/internal/rdb"
	"github.com/dahateb/rust-crm-sync/internal/sor"
)

// Ingress pulls changed remote rows into the RDB, per spec.md §4.7. It
// holds no per-object state between ticks: everything it needs comes from
// the config.objects rows the RDB gateway reports as stale.
type Ingress struct {
	sor     *sor.Client
	rdb     *rdb.Gateway
	cfg     sor.Config
	timeout time.Duration

	running atomic.Bool
}

// NewIngress returns an Ingress worker. timeout bounds a single Execute
// call (one tick) via context.WithTimeout in the Supervisor.
func NewIngress(sorClient *sor.Client, gateway *rdb.Gateway, cfg sor.Config, timeout time.Duration) *Ingress {
	return &Ingress{sor: sorClient, rdb: gateway, cfg: cfg, timeout: timeout}
}

func (w *Ingress) Start(ctx context.Context) error {
	w.running.Store(true)
	return nil
}

func (w *Ingress) Stop(ctx context.Context) error {
	w.running.Store(false)
	return nil
}

func (w *Ingress) IsRunning() bool       { return w.running.Load() }
func (w *Ingress) Timeout() time.Duration { return w.timeout }

// Execute pulls every ObjectConfig older than one minute. A failure on one
// object is reported to the bus and does not stop the others, per §7's
// "current object skipped for this tick" policy.
func (w *Ingress) Execute(ctx context.Context, b *bus.Bus) error {
	objs, err := w.rdb.ListSelectedObjects(ctx, 1)
	if err != nil {
		b.Send(bus.Message{Kind: bus.KindSync, Text: "ingress: list selected objects failed: " + err.Error()})
		return err
	}

	for _, obj := range objs {
		if err := w.syncOne(ctx, obj, b); err != nil {
			b.Send(bus.Message{Kind: bus.KindSync, Text: "ingress failed: " + err.Error(), Object: obj.Name})
		}
	}
	return nil
}

func (w *Ingress) syncOne(ctx context.Context, obj rdb.SelectedObject, b *bus.Bus) error {
	var fields []sor.RemoteFieldDescriptor
	if err := json.Unmarshal(obj.Fields, &fields); err != nil {
		return fmt.Errorf("ingress: unmarshal fields for %s: %w", obj.Name, err)
	}
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}

	cutoff := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	soql := "SELECT " + strings.Join(names, ",") + " FROM " + obj.Name + " WHERE lastmodifieddate > " + cutoff
	q := url.Values{}
	q.Set("q", soql)
	nextURI := "/query/?" + q.Encode()

	rowCount := 0
	first := true
	for nextURI != "" {
		var body string
		var err error
		if first {
			body, err = w.sor.Get(ctx, apiPath(w.cfg, nextURI))
		} else {
			uri := nextURI
			body, err = w.sor.Get(ctx, func(instanceURL string) string { return instanceURL + uri })
		}
		if err != nil {
			return fmt.Errorf("ingress: pull %s: %w", obj.Name, err)
		}

		batch, err := sor.ParsePullBatch(obj.Name, body, fields)
		if err != nil {
			return err
		}

		var n int
		if first {
			n, err = w.rdb.UpsertRows(ctx, obj.DbName, batch.Rows)
		} else {
			n, err = w.rdb.InsertRows(ctx, obj.DbName, batch.Rows)
		}
		if err != nil {
			return fmt.Errorf("ingress: write %s: %w", obj.Name, err)
		}
		rowCount += n
		first = false

		b.Send(bus.Message{Kind: bus.KindSync, Text: "ingress " + obj.Name, Object: obj.Name, Count: rowCount})

		if batch.Done || batch.NextURL == "" {
			break
		}
		nextURI = batch.NextURL

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if err := w.rdb.UpdateLastSyncTime(ctx, obj.ID); err != nil {
		return fmt.Errorf("ingress: update last sync time for %s: %w", obj.Name, err)
	}
	return nil
}
