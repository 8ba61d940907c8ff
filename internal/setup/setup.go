// Package setup implements the stateful provisioning controller: it
// lists catalogs from both SOR and RDB, creates a new mirrored object
// end-to-end, and deletes one, keeping a small in-process cache of the
// last catalog listing so index-based selection is stable across calls.
//
// Grounded directly on the original implementation's sync/setup.rs
// (same cache-then-index-lookup shape, same step order in
// SetupRemoteObject), adapted from its Mutex<SyncObjectCache> to a
// sync.Mutex-guarded struct per the concurrency note in spec.md §9
// ("Cache ownership").
package setup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/dahateb/rust-crm-sync/internal/bus"
	"github.com/dahateb/rust-crm-sync/internal/rdb"
	"github.com/dahateb/rust-crm-sync/internal/sor"
)

// ErrCacheNotReady is returned by index-based operations before the
// corresponding list call has populated the cache.
var ErrCacheNotReady = errors.New("setup: cache not ready, call list first")

// ErrObjectNotFound is returned when index is out of range for the
// cached catalog.
var ErrObjectNotFound = errors.New("setup: object not found at index")

// cache holds the most recent catalog listings. Mutated by list calls,
// read by provisioning/delete calls; protected by mu throughout.
type cache struct {
	mu        sync.Mutex
	sfObjects []sor.CatalogEntry
	dbObjects []rdb.SelectedObject
}

// Setup is the stateful controller wired into the control plane.
type Setup struct {
	sor *sor.Client
	rdb *rdb.Gateway
	cfg sor.Config

	cache cache
}

// New returns a Setup wired to the given SOR client and RDB gateway. cfg
// supplies the api_version used to build request URIs; the instance URL
// comes from the client's login data.
func New(sorClient *sor.Client, gateway *rdb.Gateway, cfg sor.Config) *Setup {
	return &Setup{sor: sorClient, rdb: gateway, cfg: cfg}
}

func (s *Setup) apiPath(rest string) func(instanceURL string) string {
	return func(instanceURL string) string {
		return instanceURL + "/services/data/" + s.cfg.APIVersion + rest
	}
}

// RemoteObjectSummary is one 1-indexed row of a ListRemoteObjects result.
type RemoteObjectSummary struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	Label         string `json:"label"`
	CustomSetting bool   `json:"custom_setting"`
	Createable    bool   `json:"createable"`
	AlreadySynced bool   `json:"already_synced"`
}

// ListRemoteObjects fetches the SOR catalog, filters to mirrorable
// entries, stores the result in the cache, and returns a 1-indexed
// summary of each, calling onEach as each is produced (for callers that
// want to stream output, e.g. the interactive CLI menu).
func (s *Setup) ListRemoteObjects(ctx context.Context, onEach func(RemoteObjectSummary)) ([]RemoteObjectSummary, error) {
	body, err := s.sor.Get(ctx, s.apiPath("/sobjects/"))
	if err != nil {
		return nil, fmt.Errorf("setup: list remote objects: %w", err)
	}
	entries, err := sor.ParseCatalog(body)
	if err != nil {
		return nil, err
	}

	var mirrorable []sor.CatalogEntry
	for _, e := range entries {
		if e.Mirrorable() {
			mirrorable = append(mirrorable, e)
		}
	}

	s.cache.mu.Lock()
	s.cache.sfObjects = mirrorable
	s.cache.mu.Unlock()

	out := make([]RemoteObjectSummary, 0, len(mirrorable))
	for i, e := range mirrorable {
		_, synced, err := s.rdb.GetObjectConfig(ctx, e.Name)
		if err != nil {
			return nil, fmt.Errorf("setup: check already-synced for %s: %w", e.Name, err)
		}
		summary := RemoteObjectSummary{
			Index: i + 1, Name: e.Name, Label: e.Label,
			CustomSetting: e.CustomSetting, Createable: e.Createable, AlreadySynced: synced,
		}
		if onEach != nil {
			onEach(summary)
		}
		out = append(out, summary)
	}
	return out, nil
}

// DbObjectSummary is one 1-indexed row of a ListDbObjects result.
type DbObjectSummary struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	RowCount   int64  `json:"row_count"`
	FieldCount int64  `json:"field_count"`
}

// ListDbObjects returns the mirrored objects from the RDB side, 1-based.
func (s *Setup) ListDbObjects(ctx context.Context, onEach func(DbObjectSummary)) ([]DbObjectSummary, error) {
	objs, err := s.rdb.ListSelectedObjects(ctx, -1)
	if err != nil {
		return nil, fmt.Errorf("setup: list db objects: %w", err)
	}

	s.cache.mu.Lock()
	s.cache.dbObjects = objs
	s.cache.mu.Unlock()

	out := make([]DbObjectSummary, 0, len(objs))
	for i, o := range objs {
		summary := DbObjectSummary{Index: i + 1, Name: o.Name, RowCount: o.RowCount, FieldCount: fieldCountOf(o)}
		if onEach != nil {
			onEach(summary)
		}
		out = append(out, summary)
	}
	return out, nil
}

func fieldCountOf(o rdb.SelectedObject) int64 {
	// Fields is a JSON array; a cheap count without a full unmarshal into
	// typed descriptors, since only the count is needed here.
	count := int64(0)
	depth := 0
	for _, b := range o.Fields {
		switch b {
		case '{':
			if depth == 0 {
				count++
			}
			depth++
		case '}':
			depth--
		}
	}
	return count
}

// RemoteObjectExists reports whether the cached remote object at index is
// already mirrored (has an ObjectConfig in RDB).
func (s *Setup) RemoteObjectExists(ctx context.Context, index int) (bool, error) {
	entry, err := s.cachedSFObject(index)
	if err != nil {
		return false, err
	}
	_, exists, err := s.rdb.GetObjectConfig(ctx, entry.Name)
	if err != nil {
		return false, fmt.Errorf("setup: check object exists: %w", err)
	}
	return exists, nil
}

func (s *Setup) cachedSFObject(index int) (sor.CatalogEntry, error) {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	if s.cache.sfObjects == nil {
		return sor.CatalogEntry{}, ErrCacheNotReady
	}
	if index < 1 || index > len(s.cache.sfObjects) {
		return sor.CatalogEntry{}, ErrObjectNotFound
	}
	return s.cache.sfObjects[index-1], nil
}

func (s *Setup) cachedDBObject(index int) (rdb.SelectedObject, error) {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	if s.cache.dbObjects == nil {
		return rdb.SelectedObject{}, ErrCacheNotReady
	}
	if index < 1 || index > len(s.cache.dbObjects) {
		return rdb.SelectedObject{}, ErrObjectNotFound
	}
	return s.cache.dbObjects[index-1], nil
}

// SetupRemoteObject provisions a cached remote object end-to-end: it
// describes the object, creates and registers its MirrorTable, optionally
// installs the change trigger, then paginates the full back-fill,
// notifying notify after each page with the cumulative row count.
func (s *Setup) SetupRemoteObject(ctx context.Context, index int, installTrigger bool, notify func(bus.Message)) error {
	if notify == nil {
		notify = func(bus.Message) {}
	}
	entry, err := s.cachedSFObject(index)
	if err != nil {
		return err
	}

	describeBody, err := s.sor.Get(ctx, s.apiPath("/sobjects/"+entry.Name+"/describe"))
	if err != nil {
		notify(bus.Message{Kind: bus.KindSetup, Text: "describe failed: " + err.Error(), Object: entry.Name})
		return fmt.Errorf("setup: describe %s: %w", entry.Name, err)
	}
	desc, err := sor.ParseDescribe(describeBody)
	if err != nil {
		notify(bus.Message{Kind: bus.KindSetup, Text: err.Error(), Object: entry.Name})
		return err
	}

	localName := strings.ToLower(desc.Name)
	if err := s.rdb.CreateObjectTable(ctx, localName, desc.Fields); err != nil {
		notify(bus.Message{Kind: bus.KindSetup, Text: "create table failed: " + err.Error(), Object: entry.Name})
		return err
	}

	objConfig, err := s.rdb.SaveObjectConfig(ctx, desc)
	if err != nil {
		notify(bus.Message{Kind: bus.KindSetup, Text: "save config failed: " + err.Error(), Object: entry.Name})
		return fmt.Errorf("setup: save object config: %w", err)
	}

	if installTrigger {
		if err := s.rdb.AddChangeTrigger(ctx, localName); err != nil {
			notify(bus.Message{Kind: bus.KindSetup, Text: "add trigger failed: " + err.Error(), Object: entry.Name})
			return err
		}
	}

	fieldNames := make([]string, 0, len(desc.Fields))
	for _, f := range desc.Fields {
		fieldNames = append(fieldNames, f.Name)
	}
	soql := "SELECT " + strings.Join(fieldNames, ",") + " FROM " + desc.Name
	query := url.Values{}
	query.Set("q", soql)
	nextURI := "/query/?" + query.Encode()

	rowCount := 0
	first := true
	for nextURI != "" {
		var body string
		if first {
			body, err = s.sor.Get(ctx, s.apiPath(nextURI))
			first = false
		} else {
			uri := nextURI
			body, err = s.sor.Get(ctx, func(instanceURL string) string { return instanceURL + uri })
		}
		if err != nil {
			notify(bus.Message{Kind: bus.KindSetup, Text: "backfill failed: " + err.Error(), Object: entry.Name, Count: rowCount})
			return fmt.Errorf("setup: backfill %s: %w", entry.Name, err)
		}

		batch, err := sor.ParsePullBatch(desc.Name, body, desc.Fields)
		if err != nil {
			return err
		}
		n, err := s.rdb.InsertRows(ctx, localName, batch.Rows)
		if err != nil {
			notify(bus.Message{Kind: bus.KindSetup, Text: "insert rows failed: " + err.Error(), Object: entry.Name, Count: rowCount})
			return err
		}
		rowCount += n
		notify(bus.Message{Kind: bus.KindSetup, Text: "backfilling " + entry.Name, Object: entry.Name, Count: rowCount})

		if batch.Done || batch.NextURL == "" {
			break
		}
		nextURI = batch.NextURL
	}

	if err := s.rdb.UpdateLastSyncTime(ctx, objConfig.ID); err != nil {
		return fmt.Errorf("setup: update last sync time: %w", err)
	}

	notify(bus.Message{Kind: bus.KindSetup, Text: "provisioned " + entry.Name, Object: entry.Name, Count: rowCount})
	return nil
}

// DeleteDbObject drops the cached DB object's MirrorTable and config row.
func (s *Setup) DeleteDbObject(ctx context.Context, index int) (string, error) {
	obj, err := s.cachedDBObject(index)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Destroy(ctx, obj.ID, obj.Name); err != nil {
		return "", fmt.Errorf("setup: destroy %s: %w", obj.Name, err)
	}
	return obj.Name, nil
}
