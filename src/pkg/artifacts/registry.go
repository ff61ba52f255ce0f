// Package artifacts holds the registry of processed images waiting to be
// fetched. The registry decides when each artifact dies: its expiry timer,
// a failed lookup on a vanished file, or an explicit Remove.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/q-controller/imgrelay/src/pkg/artifacts/ledger"
	"github.com/q-controller/imgrelay/src/pkg/events"
	"github.com/q-controller/imgrelay/src/pkg/metrics"
	"github.com/q-controller/imgrelay/src/pkg/utils"
)

const (
	ReasonRemoved  = "removed"
	ReasonExpired  = "expired"
	ReasonStale    = "stale"
	ReasonVanished = "vanished"
	ReasonUnknown  = "unknown"
)

// Deleter removes a file on a best-effort basis and reports nothing.
type Deleter interface {
	DeleteOne(path string)
}

type Config struct {
	Clock   clockwork.Clock
	Ledger  ledger.Ledger
	Deleter Deleter
	Events  *events.Publisher
	Metrics *metrics.Registry
	Logger  *slog.Logger
	// NewID mints identifiers. Defaults to random UUIDv4 strings.
	NewID func() string
}

type entry struct {
	record Record
	timer  clockwork.Timer
}

type Registry struct {
	clock   clockwork.Clock
	ledger  ledger.Ledger
	deleter Deleter
	events  *events.Publisher
	metrics *metrics.Registry
	logger  *slog.Logger
	newID   func() string

	mu         sync.Mutex
	entries    map[string]*entry
	byLocation map[string]string
	// reserved holds ids handed out by Register whose ledger write is
	// still in flight.
	reserved map[string]struct{}
	stopped  bool

	deletions sync.WaitGroup
}

func New(config Config) *Registry {
	r := &Registry{
		clock:      config.Clock,
		ledger:     config.Ledger,
		deleter:    config.Deleter,
		events:     config.Events,
		metrics:    config.Metrics,
		logger:     config.Logger,
		newID:      config.NewID,
		entries:    make(map[string]*entry),
		byLocation: make(map[string]string),
		reserved:   make(map[string]struct{}),
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.deleter == nil {
		r.deleter = removeDeleter{logger: r.logger}
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

type removeDeleter struct {
	logger *slog.Logger
}

func (d removeDeleter) DeleteOne(path string) {
	if err := utils.RemoveIfExists(path); err != nil {
		d.logger.Warn("Could not delete file", "path", path, "error", err)
	}
}

func normalize(location string) string {
	if abs, err := filepath.Abs(location); err == nil {
		return abs
	}
	return filepath.Clean(location)
}

// Register stores location under a fresh identifier. The only failure is
// the ledger refusing the entry, reported as ErrRegistrationFailed; the
// caller still owns the file in that case. The ledger write happens
// outside the registry lock.
func (r *Registry) Register(location string) (string, error) {
	location = normalize(location)

	r.mu.Lock()
	id := r.newID()
	for r.taken(id) {
		id = r.newID()
	}
	r.reserved[id] = struct{}{}
	record := Record{ID: id, Location: location, RegisteredAt: r.clock.Now()}
	r.mu.Unlock()

	if r.ledger != nil {
		if putErr := r.ledger.Put(ledger.Entry{
			ArtifactID:   id,
			Location:     location,
			RegisteredAt: record.RegisteredAt,
		}); putErr != nil {
			r.mu.Lock()
			delete(r.reserved, id)
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %w", ErrRegistrationFailed, putErr)
		}
	}

	r.mu.Lock()
	delete(r.reserved, id)
	r.entries[id] = &entry{record: record}
	r.byLocation[location] = id
	r.mu.Unlock()

	r.logger.Debug("Artifact registered", "artifact_id", id, "location", location)
	r.metrics.Inc(context.Background(), metrics.ArtifactsRegistered, nil)
	r.publish(events.Registered, id, "")
	return id, nil
}

func (r *Registry) taken(id string) bool {
	_, pending := r.reserved[id]
	return pending || r.entries[id] != nil
}

// Resolve returns the record for id or ErrNotFound. A record whose file
// has disappeared is purged and also reported as ErrNotFound.
func (r *Registry) Resolve(id string) (Record, error) {
	r.mu.Lock()
	e := r.entries[id]
	var record Record
	if e != nil {
		record = e.record
	}
	r.mu.Unlock()

	if e == nil {
		r.logger.Debug("Artifact lookup missed", "artifact_id", id)
		r.metrics.Inc(context.Background(), metrics.ArtifactsNotFound, map[string]string{"reason": ReasonUnknown})
		return Record{}, ErrNotFound
	}

	exists, statErr := utils.FileExists(record.Location)
	if statErr != nil {
		return Record{}, fmt.Errorf("failed to check artifact file: %w", statErr)
	}
	if !exists {
		r.logger.Info("Artifact file vanished, purging record", "artifact_id", id)
		r.metrics.Inc(context.Background(), metrics.ArtifactsNotFound, map[string]string{"reason": ReasonStale})
		r.remove(id, e, ReasonStale, events.Purged)
		return Record{}, ErrNotFound
	}
	return record, nil
}

// Lookup returns a copy of the record without touching the filesystem.
func (r *Registry) Lookup(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[id]; e != nil {
		return e.record, true
	}
	return Record{}, false
}

// MarkServed stamps the first successful serve and arms the expiry timer.
// It returns false, without re-arming, if id was already served or is
// unknown.
func (r *Registry) MarkServed(id string, ttl time.Duration) bool {
	r.mu.Lock()
	e := r.entries[id]
	if e == nil || e.record.Served() || r.stopped {
		r.mu.Unlock()
		return false
	}
	e.record.ServedAt = r.clock.Now()
	r.mu.Unlock()

	r.metrics.Inc(context.Background(), metrics.ArtifactsServed, nil)
	r.publish(events.Served, id, "")

	// Armed outside the lock; the callback takes it.
	timer := r.clock.AfterFunc(ttl, func() { r.remove(id, nil, ReasonExpired, events.Removed) })

	r.mu.Lock()
	if r.entries[id] == e && !r.stopped {
		e.timer = timer
		timer = nil
	}
	r.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	r.logger.Debug("Artifact served for the first time", "artifact_id", id, "ttl", ttl)
	return true
}

// Remove forgets id and deletes its file in the background. Unknown ids
// are ignored.
func (r *Registry) Remove(id string) {
	r.remove(id, nil, ReasonRemoved, events.Removed)
}

// Purge forgets id because its file is already gone.
func (r *Registry) Purge(id string) {
	r.remove(id, nil, ReasonStale, events.Purged)
}

// PurgeLocation forgets the record backed by path, if any.
func (r *Registry) PurgeLocation(path string) bool {
	path = normalize(path)
	r.mu.Lock()
	id, ok := r.byLocation[path]
	var e *entry
	if ok {
		e = r.entries[id]
	}
	r.mu.Unlock()
	if e == nil {
		return false
	}
	return r.remove(id, e, ReasonVanished, events.Purged)
}

// remove deletes the entry for id. When expected is set, the entry is only
// removed if it is still that exact entry.
func (r *Registry) remove(id string, expected *entry, reason string, eventType events.Type) bool {
	r.mu.Lock()
	e := r.entries[id]
	if e == nil || (expected != nil && e != expected) {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	if r.byLocation[e.record.Location] == id {
		delete(r.byLocation, e.record.Location)
	}
	timer := e.timer
	e.timer = nil
	background := !r.stopped
	if background {
		r.deletions.Add(1)
	}
	r.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}

	if r.ledger != nil {
		if delErr := r.ledger.Delete(id); delErr != nil {
			r.logger.Warn("Failed to delete ledger entry", "artifact_id", id, "error", delErr)
		}
	}

	if background {
		go func(location string) {
			defer r.deletions.Done()
			r.deleter.DeleteOne(location)
		}(e.record.Location)
	} else {
		r.deleter.DeleteOne(e.record.Location)
	}

	r.logger.Info("Artifact removed", "artifact_id", id, "reason", reason)
	r.metrics.Inc(context.Background(), metrics.ArtifactsRemoved, map[string]string{"reason": reason})
	r.publish(eventType, id, reason)
	return true
}

// List returns a snapshot of the registered identifiers in no particular
// order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Start deletes the files of ledger entries left behind by a previous
// process and clears those entries. It returns how many were reclaimed.
func (r *Registry) Start() (int, error) {
	if r.ledger == nil {
		return 0, nil
	}
	leftovers, listErr := r.ledger.List()
	if listErr != nil {
		return 0, fmt.Errorf("failed to list ledger: %w", listErr)
	}

	reclaimed := 0
	var errs []error
	for _, leftover := range leftovers {
		if _, live := r.Lookup(leftover.ArtifactID); live {
			continue
		}
		r.deleter.DeleteOne(leftover.Location)
		if delErr := r.ledger.Delete(leftover.ArtifactID); delErr != nil {
			errs = append(errs, delErr)
			continue
		}
		reclaimed++
	}
	if reclaimed > 0 {
		r.logger.Info("Reclaimed artifacts from previous run", "count", reclaimed)
	}
	return reclaimed, errors.Join(errs...)
}

// Stop cancels every pending expiry timer and waits for background file
// deletions. Records stay registered; a stopped registry arms no new
// timers.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	var timers []clockwork.Timer
	for _, e := range r.entries {
		if e.timer != nil {
			timers = append(timers, e.timer)
			e.timer = nil
		}
	}
	r.mu.Unlock()

	for _, timer := range timers {
		timer.Stop()
	}
	r.deletions.Wait()
}

func (r *Registry) publish(eventType events.Type, id, reason string) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(events.Event{
		Type:       eventType,
		ArtifactID: id,
		Reason:     reason,
		Timestamp:  r.clock.Now(),
	}); err != nil && !errors.Is(err, events.ErrClosed) {
		r.logger.Debug("Artifact event dropped", "artifact_id", id, "error", err)
	}
}
