// Package livesync keeps named collections in step with the remote store.
//
// Every snapshot replaces the whole local list for its collection, then the
// aggregates fed by that collection are recomputed, then the collection and
// each recomputed aggregate are rendered if their view is mounted. Local
// lists are never patched in place.
package livesync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

// ViewState answers whether the view showing a collection or aggregate is
// currently on screen.
type ViewState interface {
	Mounted(name string) bool
}

// Renderer draws collections and aggregates.
type Renderer interface {
	RenderCollection(name string, records []models.Record)
	RenderAggregate(name string, value interface{})
}

// Lists reads the current list of a collection.
type Lists func(name string) []models.Record

// Aggregate is a value derived from one or more collections.
type Aggregate struct {
	Name    string
	Sources []string
	Compute func(Lists) (interface{}, error)
}

func (a Aggregate) dependsOn(name string) bool {
	for _, s := range a.Sources {
		if s == name {
			return true
		}
	}
	return false
}

// EventType classifies engine events.
type EventType string

const (
	EventSnapshot  EventType = "snapshot"
	EventStalled   EventType = "stalled"
	EventRecovered EventType = "recovered"
	EventDetached  EventType = "detached"
)

// Event reports a change in one collection's delivery.
type Event struct {
	Type  EventType
	Name  string
	Seq   int64
	Count int
	Err   error
	At    time.Time
}

// Options configure an Engine.
type Options struct {
	View       ViewState
	Renderer   Renderer
	Aggregates []Aggregate
	// EventBuffer sizes the Events channel. Events are dropped when it is full.
	EventBuffer int
}

type subscription struct {
	name    string
	query   store.Query
	handle  store.Handle
	lastSeq int64
	// detached is set once; callbacks for a detached subscription are dropped.
	detached bool
}

// Engine owns the local collection lists.
type Engine struct {
	store  store.Store
	view   ViewState
	render Renderer
	logger *events.Logger

	aggregates []Aggregate

	// cbMu serializes snapshot handling across collections.
	cbMu sync.Mutex

	mu       sync.Mutex
	subs     map[string]*subscription
	lists    map[string][]models.Record
	statuses map[string]*models.CollectionStatus
	values   map[string]interface{}
	closed   bool
	events   chan Event
}

// NewEngine creates an engine over st. View and Renderer may be nil.
func NewEngine(st store.Store, opts Options, logger *events.Logger) *Engine {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 100
	}

	return &Engine{
		store:      st,
		view:       opts.View,
		render:     opts.Renderer,
		logger:     logger.WithField("component", "livesync"),
		aggregates: opts.Aggregates,
		subs:       make(map[string]*subscription),
		lists:      make(map[string][]models.Record),
		statuses:   make(map[string]*models.CollectionStatus),
		values:     make(map[string]interface{}),
		events:     make(chan Event, opts.EventBuffer),
	}
}

// Handle identifies one subscription of a named collection.
type Handle struct {
	engine *Engine
	sub    *subscription
}

// Name returns the collection name.
func (h *Handle) Name() string {
	return h.sub.name
}

// Close is Unsubscribe.
func (h *Handle) Close() error {
	return h.engine.Unsubscribe(h)
}

// Subscribe attaches name to q. An active subscription with the same name
// is detached first, so its late snapshots never reach the new list.
func (e *Engine) Subscribe(ctx context.Context, name string, q store.Query) (*Handle, error) {
	sub := &subscription{name: name, query: q, lastSeq: -1}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, models.ErrClosed
	}
	old := e.subs[name]
	e.subs[name] = sub
	delete(e.lists, name)
	e.statuses[name] = models.NewCollectionStatus(name, q.Path)
	e.mu.Unlock()

	if old != nil {
		e.logger.WithFields(map[string]interface{}{
			"collection": name,
			"old_path":   old.query.Path,
			"new_path":   q.Path,
		}).Debug("Replacing subscription")
		e.release(old)
	}

	// The store may deliver the first snapshot before Subscribe returns.
	h, err := e.store.Subscribe(ctx, q, store.Listener{
		OnSnapshot: func(s store.Snapshot) { e.onSnapshot(sub, s) },
		OnError:    func(err error) { e.onError(sub, err) },
	})
	if err != nil {
		e.mu.Lock()
		sub.detached = true
		if e.subs[name] == sub {
			delete(e.subs, name)
			delete(e.statuses, name)
		}
		e.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	e.mu.Lock()
	if sub.detached {
		// Replaced or unsubscribed while attaching.
		e.mu.Unlock()
		h.Close()
		return &Handle{engine: e, sub: sub}, nil
	}
	sub.handle = h
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"collection": name,
		"path":       q.Path,
	}).Info("Collection subscribed")

	return &Handle{engine: e, sub: sub}, nil
}

// Unsubscribe detaches h. The collection's list is dropped if h is still
// the active subscription for its name.
func (e *Engine) Unsubscribe(h *Handle) error {
	if h == nil {
		return nil
	}

	e.mu.Lock()
	if e.subs[h.sub.name] == h.sub {
		delete(e.subs, h.sub.name)
		delete(e.lists, h.sub.name)
		delete(e.statuses, h.sub.name)
	}
	e.mu.Unlock()

	return e.release(h.sub)
}

// release marks sub detached and closes its store handle.
func (e *Engine) release(sub *subscription) error {
	e.mu.Lock()
	if sub.detached {
		e.mu.Unlock()
		return nil
	}
	sub.detached = true
	h := sub.handle
	e.emit(Event{Type: EventDetached, Name: sub.name, At: time.Now()})
	e.mu.Unlock()

	e.logger.WithField("collection", sub.name).Debug("Subscription detached")

	if h == nil {
		return nil
	}
	return h.Close()
}

func (e *Engine) onSnapshot(sub *subscription, snap store.Snapshot) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()

	e.mu.Lock()
	if sub.detached || e.subs[sub.name] != sub {
		e.mu.Unlock()
		e.logger.WithField("collection", sub.name).Debug("Dropping snapshot for detached subscription")
		return
	}
	if snap.Seq < sub.lastSeq {
		e.mu.Unlock()
		e.logger.WithFields(map[string]interface{}{
			"collection": sub.name,
			"seq":        snap.Seq,
			"last_seq":   sub.lastSeq,
		}).Debug("Dropping stale snapshot")
		return
	}
	sub.lastSeq = snap.Seq

	// Whole-list swap.
	list := make([]models.Record, len(snap.Children))
	copy(list, snap.Children)
	e.lists[sub.name] = list

	status := e.statuses[sub.name]
	wasStalled := status.Stalled
	status.Delivered(snap.Seq, len(list), time.Now())

	type computed struct {
		name  string
		value interface{}
	}
	var changed []computed
	read := func(name string) []models.Record { return e.lists[name] }
	for _, agg := range e.aggregates {
		if !agg.dependsOn(sub.name) {
			continue
		}
		v, err := agg.Compute(read)
		if err != nil {
			e.logger.WithError(err).WithField("aggregate", agg.Name).Warn("Aggregate not recomputed")
			continue
		}
		e.values[agg.Name] = v
		changed = append(changed, computed{agg.Name, v})
	}

	if wasStalled {
		e.emit(Event{Type: EventRecovered, Name: sub.name, Seq: snap.Seq, Count: len(list), At: time.Now()})
	}
	e.emit(Event{Type: EventSnapshot, Name: sub.name, Seq: snap.Seq, Count: len(list), At: time.Now()})
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"collection": sub.name,
		"seq":        snap.Seq,
		"count":      len(list),
	}).Debug("Snapshot applied")

	if e.render == nil || e.view == nil {
		return
	}
	if e.view.Mounted(sub.name) {
		e.render.RenderCollection(sub.name, list)
	}
	for _, c := range changed {
		if e.view.Mounted(c.name) {
			e.render.RenderAggregate(c.name, c.value)
		}
	}
}

// Redraw renders the current list or aggregate value of every mounted name.
// It holds the snapshot lock, so a snapshot is either drawn before it or
// drawn over it, never replaced by an older list.
func (e *Engine) Redraw(names ...string) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()

	if e.render == nil || e.view == nil {
		return
	}
	for _, name := range names {
		if !e.view.Mounted(name) {
			continue
		}
		e.mu.Lock()
		closed := e.closed
		list, isList := e.lists[name]
		value, isValue := e.values[name]
		e.mu.Unlock()

		switch {
		case closed:
			return
		case isList:
			e.render.RenderCollection(name, list)
		case isValue:
			e.render.RenderAggregate(name, value)
		}
	}
}

func (e *Engine) onError(sub *subscription, err error) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if sub.detached || e.subs[sub.name] != sub {
		return
	}

	status := e.statuses[sub.name]
	status.SetError(err)

	e.logger.WithError(err).WithFields(map[string]interface{}{
		"collection":    sub.name,
		"last_snapshot": status.LastSnapshot,
	}).Warn("Collection stalled")

	e.emit(Event{Type: EventStalled, Name: sub.name, Seq: status.Seq, Err: err, At: time.Now()})
}

// emit sends without blocking. Caller holds mu.
func (e *Engine) emit(ev Event) {
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.logger.WithField("event", ev.Type).Debug("Event buffer full, dropping event")
	}
}

// Events returns engine events. The channel is closed by Close.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Snapshot returns a copy of the current list for name. It is nil when no
// snapshot has arrived.
func (e *Engine) Snapshot(name string) []models.Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	list, ok := e.lists[name]
	if !ok {
		return nil
	}
	out := make([]models.Record, len(list))
	copy(out, list)
	return out
}

// Value returns the last computed value of an aggregate.
func (e *Engine) Value(aggregate string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.values[aggregate]
	return v, ok
}

// Status returns the delivery state of a subscribed collection.
func (e *Engine) Status(name string) (models.CollectionStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	status, ok := e.statuses[name]
	if !ok {
		return models.CollectionStatus{}, fmt.Errorf("%w: %s", models.ErrUnknownCollection, name)
	}
	return status.Clone(), nil
}

// Statuses returns every subscribed collection's state, by name.
func (e *Engine) Statuses() []models.CollectionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.CollectionStatus, 0, len(e.statuses))
	for _, s := range e.statuses {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Active reports whether name has an attached subscription.
func (e *Engine) Active(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.subs[name]
	return ok
}

// Close detaches every subscription and closes Events.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	subs := make([]*subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.subs = make(map[string]*subscription)
	e.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := e.release(s); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.mu.Lock()
	e.closed = true
	close(e.events)
	e.mu.Unlock()

	e.logger.WithField("collections", len(subs)).Info("Sync engine closed")
	return firstErr
}
