package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// Journal persists writes so a Memory can be rebuilt.
type Journal interface {
	Append(w Write) error
	Replay(fn func(Write) error) error
	Close() error
}

type memListener struct {
	id     int64
	query  Query
	segs   []string
	l      Listener
	closed bool
}

type delivery struct {
	lst  *memListener
	snap Snapshot
	err  error
}

// Memory is an in-process Store. Writes are applied in order and every
// listener whose path is an ancestor or descendant of the written path
// receives a fresh snapshot before the write call returns.
type Memory struct {
	logger  *events.Logger
	journal Journal

	mu        sync.Mutex
	tree      *tree
	seq       int64
	nextID    int64
	listeners map[int64]*memListener
	closed    bool

	// Delivery queue; drained by whichever caller holds draining.
	qmu      sync.Mutex
	queue    []delivery
	draining bool
}

// NewMemory creates an empty store.
func NewMemory(logger *events.Logger) *Memory {
	return &Memory{
		logger:    logger.WithField("component", "memory_store"),
		tree:      newTree(),
		listeners: make(map[int64]*memListener),
	}
}

// OpenMemory rebuilds a store from a journal and keeps appending to it.
func OpenMemory(journal Journal, logger *events.Logger) (*Memory, error) {
	m := NewMemory(logger)

	replayed := 0
	err := journal.Replay(func(w Write) error {
		if err := m.tree.apply(w); err != nil {
			return fmt.Errorf("replay write %d: %w", w.Seq, err)
		}
		if w.Seq > m.seq {
			m.seq = w.Seq
		}
		replayed++
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.journal = journal
	m.logger.WithFields(map[string]interface{}{
		"writes": replayed,
		"seq":    m.seq,
	}).Info("Store replayed from journal")

	return m, nil
}

// Seq returns the sequence number of the last applied write.
func (m *Memory) Seq() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, models.ErrClosed
	}

	node, ok := m.tree.get(models.SplitPath(path))
	if !ok {
		return nil, nil
	}
	return json.Marshal(node)
}

// Once implements Store.
func (m *Memory) Once(_ context.Context, q Query) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Snapshot{}, models.ErrClosed
	}
	return m.tree.snapshot(q, m.seq)
}

// Push implements Store.
func (m *Memory) Push(ctx context.Context, path string, value interface{}) (string, error) {
	if len(models.SplitPath(path)) == 0 {
		return "", ErrInvalidPath
	}
	key := NewKey()
	if err := m.Set(ctx, models.JoinPath(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, path string, value interface{}) error {
	if len(models.SplitPath(path)) == 0 {
		return ErrInvalidPath
	}
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	return m.write(Write{Op: OpSet, Path: path, Value: raw})
}

// Update implements Store.
func (m *Memory) Update(_ context.Context, path string, fields map[string]interface{}) error {
	if len(models.SplitPath(path)) == 0 {
		return ErrInvalidPath
	}
	if len(fields) == 0 {
		return nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	return m.write(Write{Op: OpUpdate, Path: path, Value: raw})
}

// Remove implements Store.
func (m *Memory) Remove(_ context.Context, path string) error {
	if len(models.SplitPath(path)) == 0 {
		return ErrInvalidPath
	}
	return m.write(Write{Op: OpRemove, Path: path})
}

// Apply performs an already-encoded write. The devserver uses it to
// forward REST writes.
func (m *Memory) Apply(w Write) error {
	if len(models.SplitPath(w.Path)) == 0 {
		return ErrInvalidPath
	}
	return m.write(w)
}

func (m *Memory) write(w Write) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return models.ErrClosed
	}

	w.Seq = m.seq + 1
	w.At = time.Now().UTC()

	if m.journal != nil {
		if err := m.journal.Append(w); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("journal write: %w", err)
		}
	}

	if err := m.tree.apply(w); err != nil {
		m.mu.Unlock()
		return err
	}
	m.seq = w.Seq

	m.logger.WithFields(map[string]interface{}{
		"op":   w.Op,
		"path": w.Path,
		"seq":  w.Seq,
	}).Debug("Applied write")

	pending := m.collect(models.SplitPath(w.Path))
	m.mu.Unlock()

	m.enqueue(pending...)
	m.drain()
	return nil
}

// collect builds snapshots for every listener related to segs. Caller holds mu.
func (m *Memory) collect(segs []string) []delivery {
	ids := make([]int64, 0, len(m.listeners))
	for id, lst := range m.listeners {
		if related(lst.segs, segs) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]delivery, 0, len(ids))
	for _, id := range ids {
		lst := m.listeners[id]
		snap, err := m.tree.snapshot(lst.query, m.seq)
		if err != nil {
			out = append(out, delivery{lst: lst, err: err})
			continue
		}
		out = append(out, delivery{lst: lst, snap: snap})
	}
	return out
}

// Subscribe implements Store. The initial snapshot is delivered before
// Subscribe returns unless another delivery is already in progress on
// this goroutine's call chain, in which case it follows that one.
func (m *Memory) Subscribe(_ context.Context, q Query, l Listener) (Handle, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil, models.ErrClosed
	}

	m.nextID++
	lst := &memListener{
		id:    m.nextID,
		query: q,
		segs:  models.SplitPath(q.Path),
		l:     l,
	}
	m.listeners[lst.id] = lst

	snap, err := m.tree.snapshot(q, m.seq)
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"listener": lst.id,
		"path":     q.Path,
	}).Debug("Listener attached")

	if err != nil {
		m.enqueue(delivery{lst: lst, err: err})
	} else {
		m.enqueue(delivery{lst: lst, snap: snap})
	}
	m.drain()

	return &memHandle{m: m, lst: lst}, nil
}

// Interrupt reports err to every listener under path, as a dropped
// connection would.
func (m *Memory) Interrupt(path string, err error) {
	m.mu.Lock()
	segs := models.SplitPath(path)
	var pending []delivery
	ids := make([]int64, 0, len(m.listeners))
	for id, lst := range m.listeners {
		if related(lst.segs, segs) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		pending = append(pending, delivery{lst: m.listeners[id], err: err})
	}
	m.mu.Unlock()

	m.enqueue(pending...)
	m.drain()
}

// Listeners returns the number of attached listeners.
func (m *Memory) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *Memory) enqueue(ds ...delivery) {
	if len(ds) == 0 {
		return
	}
	m.qmu.Lock()
	m.queue = append(m.queue, ds...)
	m.qmu.Unlock()
}

// drain delivers queued callbacks. A write issued from inside a callback
// only enqueues; the outer drain delivers it afterwards.
func (m *Memory) drain() {
	m.qmu.Lock()
	if m.draining {
		m.qmu.Unlock()
		return
	}
	m.draining = true

	for len(m.queue) > 0 {
		d := m.queue[0]
		m.queue = m.queue[1:]
		m.qmu.Unlock()

		m.deliver(d)

		m.qmu.Lock()
	}

	m.draining = false
	m.qmu.Unlock()
}

func (m *Memory) deliver(d delivery) {
	m.mu.Lock()
	closed := d.lst.closed
	m.mu.Unlock()
	if closed {
		return
	}

	if d.err != nil {
		if d.lst.l.OnError != nil {
			d.lst.l.OnError(d.err)
		}
		return
	}
	if d.lst.l.OnSnapshot != nil {
		d.lst.l.OnSnapshot(d.snap)
	}
}

func (m *Memory) detach(lst *memListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lst.closed {
		return
	}
	lst.closed = true
	delete(m.listeners, lst.id)

	m.logger.WithField("listener", lst.id).Debug("Listener detached")
}

// Close detaches all listeners and closes the journal.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for id, lst := range m.listeners {
		lst.closed = true
		delete(m.listeners, id)
	}
	journal := m.journal
	m.mu.Unlock()

	if journal != nil {
		return journal.Close()
	}
	return nil
}

type memHandle struct {
	m   *Memory
	lst *memListener
}

func (h *memHandle) Close() error {
	h.m.detach(h.lst)
	return nil
}

var _ Store = (*Memory)(nil)
