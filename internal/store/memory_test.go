package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

type recorder struct {
	snaps  []store.Snapshot
	errors []error
}

func (r *recorder) listener() store.Listener {
	return store.Listener{
		OnSnapshot: func(s store.Snapshot) { r.snaps = append(r.snaps, s) },
		OnError:    func(err error) { r.errors = append(r.errors, err) },
	}
}

func (r *recorder) last() store.Snapshot {
	return r.snaps[len(r.snaps)-1]
}

func ids(s store.Snapshot) []string {
	out := make([]string, 0, len(s.Children))
	for _, c := range s.Children {
		out = append(out, c.ID)
	}
	return out
}

func newMemory(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory(events.Discard())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMemorySubscribeDeliversInitialSnapshot(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	require.NoError(t, m.Set(ctx, "clinic/patients/a", map[string]string{"name": "Ana"}))

	var rec recorder
	h, err := m.Subscribe(ctx, store.Query{Path: "clinic/patients"}, rec.listener())
	require.NoError(t, err)
	defer h.Close()

	require.Len(t, rec.snaps, 1)
	assert.True(t, rec.last().Exists)
	assert.Equal(t, []string{"a"}, ids(rec.last()))
	assert.JSONEq(t, `{"name":"Ana"}`, string(rec.last().Children[0].Data))
}

func TestMemoryEmptyPath(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	var rec recorder
	_, err := m.Subscribe(ctx, store.Query{Path: "clinic/stock"}, rec.listener())
	require.NoError(t, err)

	require.Len(t, rec.snaps, 1)
	assert.False(t, rec.last().Exists)
	assert.Empty(t, rec.last().Children)
}

func TestMemoryFanOut(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	var parent, child, sibling recorder
	_, err := m.Subscribe(ctx, store.Query{Path: "clinic"}, parent.listener())
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, store.Query{Path: "clinic/patients/a/journal"}, child.listener())
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, store.Query{Path: "clinic/stock"}, sibling.listener())
	require.NoError(t, err)

	_, err = m.Push(ctx, "clinic/patients/a/journal", map[string]string{"text": "oi"})
	require.NoError(t, err)

	assert.Len(t, parent.snaps, 2, "ancestor is notified")
	assert.Len(t, child.snaps, 2, "exact path is notified")
	assert.Len(t, sibling.snaps, 1, "unrelated path is not notified")

	// Writing the whole patients node reaches the journal listener below it.
	require.NoError(t, m.Remove(ctx, "clinic/patients"))
	assert.Len(t, child.snaps, 3)
	assert.False(t, child.last().Exists)
}

func TestMemoryPushOrder(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	var keys []string
	for _, text := range []string{"one", "two", "three"} {
		key, err := m.Push(ctx, "chat", map[string]string{"text": text})
		require.NoError(t, err)
		keys = append(keys, key)
	}

	snap, err := m.Once(ctx, store.Query{Path: "chat"})
	require.NoError(t, err)
	assert.Equal(t, keys, ids(snap))
	assert.Equal(t, int64(3), snap.Seq)
}

func TestMemoryQueries(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	require.NoError(t, m.Set(ctx, "fin", map[string]interface{}{
		"r1": map[string]interface{}{"patientId": "p2", "amount": 30},
		"r2": map[string]interface{}{"patientId": "p1", "amount": 10},
		"r3": map[string]interface{}{"patientId": "p1", "amount": 20},
		"r4": map[string]interface{}{"amount": 5},
	}))

	t.Run("order by child", func(t *testing.T) {
		snap, err := m.Once(ctx, store.Query{Path: "fin", OrderBy: "amount"})
		require.NoError(t, err)
		assert.Equal(t, []string{"r4", "r2", "r3", "r1"}, ids(snap))
	})

	t.Run("missing field sorts first", func(t *testing.T) {
		snap, err := m.Once(ctx, store.Query{Path: "fin", OrderBy: "patientId"})
		require.NoError(t, err)
		assert.Equal(t, []string{"r4", "r2", "r3", "r1"}, ids(snap))
	})

	t.Run("equal to", func(t *testing.T) {
		snap, err := m.Once(ctx, store.Query{Path: "fin", OrderBy: "patientId", EqualTo: "p1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"r2", "r3"}, ids(snap))
	})

	t.Run("limit to last", func(t *testing.T) {
		snap, err := m.Once(ctx, store.Query{Path: "fin", LimitToLast: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"r3", "r4"}, ids(snap))
	})
}

func TestMemoryUpdate(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	require.NoError(t, m.Set(ctx, "fin/r1", map[string]interface{}{
		"status": "Aberto",
		"amount": "100.00",
		"note":   "x",
	}))

	require.NoError(t, m.Update(ctx, "fin/r1", map[string]interface{}{
		"status":       "Recebido",
		"receivedDate": "2024-05-01T10:00:00Z",
		"note":         nil,
		"meta/by":      "dentist",
	}))

	raw, err := m.Get(ctx, "fin/r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status": "Recebido",
		"amount": "100.00",
		"receivedDate": "2024-05-01T10:00:00Z",
		"meta": {"by": "dentist"}
	}`, string(raw))
}

func TestMemoryNumbersKeepText(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	require.NoError(t, m.Set(ctx, "stock/s1", json.RawMessage(`{"cost":12.50,"quantity":3}`)))

	raw, err := m.Get(ctx, "stock/s1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `12.50`)
}

func TestMemoryHandleClose(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	var rec recorder
	h, err := m.Subscribe(ctx, store.Query{Path: "chat"}, rec.listener())
	require.NoError(t, err)
	assert.Equal(t, 1, m.Listeners())

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, 0, m.Listeners())

	_, err = m.Push(ctx, "chat", map[string]string{"text": "late"})
	require.NoError(t, err)
	assert.Len(t, rec.snaps, 1)
}

func TestMemoryWriteFromCallback(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	var seqs []int64
	_, err := m.Subscribe(ctx, store.Query{Path: "stock"}, store.Listener{
		OnSnapshot: func(s store.Snapshot) {
			seqs = append(seqs, s.Seq)
			if s.Seq == 1 {
				// Nested write must not deadlock.
				require.NoError(t, m.Set(ctx, "stock/b", map[string]int{"quantity": 1}))
			}
		},
	})
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "stock/a", map[string]int{"quantity": 2}))
	assert.Equal(t, []int64{0, 1, 2}, seqs)
}

func TestMemoryInterrupt(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	var rec, other recorder
	_, err := m.Subscribe(ctx, store.Query{Path: "a/b"}, rec.listener())
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, store.Query{Path: "c"}, other.listener())
	require.NoError(t, err)

	boom := errors.New("permission revoked")
	m.Interrupt("a", boom)

	require.Len(t, rec.errors, 1)
	assert.ErrorIs(t, rec.errors[0], boom)
	assert.Empty(t, other.errors)
}

func TestMemoryInvalidPath(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	assert.ErrorIs(t, m.Set(ctx, "/", 1), store.ErrInvalidPath)
	assert.ErrorIs(t, m.Remove(ctx, ""), store.ErrInvalidPath)
	_, err := m.Push(ctx, "", 1)
	assert.ErrorIs(t, err, store.ErrInvalidPath)
}

func TestMemoryClosed(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(events.Discard())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Set(ctx, "a", 1), models.ErrClosed)
	_, err := m.Subscribe(ctx, store.Query{Path: "a"}, store.Listener{})
	assert.ErrorIs(t, err, models.ErrClosed)
}

func TestSQLiteJournalReplay(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "store.db")

	journal, err := store.NewSQLiteJournal(dbPath, events.Discard())
	require.NoError(t, err)

	m, err := store.OpenMemory(journal, events.Discard())
	require.NoError(t, err)

	key, err := m.Push(ctx, "patients", map[string]string{"name": "Ana"})
	require.NoError(t, err)
	require.NoError(t, m.Update(ctx, "patients/"+key, map[string]interface{}{"phone": "555"}))
	require.NoError(t, m.Set(ctx, "stock/s1", map[string]int{"quantity": 4}))
	require.NoError(t, m.Remove(ctx, "stock/s1"))

	n, err := journal.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, m.Close())

	// Reopen
	journal, err = store.NewSQLiteJournal(dbPath, events.Discard())
	require.NoError(t, err)
	reopened, err := store.OpenMemory(journal, events.Discard())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, int64(4), reopened.Seq())

	raw, err := reopened.Get(ctx, "patients/"+key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana","phone":"555"}`, string(raw))

	raw, err = reopened.Get(ctx, "stock")
	require.NoError(t, err)
	assert.Nil(t, raw)

	// New writes continue the sequence.
	require.NoError(t, reopened.Set(ctx, "stock/s2", map[string]int{"quantity": 1}))
	assert.Equal(t, int64(5), reopened.Seq())
}
