// Package testutil starts a local store emulator and records what the
// console would draw, for tests that cross package boundaries.
package testutil

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/clinicdesk/internal/blob"
	"github.com/TheMichaelB/clinicdesk/internal/completion"
	"github.com/TheMichaelB/clinicdesk/internal/config"
	"github.com/TheMichaelB/clinicdesk/internal/devserver"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

// Devstore is a running store emulator journaling to SQLite.
type Devstore struct {
	URL    string
	Memory *store.Memory
	Server *devserver.Server
}

// StartDevstore serves a fresh emulator until the test ends.
func StartDevstore(t *testing.T) *Devstore {
	t.Helper()
	dir := t.TempDir()
	logger := events.Discard()

	journal, err := store.NewSQLiteJournal(filepath.Join(dir, "store.db"), logger)
	require.NoError(t, err)
	mem, err := store.OpenMemory(journal, logger)
	require.NoError(t, err)

	files, err := blob.NewLocalStore(filepath.Join(dir, "uploads"), logger)
	require.NoError(t, err)

	srv := devserver.New(mem, files, devserver.Options{}, logger)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		mem.Close()
	})
	return &Devstore{URL: hs.URL, Memory: mem, Server: srv}
}

// Config points a client at d with the given completion models.
func (d *Devstore) Config(t *testing.T, candidates ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.App.ID = "test-app"
	cfg.Auth.TokenFile = filepath.Join(t.TempDir(), "token.json")
	cfg.Store.URL = d.URL
	cfg.Store.Timeout = 5 * time.Second
	cfg.Store.HeartbeatInterval = time.Second
	cfg.Store.PongTimeout = time.Second
	cfg.Completion.APIKey = "test-api-key-123"
	cfg.Completion.Models = candidates
	cfg.Blob.Provider = "cloudinary"
	cfg.Blob.BaseURL = d.URL
	cfg.Blob.CloudName = "demo"
	cfg.Blob.UploadPreset = "unsigned"
	return cfg
}

// EchoBackend answers every prompt with the model's name, failing the
// models listed in Fail.
type EchoBackend struct {
	Fail map[models.Candidate]error

	mu    sync.Mutex
	calls []models.Candidate
}

func (b *EchoBackend) Generate(_ context.Context, call completion.Call) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call.Model)
	if err := b.Fail[call.Model]; err != nil {
		return "", err
	}
	return "resposta de " + string(call.Model), nil
}

// Calls returns the models tried so far.
func (b *EchoBackend) Calls() []models.Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Candidate(nil), b.calls...)
}

// Recorder keeps every render call.
type Recorder struct {
	mu          sync.Mutex
	collections map[string][][]models.Record
	aggregates  map[string][]interface{}
}

func NewRecorder() *Recorder {
	return &Recorder{
		collections: make(map[string][][]models.Record),
		aggregates:  make(map[string][]interface{}),
	}
}

func (r *Recorder) RenderCollection(name string, list []models.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[name] = append(r.collections[name], list)
}

func (r *Recorder) RenderAggregate(name string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggregates[name] = append(r.aggregates[name], value)
}

// Last returns the latest list drawn for name.
func (r *Recorder) Last(name string) []models.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := r.collections[name]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

// LastAggregate returns the latest value drawn for name.
func (r *Recorder) LastAggregate(name string) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := r.aggregates[name]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

// Eventually waits for cond with the timings integration tests use.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 20*time.Millisecond, msg)
}
