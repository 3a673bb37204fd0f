package devserver_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/clinicdesk/internal/blob"
	"github.com/TheMichaelB/clinicdesk/internal/devserver"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/store"
	"github.com/TheMichaelB/clinicdesk/internal/transport"
)

type env struct {
	mem    *store.Memory
	server *devserver.Server
	http   *httptest.Server
}

func newEnv(t *testing.T, token string) *env {
	t.Helper()

	mem := store.NewMemory(events.Discard())
	files, err := blob.NewLocalStore(t.TempDir(), events.Discard())
	require.NoError(t, err)

	srv := devserver.New(mem, files, devserver.Options{Token: token}, events.Discard())
	hs := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		hs.Close()
		mem.Close()
	})
	return &env{mem: mem, server: srv, http: hs}
}

func (e *env) remote(t *testing.T, token string) *store.Remote {
	t.Helper()

	client := transport.NewHTTPClient(transport.Options{
		BaseURL: e.http.URL,
		Timeout: 5 * time.Second,
	}, events.Discard())
	client.SetToken(token)

	r := store.NewRemote(store.RemoteOptions{
		URL:            e.http.URL,
		Token:          token,
		PingInterval:   time.Second,
		PongTimeout:    time.Second,
		ReconnectDelay: 20 * time.Millisecond,
	}, client, events.Discard())
	t.Cleanup(func() { r.Close() })
	return r
}

type streamRecorder struct {
	mu     sync.Mutex
	snaps  []store.Snapshot
	errors []error
}

func (r *streamRecorder) listener() store.Listener {
	return store.Listener{
		OnSnapshot: func(s store.Snapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.snaps = append(r.snaps, s)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, err)
		},
	}
}

func (r *streamRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps), len(r.errors)
}

func (r *streamRecorder) last() store.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func waitSnaps(t *testing.T, r *streamRecorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, _ := r.counts()
		return got >= n
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRemoteCRUD(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "")
	r := e.remote(t, "")

	key, err := r.Push(ctx, "clinic/patients", map[string]string{"name": "Ana", "email": "ana@x.com"})
	require.NoError(t, err)
	require.NotEmpty(t, key)

	raw, err := r.Get(ctx, "clinic/patients/"+key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana","email":"ana@x.com"}`, string(raw))

	require.NoError(t, r.Update(ctx, "clinic/patients/"+key, map[string]interface{}{
		"phone": "555",
		"email": nil,
	}))
	raw, err = r.Get(ctx, "clinic/patients/"+key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana","phone":"555"}`, string(raw))

	require.NoError(t, r.Set(ctx, "clinic/stock/s1", map[string]int{"quantity": 3}))
	require.NoError(t, r.Set(ctx, "clinic/stock/s2", map[string]int{"quantity": 1}))

	snap, err := r.Once(ctx, store.Query{Path: "clinic/stock", OrderBy: "quantity"})
	require.NoError(t, err)
	require.Len(t, snap.Children, 2)
	assert.Equal(t, "s2", snap.Children[0].ID)
	assert.True(t, snap.Exists)

	require.NoError(t, r.Remove(ctx, "clinic/stock"))
	raw, err = r.Get(ctx, "clinic/stock")
	require.NoError(t, err)
	assert.Nil(t, raw)

	// The emulator serves the same tree the memory store holds.
	local, err := e.mem.Get(ctx, "clinic/patients/"+key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana","phone":"555"}`, string(local))
}

func TestRemoteSubscribe(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "secret")
	r := e.remote(t, "secret")

	var rec streamRecorder
	h, err := r.Subscribe(ctx, store.Query{Path: "clinic/journal/p1"}, rec.listener())
	require.NoError(t, err)

	waitSnaps(t, &rec, 1)
	assert.Empty(t, rec.last().Children)

	_, err = r.Push(ctx, "clinic/journal/p1", map[string]string{"text": "oi"})
	require.NoError(t, err)

	waitSnaps(t, &rec, 2)
	assert.Len(t, rec.last().Children, 1)

	require.NoError(t, h.Close())

	// Writes after detach produce no callback.
	_, err = r.Push(ctx, "clinic/journal/p1", map[string]string{"text": "late"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	snaps, _ := rec.counts()
	assert.Equal(t, 2, snaps)
}

func TestRemoteFilteredSubscribe(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "")
	r := e.remote(t, "")

	require.NoError(t, e.mem.Set(ctx, "fin/r1", map[string]string{"patientId": "p1"}))
	require.NoError(t, e.mem.Set(ctx, "fin/r2", map[string]string{"patientId": "p2"}))

	var rec streamRecorder
	_, err := r.Subscribe(ctx, store.Query{Path: "fin", OrderBy: "patientId", EqualTo: "p2"}, rec.listener())
	require.NoError(t, err)

	waitSnaps(t, &rec, 1)
	require.Len(t, rec.last().Children, 1)
	assert.Equal(t, "r2", rec.last().Children[0].ID)
}

func TestRemoteTokenRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "secret")
	r := e.remote(t, "wrong")

	_, err := r.Get(ctx, "clinic")
	var be *models.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusUnauthorized, be.StatusCode)
	assert.True(t, be.IsAuth())

	_, err = r.Subscribe(ctx, store.Query{Path: "clinic"}, store.Listener{})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusUnauthorized, be.StatusCode)
}

func TestRemoteReconnect(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "")
	r := e.remote(t, "")

	var rec streamRecorder
	_, err := r.Subscribe(ctx, store.Query{Path: "stock"}, rec.listener())
	require.NoError(t, err)
	waitSnaps(t, &rec, 1)

	assert.Equal(t, 1, e.server.DropStreams())

	require.Eventually(t, func() bool {
		_, errs := rec.counts()
		return errs >= 1
	}, 3*time.Second, 10*time.Millisecond, "listener learns about the outage")

	// The listen is re-sent and delivers the current state again.
	waitSnaps(t, &rec, 2)

	require.NoError(t, e.mem.Set(ctx, "stock/s1", map[string]int{"quantity": 1}))
	require.Eventually(t, func() bool {
		n, _ := rec.counts()
		return n >= 3 && len(rec.last().Children) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestUploadEmulation(t *testing.T) {
	e := newEnv(t, "")

	client := transport.NewHTTPClient(transport.Options{
		BaseURL: e.http.URL,
		Timeout: 5 * time.Second,
	}, events.Discard())
	uploader := blob.NewCloudinary(client, "demo", "unsigned", "dentista_ia_uploads", events.Discard())

	att, err := uploader.Upload(context.Background(), "raio-x.png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, "png", att.Type)
	assert.True(t, strings.HasPrefix(att.URL, e.http.URL+"/files/demo/dentista_ia_uploads/"))

	resp, err := http.Get(att.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "PNGDATA", string(body))

	doc, err := uploader.Upload(context.Background(), "laudo.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, blob.DocumentType, doc.Type)
}

func TestUploadWithoutPreset(t *testing.T) {
	e := newEnv(t, "")

	client := transport.NewHTTPClient(transport.Options{BaseURL: e.http.URL}, events.Discard())
	uploader := blob.NewCloudinary(client, "demo", "", "", events.Discard())

	_, err := uploader.Upload(context.Background(), "a.png", strings.NewReader("x"))
	var cfgErr *models.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestInvalidBody(t *testing.T) {
	e := newEnv(t, "")

	req, err := http.NewRequest(http.MethodPut, e.http.URL+"/db/clinic/x", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(events.Discard())
	defer mem.Close()

	seed, err := devserver.ParseSeed([]byte(`
artifacts/app/users/u1/profile:
  email: dr@clinic.com
  role: dentist
artifacts/app/users/u1/stock:
  s1:
    name: Resina
    quantity: 10
    unit: un
`))
	require.NoError(t, err)
	require.NoError(t, seed.Apply(ctx, mem))

	raw, err := mem.Get(ctx, "artifacts/app/users/u1/profile")
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"dr@clinic.com","role":"dentist"}`, string(raw))

	snap, err := mem.Once(ctx, store.Query{Path: "artifacts/app/users/u1/stock"})
	require.NoError(t, err)
	require.Len(t, snap.Children, 1)
	assert.JSONEq(t, `{"name":"Resina","quantity":10,"unit":"un"}`, string(snap.Children[0].Data))
}
