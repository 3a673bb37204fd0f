package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/transport"
)

// RemoteOptions configure a Remote store client.
type RemoteOptions struct {
	// URL is the store root; the stream endpoint is URL + "/_ws".
	URL          string
	Token        string
	PingInterval time.Duration
	PongTimeout  time.Duration
	// ReconnectDelay is the first reconnect backoff, doubled up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

type remoteListen struct {
	id     int64
	query  Query
	l      Listener
	closed bool
}

// Remote talks to a store server: REST for reads and writes, one shared
// websocket for subscriptions. A dropped stream is reported to every
// listener and re-established with backoff.
type Remote struct {
	http   transport.Requester
	opts   RemoteOptions
	logger *events.Logger

	mu      sync.Mutex
	ws      *transport.WSClient
	nextID  int64
	listens map[int64]*remoteListen
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRemote creates a client. Requests go through requester, which is
// expected to carry the same token.
func NewRemote(opts RemoteOptions, requester transport.Requester, logger *events.Logger) *Remote {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 30 * time.Second
	}
	opts.URL = strings.TrimRight(opts.URL, "/")

	ctx, cancel := context.WithCancel(context.Background())
	return &Remote{
		http:    requester,
		opts:    opts,
		logger:  logger.WithField("component", "remote_store"),
		listens: make(map[int64]*remoteListen),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetToken changes the token used by the next stream connection.
func (r *Remote) SetToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Token = token
}

func dbTarget(path string) string {
	return "/db/" + strings.Trim(path, "/")
}

// Get implements Store.
func (r *Remote) Get(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := r.http.Do(ctx, http.MethodGet, dbTarget(path), nil)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

// Once implements Store.
func (r *Remote) Once(ctx context.Context, q Query) (Snapshot, error) {
	v := q.Values()
	v.Set("list", "1")

	data, err := r.http.Do(ctx, http.MethodGet, dbTarget(q.Path)+"?"+v.Encode(), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query %s: %w", q.Path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, &models.BackendError{Message: fmt.Sprintf("malformed snapshot: %v", err)}
	}
	return snap, nil
}

// Push implements Store.
func (r *Remote) Push(ctx context.Context, path string, value interface{}) (string, error) {
	if len(models.SplitPath(path)) == 0 {
		return "", ErrInvalidPath
	}

	data, err := r.http.Do(ctx, http.MethodPost, dbTarget(path), value)
	if err != nil {
		return "", fmt.Errorf("push %s: %w", path, err)
	}

	var resp struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.Name == "" {
		return "", &models.BackendError{Message: "push response without key"}
	}
	return resp.Name, nil
}

// Set implements Store.
func (r *Remote) Set(ctx context.Context, path string, value interface{}) error {
	if len(models.SplitPath(path)) == 0 {
		return ErrInvalidPath
	}
	if value == nil {
		return r.Remove(ctx, path)
	}
	if _, err := r.http.Do(ctx, http.MethodPut, dbTarget(path), value); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

// Update implements Store.
func (r *Remote) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	if len(models.SplitPath(path)) == 0 {
		return ErrInvalidPath
	}
	if len(fields) == 0 {
		return nil
	}
	if _, err := r.http.Do(ctx, http.MethodPatch, dbTarget(path), fields); err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	return nil
}

// Remove implements Store.
func (r *Remote) Remove(ctx context.Context, path string) error {
	if len(models.SplitPath(path)) == 0 {
		return ErrInvalidPath
	}
	if _, err := r.http.Do(ctx, http.MethodDelete, dbTarget(path), nil); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Subscribe implements Store. The stream is opened on first use.
func (r *Remote) Subscribe(ctx context.Context, q Query, l Listener) (Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, models.ErrClosed
	}
	r.nextID++
	lst := &remoteListen{id: r.nextID, query: q, l: l}
	r.listens[lst.id] = lst
	ws := r.ws
	r.mu.Unlock()

	if ws == nil {
		var err error
		if ws, err = r.connect(ctx); err != nil {
			r.forget(lst)
			return nil, err
		}
	}

	if err := ws.Send(listenMessage(lst)); err != nil {
		// The pump reports the broken stream and re-sends on reconnect.
		r.logger.WithError(err).Warn("Listen not sent, waiting for reconnect")
	}

	r.logger.WithFields(map[string]interface{}{
		"listen": lst.id,
		"path":   q.Path,
	}).Debug("Listener attached")

	return &remoteHandle{r: r, lst: lst}, nil
}

func listenMessage(lst *remoteListen) *models.StreamMessage {
	return &models.StreamMessage{
		Op:          models.StreamListen,
		ID:          lst.id,
		Path:        lst.query.Path,
		OrderBy:     lst.query.OrderBy,
		EqualTo:     lst.query.EqualTo,
		LimitToLast: lst.query.LimitToLast,
	}
}

// connect dials the stream once and starts its pump.
func (r *Remote) connect(ctx context.Context) (*transport.WSClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, models.ErrClosed
	}
	if r.ws != nil {
		return r.ws, nil
	}

	ws := transport.NewWSClient(r.opts.URL+"/_ws", r.opts.Token, transport.WSOptions{
		PingInterval: r.opts.PingInterval,
		PongTimeout:  r.opts.PongTimeout,
	}, r.logger)
	if err := ws.Connect(ctx); err != nil {
		return nil, err
	}
	r.ws = ws

	r.wg.Add(1)
	go r.pump(ws)

	return ws, nil
}

// pump dispatches stream messages until the connection ends, then reports
// the failure and reconnects.
func (r *Remote) pump(ws *transport.WSClient) {
	defer r.wg.Done()

	for msg := range ws.Messages() {
		r.dispatch(msg)
	}

	var err error
	select {
	case err = <-ws.Errors():
	default:
	}

	r.mu.Lock()
	if r.ws == ws {
		r.ws = nil
	}
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return
	}
	if err == nil {
		err = errors.New("store stream closed")
	}

	r.logger.WithError(err).Warn("Store stream lost")
	for _, lst := range r.active() {
		if lst.l.OnError != nil {
			lst.l.OnError(err)
		}
	}

	r.reconnect()
}

func (r *Remote) reconnect() {
	delay := r.opts.ReconnectDelay

	for {
		select {
		case <-time.After(delay):
		case <-r.ctx.Done():
			return
		}

		ws, err := r.connect(r.ctx)
		if err == nil {
			r.logger.Info("Store stream re-established")
			for _, lst := range r.active() {
				if err := ws.Send(listenMessage(lst)); err != nil {
					r.logger.WithError(err).Warn("Re-listen failed")
				}
			}
			return
		}
		if errors.Is(err, models.ErrClosed) {
			return
		}

		r.logger.WithFields(map[string]interface{}{
			"delay": delay,
		}).WithError(err).Debug("Reconnect failed")

		if delay *= 2; delay > r.opts.MaxReconnectDelay {
			delay = r.opts.MaxReconnectDelay
		}
	}
}

// active returns open listens in attach order.
func (r *Remote) active() []*remoteListen {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*remoteListen, 0, len(r.listens))
	for _, lst := range r.listens {
		out = append(out, lst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Remote) dispatch(msg *models.StreamMessage) {
	r.mu.Lock()
	lst, ok := r.listens[msg.ID]
	if ok && lst.closed {
		ok = false
	}
	r.mu.Unlock()

	if !ok {
		r.logger.WithField("listen", msg.ID).Debug("Dropping message for detached listener")
		return
	}

	switch msg.Op {
	case models.StreamSnapshot:
		if lst.l.OnSnapshot != nil {
			lst.l.OnSnapshot(Snapshot{
				Path:     msg.Path,
				Seq:      msg.Seq,
				Exists:   len(msg.Children) > 0,
				Children: msg.Children,
			})
		}
	case models.StreamError:
		if lst.l.OnError != nil {
			lst.l.OnError(&models.BackendError{Status: msg.Code, Message: msg.Message})
		}
	}
}

func (r *Remote) forget(lst *remoteListen) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lst.closed = true
	delete(r.listens, lst.id)
}

func (r *Remote) detach(lst *remoteListen) error {
	r.mu.Lock()
	if lst.closed {
		r.mu.Unlock()
		return nil
	}
	lst.closed = true
	delete(r.listens, lst.id)
	ws := r.ws
	r.mu.Unlock()

	r.logger.WithField("listen", lst.id).Debug("Listener detached")

	if ws == nil {
		return nil
	}
	if err := ws.Send(&models.StreamMessage{Op: models.StreamUnlisten, ID: lst.id}); err != nil {
		r.logger.WithError(err).Debug("Unlisten not sent")
	}
	return nil
}

// Close detaches every listener and stops the stream.
func (r *Remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for id, lst := range r.listens {
		lst.closed = true
		delete(r.listens, id)
	}
	ws := r.ws
	r.ws = nil
	r.mu.Unlock()

	r.cancel()

	var err error
	if ws != nil {
		err = ws.Close()
	}
	r.wg.Wait()
	return err
}

type remoteHandle struct {
	r   *Remote
	lst *remoteListen
}

func (h *remoteHandle) Close() error {
	return h.r.detach(h.lst)
}

var _ Store = (*Remote)(nil)
