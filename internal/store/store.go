// Package store is the client side of the hierarchical realtime store:
// path-addressed JSON values with push-based subscriptions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// Query selects the children of one path.
type Query struct {
	Path string
	// OrderBy sorts children by a child field, then by key. Empty means key order.
	OrderBy string
	// EqualTo keeps children whose OrderBy field equals it. Ignored when empty.
	EqualTo string
	// LimitToLast keeps the last n children after ordering. 0 means all.
	LimitToLast int
}

// Values encodes the query filters as URL parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.OrderBy != "" {
		v.Set("orderBy", q.OrderBy)
	}
	if q.EqualTo != "" {
		v.Set("equalTo", q.EqualTo)
	}
	if q.LimitToLast > 0 {
		v.Set("limitToLast", strconv.Itoa(q.LimitToLast))
	}
	return v
}

// ParseQuery is the inverse of Query.Values.
func ParseQuery(path string, v url.Values) (Query, error) {
	q := Query{
		Path:    path,
		OrderBy: v.Get("orderBy"),
		EqualTo: v.Get("equalTo"),
	}
	if s := v.Get("limitToLast"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limitToLast %q", s)
		}
		q.LimitToLast = n
	}
	return q, nil
}

// Snapshot is the full state of a queried path at one point in the store's
// write sequence.
type Snapshot struct {
	Path     string          `json:"path"`
	Seq      int64           `json:"seq"`
	Exists   bool            `json:"exists"`
	Value    json.RawMessage `json:"value,omitempty"`
	Children []models.Record `json:"children"`
}

// Listener receives snapshots and delivery errors for one subscription.
// Callbacks for one subscription are never invoked concurrently.
type Listener struct {
	OnSnapshot func(Snapshot)
	OnError    func(error)
}

// Handle detaches a subscription. After Close returns no new callback is
// started; one already running may finish. Close is idempotent.
type Handle interface {
	Close() error
}

// Store is the remote store collaborator.
type Store interface {
	// Get returns the raw value at path, or nil when absent.
	Get(ctx context.Context, path string) (json.RawMessage, error)
	// Once returns a single snapshot for q.
	Once(ctx context.Context, q Query) (Snapshot, error)
	// Push stores value under a new time-ordered key and returns the key.
	Push(ctx context.Context, path string, value interface{}) (string, error)
	// Set replaces the value at path. A nil value removes it.
	Set(ctx context.Context, path string, value interface{}) error
	// Update merges fields into the value at path. Field names may be
	// relative paths.
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	// Remove deletes the value at path.
	Remove(ctx context.Context, path string) error
	// Subscribe attaches l to q. The current state is delivered as the
	// first snapshot.
	Subscribe(ctx context.Context, q Query, l Listener) (Handle, error)
	Close() error
}

// WriteOp is the kind of a journaled write.
type WriteOp string

const (
	OpSet    WriteOp = "set"
	OpUpdate WriteOp = "update"
	OpRemove WriteOp = "remove"
)

// Write is one mutation in store order.
type Write struct {
	Seq   int64
	Op    WriteOp
	Path  string
	Value json.RawMessage
	At    time.Time
}

// ErrInvalidPath is returned for writes that address nothing.
var ErrInvalidPath = errors.New("invalid store path")

// NewKey returns a new child key. Keys sort in creation order.
func NewKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// DecodeSnapshot materializes typed entities from a snapshot's children.
func DecodeSnapshot[T any, PT interface {
	*T
	models.Identified
}](s Snapshot) ([]T, error) {
	return models.Decode[T, PT](s.Children)
}
