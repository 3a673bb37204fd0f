package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// tree is an in-memory JSON document. Objects are map[string]interface{},
// numbers are json.Number so amounts keep their exact text.
type tree struct {
	root map[string]interface{}
}

func newTree() *tree {
	return &tree{root: make(map[string]interface{})}
}

// encodeValue renders a write value as JSON. Raw messages pass through.
func encodeValue(v interface{}) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return val, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		return data, nil
	}
}

func decodeRaw(data []byte) (interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(out), nil
}

// prune drops nulls and empty objects, which the store treats as absent.
func prune(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	for k, child := range m {
		if child = prune(child); child == nil {
			delete(m, k)
		} else {
			m[k] = child
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func (t *tree) get(segs []string) (interface{}, bool) {
	var node interface{} = t.root
	for _, s := range segs {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if node, ok = m[s]; !ok {
			return nil, false
		}
	}
	if m, ok := node.(map[string]interface{}); ok && len(m) == 0 {
		return nil, false
	}
	return node, true
}

// set replaces the node at segs; a nil value removes it and prunes
// emptied parents.
func (t *tree) set(segs []string, v interface{}) {
	if len(segs) == 0 {
		if m, ok := v.(map[string]interface{}); ok {
			t.root = m
		} else {
			t.root = make(map[string]interface{})
		}
		return
	}

	if v == nil {
		t.remove(t.root, segs)
		return
	}

	node := t.root
	for _, s := range segs[:len(segs)-1] {
		next, ok := node[s].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			node[s] = next
		}
		node = next
	}
	node[segs[len(segs)-1]] = v
}

func (t *tree) remove(node map[string]interface{}, segs []string) bool {
	if len(segs) == 1 {
		delete(node, segs[0])
		return len(node) == 0
	}
	child, ok := node[segs[0]].(map[string]interface{})
	if !ok {
		return false
	}
	if t.remove(child, segs[1:]) {
		delete(node, segs[0])
	}
	return len(node) == 0
}

// apply performs one journaled write.
func (t *tree) apply(w Write) error {
	segs := models.SplitPath(w.Path)

	switch w.Op {
	case OpSet:
		v, err := decodeRaw(w.Value)
		if err != nil {
			return err
		}
		t.set(segs, v)
	case OpRemove:
		t.set(segs, nil)
	case OpUpdate:
		v, err := decodeRaw(w.Value)
		if err != nil {
			return err
		}
		fields, ok := v.(map[string]interface{})
		if !ok && v != nil {
			return fmt.Errorf("update value must be an object")
		}
		// Nulls were pruned by decodeRaw, so decode the field set again
		// to see which fields must be removed.
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(w.Value, &raw); err != nil {
			return fmt.Errorf("decode update: %w", err)
		}
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.set(append(append([]string{}, segs...), models.SplitPath(k)...), fields[k])
		}
	default:
		return fmt.Errorf("unknown write op %q", w.Op)
	}
	return nil
}

func (t *tree) snapshot(q Query, seq int64) (Snapshot, error) {
	snap := Snapshot{Path: q.Path, Seq: seq}

	node, ok := t.get(models.SplitPath(q.Path))
	if !ok {
		return snap, nil
	}
	snap.Exists = true

	value, err := json.Marshal(node)
	if err != nil {
		return snap, fmt.Errorf("encode snapshot: %w", err)
	}
	snap.Value = value

	m, ok := node.(map[string]interface{})
	if !ok {
		return snap, nil
	}

	type entry struct {
		key   string
		value interface{}
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		if q.OrderBy != "" && q.EqualTo != "" && fieldString(v, q.OrderBy) != q.EqualTo {
			continue
		}
		entries = append(entries, entry{k, v})
	}

	sort.Slice(entries, func(i, j int) bool {
		if q.OrderBy != "" {
			if c := compareValues(field(entries[i].value, q.OrderBy), field(entries[j].value, q.OrderBy)); c != 0 {
				return c < 0
			}
		}
		return entries[i].key < entries[j].key
	})

	if q.LimitToLast > 0 && len(entries) > q.LimitToLast {
		entries = entries[len(entries)-q.LimitToLast:]
	}

	snap.Children = make([]models.Record, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e.value)
		if err != nil {
			return snap, fmt.Errorf("encode child %s: %w", e.key, err)
		}
		snap.Children = append(snap.Children, models.Record{ID: e.key, Data: data})
	}

	return snap, nil
}

func field(v interface{}, name string) interface{} {
	for _, s := range models.SplitPath(name) {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		v = m[s]
	}
	return v
}

func fieldString(v interface{}, name string) string {
	switch f := field(v, name).(type) {
	case nil:
		return ""
	case string:
		return f
	case json.Number:
		return f.String()
	case bool:
		return strconv.FormatBool(f)
	default:
		data, _ := json.Marshal(f)
		return string(data)
	}
}

// compareValues orders null < false < true < numbers < strings < objects.
func compareValues(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case json.Number:
		af, _ := av.Float64()
		bf, _ := b.(json.Number).Float64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(av, b.(string))
	default:
		return 0
	}
}

func rank(v interface{}) int {
	switch val := v.(type) {
	case nil:
		return 0
	case bool:
		if val {
			return 2
		}
		return 1
	case json.Number:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

// related reports whether a write at one path can change a query at the other.
func related(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
