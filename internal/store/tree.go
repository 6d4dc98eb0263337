package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// SplitPath turns "games/g1/voting" into its segments. Empty segments are dropped,
// so "", "/" and "a//b" are tolerated.
func SplitPath(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// JoinPath is the inverse of SplitPath.
func JoinPath(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		segs = append(segs, SplitPath(p)...)
	}
	return strings.Join(segs, "/")
}

// Normalize converts any Go value into the JSON-like tree every backend exposes:
// map[string]any, []any, float64, string, bool or nil. Empty objects become nil.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("store: normalize value: %w", err)
	}
	return prune(out), nil
}

// prune drops nil children and collapses empty objects, mirroring how a key-path
// store never keeps empty nodes.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		child = prune(child)
		if child == nil {
			delete(m, k)
			continue
		}
		m[k] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Clone deep-copies a normalized tree.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = Clone(c)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = Clone(c)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether two normalized trees hold the same value.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Tree is a mutable JSON-like document addressed by slash separated paths.
// It is not safe for concurrent use.
type Tree struct {
	root map[string]any
}

func NewTree() *Tree {
	return &Tree{root: map[string]any{}}
}

// Get returns a deep copy of the value at path.
func (t *Tree) Get(path string) (any, bool) {
	v, ok := t.lookup(SplitPath(path))
	if !ok {
		return nil, false
	}
	return Clone(v), true
}

func (t *Tree) lookup(segs []string) (any, bool) {
	var cur any = t.root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil, false
	}
	return cur, true
}

// Set overwrites the value at path. A nil value deletes it. The value must
// already be normalized.
func (t *Tree) Set(path string, value any) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		m, _ := value.(map[string]any)
		if m == nil {
			m = map[string]any{}
		}
		t.root = Clone(m).(map[string]any)
		return
	}
	if value == nil {
		t.delete(segs)
		return
	}
	cur := t.root
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = Clone(value)
}

// Update shallow-merges partial into the object at path. Keys containing a
// slash address nested children relative to path.
func (t *Tree) Update(path string, partial map[string]any) {
	for k, v := range partial {
		t.Set(JoinPath(path, k), v)
	}
}

func (t *Tree) delete(segs []string) {
	parents := make([]map[string]any, 0, len(segs))
	cur := t.root
	for _, s := range segs[:len(segs)-1] {
		parents = append(parents, cur)
		next, ok := cur[s].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, segs[len(segs)-1])
	// collapse now-empty ancestors
	for i := len(parents) - 1; i >= 0; i-- {
		child := parents[i][segs[i]].(map[string]any)
		if len(child) > 0 {
			return
		}
		delete(parents[i], segs[i])
	}
}

// Keys lists the top-level keys of the tree.
func (t *Tree) Keys() []string {
	keys := make([]string, 0, len(t.root))
	for k := range t.root {
		keys = append(keys, k)
	}
	return keys
}

// related reports whether a write at w can change the value observed at s.
func related(w, s []string) bool {
	n := len(w)
	if len(s) < n {
		n = len(s)
	}
	for i := 0; i < n; i++ {
		if w[i] != s[i] {
			return false
		}
	}
	return true
}
