package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory Store used by tests and local development.
// It keeps a JSON tree and fans out change notifications synchronously,
// in path order, with the same full-value snapshot contract as the
// hosted backend.
type Memory struct {
	mu   sync.Mutex
	root map[string]any
	subs map[int]*memSub
	next int
}

type memSub struct {
	store     *Memory
	id        int
	path      string
	fn        func(Snapshot)
	deliverMu sync.Mutex
	cancel    sync.Once
	cancelled bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		root: make(map[string]any),
		subs: make(map[int]*memSub),
	}
}

func (m *Memory) Subscribe(_ context.Context, path string, fn func(Snapshot)) (Handle, error) {
	m.mu.Lock()
	sub := &memSub{store: m, id: m.next, path: path, fn: fn}
	m.subs[m.next] = sub
	m.next++
	data := m.valueAtLocked(path)
	m.mu.Unlock()

	// Initial snapshot: the full current value, delivered on attach.
	sub.deliver(Snapshot{Path: path, Data: data})
	return sub, nil
}

func (m *Memory) ReadOnce(_ context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valueAtLocked(path), nil
}

func (m *Memory) Write(_ context.Context, path string, value any) error {
	decoded, err := normalize(value)
	if err != nil {
		return err
	}
	m.mutate(path, func() {
		m.setLocked(path, decoded)
	})
	return nil
}

func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	decoded, err := normalize(fields)
	if err != nil {
		return err
	}
	patch, ok := decoded.(map[string]any)
	if !ok {
		return fmt.Errorf("update %s: fields must be an object", path)
	}
	m.mutate(path, func() {
		current, _ := m.getLocked(path).(map[string]any)
		if current == nil {
			current = make(map[string]any)
		}
		for k, v := range patch {
			if v == nil {
				delete(current, k)
				continue
			}
			current[k] = v
		}
		m.setLocked(path, current)
	})
	return nil
}

func (m *Memory) Remove(_ context.Context, path string) error {
	m.mutate(path, func() {
		m.setLocked(path, nil)
	})
	return nil
}

func (m *Memory) Append(_ context.Context, path string, value any) (string, error) {
	decoded, err := normalize(value)
	if err != nil {
		return "", err
	}
	key := "-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:20]
	m.mutate(path, func() {
		m.setLocked(path+"/"+key, decoded)
	})
	return key, nil
}

func (m *Memory) QueryByPrefix(_ context.Context, path, childKey, prefix string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	children, _ := m.getLocked(path).(map[string]any)
	matches := make(map[string]any)
	for id, child := range children {
		obj, ok := child.(map[string]any)
		if !ok {
			continue
		}
		field, ok := obj[childKey].(string)
		if ok && strings.HasPrefix(field, prefix) {
			matches[id] = child
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return json.Marshal(matches)
}

// Cancel makes the subscription inert. Idempotent.
func (s *memSub) Cancel() {
	s.cancel.Do(func() {
		s.store.mu.Lock()
		s.cancelled = true
		delete(s.store.subs, s.id)
		s.store.mu.Unlock()
	})
}

func (s *memSub) deliver(snap Snapshot) {
	// One in-flight callback per subscription, and nothing after Cancel.
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.store.mu.Lock()
	cancelled := s.cancelled
	s.store.mu.Unlock()
	if cancelled {
		return
	}
	s.fn(snap)
}

// mutate applies fn under the store lock, then notifies every subscription
// whose path is affected by the change with its new full value.
func (m *Memory) mutate(changed string, fn func()) {
	m.mu.Lock()
	fn()

	type delivery struct {
		sub  *memSub
		snap Snapshot
	}
	var pending []delivery
	for _, sub := range m.subs {
		if !pathsRelated(changed, sub.path) {
			continue
		}
		pending = append(pending, delivery{
			sub:  sub,
			snap: Snapshot{Path: sub.path, Data: m.valueAtLocked(sub.path)},
		})
	}
	m.mu.Unlock()

	for _, d := range pending {
		d.sub.deliver(d.snap)
	}
}

// pathsRelated reports whether a change at `changed` is visible from a
// subscription at `sub`: one path must be a segment-prefix of the other.
func pathsRelated(changed, sub string) bool {
	c := strings.Split(changed, "/")
	s := strings.Split(sub, "/")
	n := min(len(c), len(s))
	for i := 0; i < n; i++ {
		if c[i] != s[i] {
			return false
		}
	}
	return true
}

func (m *Memory) valueAtLocked(path string) json.RawMessage {
	v := m.getLocked(path)
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func (m *Memory) getLocked(path string) any {
	var cur any = m.root
	for _, seg := range strings.Split(path, "/") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func (m *Memory) setLocked(path string, value any) {
	segs := strings.Split(path, "/")
	cur := m.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			if value == nil {
				return
			}
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	last := segs[len(segs)-1]
	if value == nil {
		delete(cur, last)
		return
	}
	cur[last] = value
}

// normalize round-trips value through JSON so the tree only ever holds
// maps, slices, strings, numbers and bools.
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return decoded, nil
}
