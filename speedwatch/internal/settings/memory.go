package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is a Provider that keeps settings in process. It backs engines
// embedded without a settings database.
type Memory struct {
	mu   sync.Mutex
	base Snapshot
	snap Snapshot
}

// NewMemory returns a Memory provider starting at base.
func NewMemory(base Snapshot) *Memory {
	return &Memory{base: base.Clone(), snap: base.Clone()}
}

func (m *Memory) Load(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone(), nil
}

func (m *Memory) Save(_ context.Context, partial map[string]any) error {
	changes := make(map[string]Change, len(partial))
	for k, v := range partial {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("settings: memory save %s: %w", k, err)
		}
		changes[k] = Change{NewValue: raw}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := m.snap.Apply(changes)
	if err != nil {
		return err
	}
	m.snap = next
	return nil
}

func (m *Memory) Remove(_ context.Context, keys ...string) error {
	changes := make(map[string]Change, len(keys))
	for _, k := range keys {
		changes[k] = Change{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := m.snap.Apply(changes)
	if err != nil {
		return err
	}
	m.snap = next
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = m.base.Clone()
	return nil
}
