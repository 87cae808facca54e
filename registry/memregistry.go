package registry

import (
	"context"
	"sync"

	"github.com/joshjon/rtx/fname"
)

type entry struct {
	fn   Func
	meta Metadata
}

// Memory is an in-memory FuncRegistry, useful for tests and for
// demonstrating a standalone caller. Function names are derived the same
// way fname derives one for logging elsewhere in this module: from the
// callable's runtime symbol, not a hand-maintained string table.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory returns an empty Memory registry.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

// Register adds fn under the fully qualified name fname.FuncName derives
// from named's runtime symbol, and returns that name. Pass a string as
// named to register under an arbitrary name instead of deriving one.
func (m *Memory) Register(named any, meta Metadata, fn Func) string {
	name := fname.FuncName(named)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = entry{fn: fn, meta: meta}
	return name
}

// RegisterAs adds fn under an explicit name, bypassing fname derivation.
func (m *Memory) RegisterAs(name string, meta Metadata, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = entry{fn: fn, meta: meta}
}

func (m *Memory) Resolve(_ context.Context, name string) (Func, Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, Metadata{}, &ErrUnknownFunc{Name: name}
	}
	return e.fn, e.meta, nil
}

var _ FuncRegistry = (*Memory)(nil)
