package host

import (
	"sync"
)

// Capabilities is what a bridge reports when its page loads.
type Capabilities struct {
	Session   string `json:"session"`   // changes on every page load
	Accessors bool   `json:"accessors"` // host exposes structured accessor functions
	Client    string `json:"client"`
}

// Probe picks the adapter kind for a bridge session. A forced mode wins over
// reported capabilities.
func Probe(mode string, caps Capabilities) string {
	switch mode {
	case KindAccessors, KindSnapshot:
		return mode
	}
	if caps.Accessors {
		return KindAccessors
	}
	return KindSnapshot
}

// Bridge owns the adapter selected for the current bridge session.
type Bridge struct {
	mu        sync.RWMutex
	mode      string
	session   string
	accessors *Accessors
	snapshot  *Snapshot
	selected  Adapter
}

// NewBridge creates a Bridge. mode is "auto", "accessors" or "snapshot".
func NewBridge(mode string) *Bridge {
	return &Bridge{mode: mode}
}

// Hello selects the adapter for a bridge session. Repeated calls within the
// same session keep the first selection; a new session probes again and
// starts from empty host state.
func (b *Bridge) Hello(caps Capabilities) Adapter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.selected != nil && caps.Session == b.session {
		return b.selected
	}
	b.session = caps.Session
	switch Probe(b.mode, caps) {
	case KindAccessors:
		b.accessors = NewAccessors()
		b.snapshot = nil
		b.selected = b.accessors
	default:
		b.snapshot = NewSnapshot()
		b.accessors = nil
		b.selected = b.snapshot
	}
	return b.selected
}

// Adapter returns the selected adapter.
func (b *Bridge) Adapter() (Adapter, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.selected == nil {
		return nil, ErrNoBridge
	}
	return b.selected, nil
}

// Session returns the current bridge session id.
func (b *Bridge) Session() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// UpdateContext stores a structured accessor payload.
func (b *Bridge) UpdateContext(c Context) error {
	b.mu.RLock()
	a := b.accessors
	selected := b.selected
	b.mu.RUnlock()

	if selected == nil {
		return ErrNoBridge
	}
	if a == nil {
		return ErrWrongSurface
	}
	a.Update(c)
	return nil
}

// UpdateSnapshot stores an HTML page snapshot.
func (b *Bridge) UpdateSnapshot(page []byte) error {
	b.mu.RLock()
	s := b.snapshot
	selected := b.selected
	b.mu.RUnlock()

	if selected == nil {
		return ErrNoBridge
	}
	if s == nil {
		return ErrWrongSurface
	}
	return s.Update(page)
}
