package host

import (
	"context"
	"strconv"
	"sync"
)

// Context is the structured payload a bridge pushes when the host exposes
// accessor functions (current character, world info, chat array).
type Context struct {
	Input     string       `json:"input"`
	Character *Character   `json:"character,omitempty"`
	WorldInfo []WorldEntry `json:"world_info,omitempty"`
	Chat      []Message    `json:"chat"`
}

// Accessors serves host values from the last pushed Context.
type Accessors struct {
	mu    sync.RWMutex
	state Context
	set   bool
}

var _ Adapter = (*Accessors)(nil)

// NewAccessors creates an empty accessor adapter.
func NewAccessors() *Accessors {
	return &Accessors{}
}

// Update replaces the held context.
func (a *Accessors) Update(c Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = Context{
		Input:     c.Input,
		Character: c.Character,
		WorldInfo: append([]WorldEntry(nil), c.WorldInfo...),
		Chat:      append([]Message(nil), c.Chat...),
	}
	a.set = true
}

func (a *Accessors) Kind() string { return KindAccessors }

func (a *Accessors) UserInput(ctx context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.set {
		return "", ErrUnavailable
	}
	return a.state.Input, nil
}

func (a *Accessors) Character(ctx context.Context) (Character, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state.Character == nil {
		return Character{}, ErrUnavailable
	}
	return *a.state.Character, nil
}

func (a *Accessors) WorldInfo(ctx context.Context) ([]WorldEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state.WorldInfo == nil {
		return nil, ErrUnavailable
	}
	return append([]WorldEntry(nil), a.state.WorldInfo...), nil
}

func (a *Accessors) Messages(ctx context.Context) ([]Message, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.set {
		return nil, ErrUnavailable
	}
	out := make([]Message, len(a.state.Chat))
	for i, m := range a.state.Chat {
		if m.ID == "" {
			m.ID = strconv.Itoa(i)
		}
		out[i] = m
	}
	return out, nil
}

// LastMessageID returns the id of the newest message, or its index when the
// host did not assign ids.
func (a *Accessors) LastMessageID(ctx context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.set {
		return "", ErrUnavailable
	}
	n := len(a.state.Chat)
	if n == 0 {
		return "", nil
	}
	if id := a.state.Chat[n-1].ID; id != "" {
		return id, nil
	}
	return strconv.Itoa(n - 1), nil
}
