// Package host reads chat context from the host application.
//
// The host exposes its state in one of two surfaces: structured accessors
// (character, world info and chat pushed as JSON by the bridge) or an HTML
// snapshot of the chat page. Each surface has one Adapter implementation and
// the Bridge picks one per bridge session from the capabilities the bridge
// reports, instead of probing on every read.
package host

import (
	"context"
	"errors"
)

// Lifecycle events published by the host application.
const (
	EventGenerationAfterCommands = "GENERATION_AFTER_COMMANDS"
	EventGenerationStopped       = "GENERATION_STOPPED"
	EventGenerationEnded         = "GENERATION_ENDED"
	EventChatChanged             = "CHAT_CHANGED"
)

// Message roles as classified by the adapters.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Adapter kinds.
const (
	KindAccessors = "accessors"
	KindSnapshot  = "snapshot"
)

var (
	// ErrUnavailable means the host does not expose the requested value.
	ErrUnavailable = errors.New("host value unavailable")
	// ErrNoBridge means no bridge session has announced itself yet.
	ErrNoBridge = errors.New("no bridge connected")
	// ErrWrongSurface means the pushed payload does not match the selected adapter.
	ErrWrongSurface = errors.New("payload does not match selected host adapter")
)

// Message is one chat message in host order.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Character is the active character card.
type Character struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Personality string `json:"personality"`
	Scenario    string `json:"scenario"`
}

// WorldEntry is one world-info (lorebook) entry.
type WorldEntry struct {
	Comment  string `json:"comment"`
	Content  string `json:"content"`
	Disabled bool   `json:"disabled"`
}

// Adapter is a read-only view of the host's chat state.
type Adapter interface {
	Kind() string
	UserInput(ctx context.Context) (string, error)
	Character(ctx context.Context) (Character, error)
	WorldInfo(ctx context.Context) ([]WorldEntry, error)
	Messages(ctx context.Context) ([]Message, error)
	LastMessageID(ctx context.Context) (string, error)
}
