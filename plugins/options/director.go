package options

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/YJPM/ti-options/internal/host"
	"github.com/YJPM/ti-options/internal/metrics"
	pluginpkg "github.com/YJPM/ti-options/internal/plugin"
)

// GenerationState is the director's view of the chat.
type GenerationState string

const (
	StateIdle       GenerationState = "IDLE"
	StateAwaitingAI GenerationState = "AWAITING_AI"
	StateAnalyzing  GenerationState = "ANALYZING"
	StateRendering  GenerationState = "RENDERING"
	StateReady      GenerationState = "READY"
	StateError      GenerationState = "ERROR"
)

var allStates = []string{
	string(StateIdle), string(StateAwaitingAI), string(StateAnalyzing),
	string(StateRendering), string(StateReady), string(StateError),
}

// DirectorStatus is returned by the director endpoint.
type DirectorStatus struct {
	State         GenerationState `json:"state"`
	LastMessageID string          `json:"last_message_id"`
	Error         string          `json:"error,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Director polls the host's last message id. A new user message means the
// AI is about to answer; a new assistant message starts a generation cycle.
type Director struct {
	mu      sync.Mutex
	status  DirectorStatus
	seeded  bool
	gen     *Generator
	core    pluginpkg.CoreAPI
	logger  *slog.Logger
	polling time.Duration
}

// NewDirector creates an idle director polling every interval.
func NewDirector(gen *Generator, core pluginpkg.CoreAPI, interval time.Duration, logger *slog.Logger) *Director {
	d := &Director{gen: gen, core: core, logger: logger, polling: interval}
	d.set(StateIdle, "")
	return d
}

// Run polls until ctx is cancelled.
func (d *Director) Run(ctx context.Context) {
	ticker := time.NewTicker(d.polling)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Status returns the current state.
func (d *Director) Status() DirectorStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Reset forgets the last seen message, e.g. after the chat changed. The next
// poll re-seeds without generating.
func (d *Director) Reset() {
	d.mu.Lock()
	d.seeded = false
	d.status.LastMessageID = ""
	d.mu.Unlock()
	d.set(StateIdle, "")
}

func (d *Director) set(state GenerationState, errMsg string) {
	d.mu.Lock()
	d.status.State = state
	d.status.Error = errMsg
	d.status.UpdatedAt = time.Now()
	d.mu.Unlock()
	metrics.SetDirectorState(string(state), allStates)
}

// Tick runs one poll.
func (d *Director) Tick(ctx context.Context) {
	adapter, err := d.core.Host()
	if err != nil {
		return
	}
	id, err := adapter.LastMessageID(ctx)
	if err != nil || id == "" {
		return
	}

	d.mu.Lock()
	if !d.seeded {
		d.seeded = true
		d.status.LastMessageID = id
		d.mu.Unlock()
		return
	}
	if id == d.status.LastMessageID {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	role := lastRole(ctx, adapter)
	switch role {
	case host.RoleUser:
		d.advance(id)
		d.set(StateAwaitingAI, "")
	case host.RoleAssistant:
		d.analyze(ctx, id)
	default:
		d.advance(id)
	}
}

func (d *Director) advance(id string) {
	d.mu.Lock()
	d.status.LastMessageID = id
	d.mu.Unlock()
}

func (d *Director) analyze(ctx context.Context, id string) {
	prev := d.Status().State
	d.set(StateAnalyzing, "")

	_, err := d.gen.Run(ctx, TriggerDirector, RunOptions{
		OnParsed: func() { d.set(StateRendering, "") },
	})
	switch {
	case errors.Is(err, ErrBusy):
		// Try again on the next poll.
		d.set(prev, "")
		return
	case errors.Is(err, ErrDisabled):
		d.advance(id)
		d.set(StateIdle, "")
	case err != nil:
		d.advance(id)
		d.logger.Warn("director cycle failed", "err", err)
		d.set(StateError, err.Error())
	default:
		d.advance(id)
		d.set(StateReady, "")
	}
}

func lastRole(ctx context.Context, a host.Adapter) string {
	msgs, err := a.Messages(ctx)
	if err != nil || len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Role
}
