// Package options is the typing indicator and reply-options plugin: it
// shows a "typing" banner while the host generates and, once a reply has
// ended, asks an LLM for suggested next replies and renders them as buttons.
package options

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/YJPM/ti-options/internal/host"
	pluginpkg "github.com/YJPM/ti-options/internal/plugin"
	"github.com/YJPM/ti-options/plugins/options/llm"
)

// ID is the plugin ID; routes live under /api/plugins/options.
const ID = "options"

// Options holds the service-level knobs from the process configuration.
type Options struct {
	Secret          string // API key encryption secret; generated per install when empty
	DirectorEnabled bool
	PollInterval    time.Duration
	TypewriterDelay time.Duration
	LLMTimeout      time.Duration
	Cache           SuggestionCache // nil disables caching
	CacheTTL        time.Duration
	NewProvider     func(llm.Config) (llm.Provider, error)
}

// Plugin implements the plugin.Plugin interface.
type Plugin struct {
	opts    Options
	svc     *Service
	handler *Handler
	cancel  context.CancelFunc
}

// New creates a new options plugin instance.
func New(opts Options) *Plugin {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 300 * time.Millisecond
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	return &Plugin{opts: opts}
}

// Metadata returns the plugin metadata.
func (p *Plugin) Metadata() pluginpkg.Metadata {
	return pluginpkg.Metadata{
		ID:          ID,
		Name:        "Typing Indicator & Options",
		Version:     "1.0.0",
		Description: "Typing indicator and LLM-generated reply options for the chat host",
		Author:      "YJPM",
		Priority:    10,
	}
}

// Init builds the service, registers routes and subscribes to host events.
func (p *Plugin) Init(ctx *pluginpkg.Context) error {
	secret := p.opts.Secret
	if secret == "" {
		// Per-installation random key instead of a predictable fallback.
		secret = ctx.ConfigStore.Get("_encryption_key")
		if secret == "" {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return fmt.Errorf("generate encryption key: %w", err)
			}
			secret = hex.EncodeToString(b)
			if err := ctx.ConfigStore.Set("_encryption_key", secret); err != nil {
				return fmt.Errorf("persist encryption key: %w", err)
			}
			ctx.Logger.Warn("no secret configured, generated a random API key encryption key")
		}
	}

	store := NewSettingsStore(ctx.ConfigStore, secret, ctx.Logger)
	p.svc = NewService(store, ctx.CoreAPI, p.opts, GeneratorConfig{
		Cache:       p.opts.Cache,
		CacheTTL:    p.opts.CacheTTL,
		LLMTimeout:  p.opts.LLMTimeout,
		NewProvider: p.opts.NewProvider,
		DB:          ctx.DB,
	}, ctx.Logger)

	// Backfill defaults on first run.
	store.Load()

	p.handler = NewHandler(p.svc)
	p.handler.Register(ctx.Router)

	for _, t := range []string{
		host.EventGenerationAfterCommands,
		host.EventGenerationStopped,
		host.EventGenerationEnded,
		host.EventChatChanged,
	} {
		ctx.EventBus.Subscribe(t, p.svc.HandleHostEvent)
	}

	ctx.Logger.Info("options plugin routes registered", "director", p.opts.DirectorEnabled)
	return nil
}

// Start binds background cycles to ctx and starts the director when enabled.
func (p *Plugin) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	p.svc.start(ctx)
	return nil
}

// Stop cancels the running cycle and waits for background work.
func (p *Plugin) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.svc.wait()
	return nil
}

// Service returns the plugin's service; nil before Init.
func (p *Plugin) Service() *Service {
	return p.svc
}
