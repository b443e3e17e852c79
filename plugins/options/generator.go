package options

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/YJPM/ti-options/internal/host"
	"github.com/YJPM/ti-options/internal/metrics"
	"github.com/YJPM/ti-options/internal/model"
	pluginpkg "github.com/YJPM/ti-options/internal/plugin"
	"github.com/YJPM/ti-options/plugins/options/llm"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrBusy is returned when a cycle is already in flight. No request is made.
	ErrBusy = errors.New("a generation cycle is already running")
	// ErrDisabled is returned for automatic triggers while generation is off.
	ErrDisabled = errors.New("options generation is disabled")
)

// Cycle triggers.
const (
	TriggerEvent    = "event"
	TriggerManual   = "manual"
	TriggerRetry    = "retry"
	TriggerDirector = "director"
)

// RunOptions tunes one cycle.
type RunOptions struct {
	Force       bool   // run even when optionsGenEnabled is off
	BypassCache bool   // always call the backend
	OnParsed    func() // called after parsing, before rendering
}

// CycleResult is the outcome of a finished cycle.
type CycleResult struct {
	CycleID     string   `json:"cycle_id"`
	Suggestions []string `json:"suggestions"`
	Prompt      string   `json:"prompt"`
	Response    string   `json:"response"`
	CacheHit    bool     `json:"cache_hit"`
}

// Generator runs generation cycles: extract, assemble, call, parse, render.
// At most one cycle runs at a time; a second caller gets ErrBusy at once.
type Generator struct {
	busy atomic.Bool

	settings    *SettingsStore
	core        pluginpkg.CoreAPI
	view        *OptionsView
	cache       SuggestionCache
	cacheTTL    time.Duration
	llmTimeout  time.Duration
	newProvider func(llm.Config) (llm.Provider, error)
	db          *gorm.DB
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc // cancels the running cycle
}

// GeneratorConfig holds the Generator's collaborators.
type GeneratorConfig struct {
	Settings    *SettingsStore
	Core        pluginpkg.CoreAPI
	View        *OptionsView
	Cache       SuggestionCache // nil disables caching
	CacheTTL    time.Duration
	LLMTimeout  time.Duration
	NewProvider func(llm.Config) (llm.Provider, error) // defaults to llm.NewProvider
	DB          *gorm.DB                               // nil disables history
	Logger      *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	g := &Generator{
		settings:    cfg.Settings,
		core:        cfg.Core,
		view:        cfg.View,
		cache:       cfg.Cache,
		cacheTTL:    cfg.CacheTTL,
		llmTimeout:  cfg.LLMTimeout,
		newProvider: cfg.NewProvider,
		db:          cfg.DB,
		logger:      cfg.Logger,
	}
	if g.newProvider == nil {
		g.newProvider = llm.NewProvider
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Busy reports whether a cycle is in flight.
func (g *Generator) Busy() bool {
	return g.busy.Load()
}

// Cancel aborts the running cycle, if any.
func (g *Generator) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
}

// Run executes one generation cycle.
func (g *Generator) Run(ctx context.Context, trigger string, opts RunOptions) (*CycleResult, error) {
	if !g.busy.CompareAndSwap(false, true) {
		metrics.CyclesTotal.WithLabelValues(trigger, "busy").Inc()
		return nil, ErrBusy
	}
	defer g.busy.Store(false)

	// Cancel must reach the cycle from here on, including the settings read.
	ctx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.cancel = nil
		g.mu.Unlock()
		cancel()
	}()

	s := g.settings.Load()
	if !s.OptionsGenEnabled && !opts.Force {
		metrics.CyclesTotal.WithLabelValues(trigger, "disabled").Inc()
		return nil, ErrDisabled
	}

	adapter, err := g.core.Host()
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(trigger, "error").Inc()
		return nil, fmt.Errorf("host: %w", err)
	}
	if err := ctx.Err(); err != nil {
		metrics.CyclesTotal.WithLabelValues(trigger, "cancelled").Inc()
		return nil, err
	}

	start := time.Now()
	res := &CycleResult{CycleID: uuid.NewString()}
	log := g.logger.With("cycle", res.CycleID, "trigger", trigger)
	g.view.Loading(res.CycleID)

	err = g.run(ctx, s, adapter, res, opts, log)
	elapsed := time.Since(start)
	metrics.CycleDuration.Observe(elapsed.Seconds())
	g.record(trigger, s, res, err, elapsed)

	switch {
	case err == nil && len(res.Suggestions) == 0:
		metrics.CyclesTotal.WithLabelValues(trigger, "empty").Inc()
		log.Info("no suggestions parsed")
		g.view.Clear()
	case err == nil:
		metrics.CyclesTotal.WithLabelValues(trigger, "ok").Inc()
	case errors.Is(err, context.Canceled):
		metrics.CyclesTotal.WithLabelValues(trigger, "cancelled").Inc()
		log.Info("cycle cancelled")
		g.view.Clear()
	default:
		metrics.CyclesTotal.WithLabelValues(trigger, "error").Inc()
		log.Error("cycle failed", "err", err)
		g.view.Fail(res.CycleID, userMessage(err))
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (g *Generator) run(ctx context.Context, s Settings, adapter host.Adapter, res *CycleResult, opts RunOptions, log *slog.Logger) error {
	pc := Extract(ctx, adapter, s.Limit(), log)
	res.Prompt = BuildPrompt(s, pc)
	if s.Debug {
		log.Info("prompt assembled", "adapter", adapter.Kind(), "history", len(pc.Messages), "prompt", res.Prompt)
	}

	cfg := s.LLMConfig()
	cfg.Timeout = g.llmTimeout
	provider, err := g.newProvider(cfg)
	if err != nil {
		return err
	}

	key := CacheKey(cfg, pc.Messages, res.Prompt)
	if g.cache != nil && !opts.BypassCache {
		cached, ok, err := g.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.CacheLookups.WithLabelValues("error").Inc()
			log.Warn("suggestion cache lookup failed", "err", err)
		case ok:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			res.Suggestions = cached
			res.CacheHit = true
		default:
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	if !res.CacheHit {
		callStart := time.Now()
		text, err := provider.Generate(ctx, pc.Messages, res.Prompt)
		metrics.ObserveLLM(cfg.APIType, time.Since(callStart), err)
		if err != nil {
			return err
		}
		res.Response = text
		res.Suggestions = Parse(text)
		if s.Debug {
			log.Info("response parsed", "provider", provider.Name(), "response", text, "suggestions", res.Suggestions)
		}
		if g.cache != nil && len(res.Suggestions) > 0 {
			if err := g.cache.Set(ctx, key, res.Suggestions, g.cacheTTL); err != nil {
				log.Warn("suggestion cache write failed", "err", err)
			}
		}
	}
	metrics.SuggestionsPerCycle.Observe(float64(len(res.Suggestions)))

	if opts.OnParsed != nil {
		opts.OnParsed()
	}
	// A chat change during the call must not render into the new chat.
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(res.Suggestions) > 0 {
		g.view.Render(res.CycleID, res.Suggestions, s.AnimationEnabled)
	}
	return nil
}

// record stores the cycle in history. Failures are logged only.
func (g *Generator) record(trigger string, s Settings, res *CycleResult, cycleErr error, elapsed time.Duration) {
	if g.db == nil {
		return
	}
	suggestions, _ := json.Marshal(res.Suggestions)
	rec := model.GenerationRecord{
		CycleID:     res.CycleID,
		Trigger:     trigger,
		APIType:     s.OptionsAPIType,
		Model:       s.OptionsAPIModel,
		Prompt:      res.Prompt,
		Response:    res.Response,
		Suggestions: string(suggestions),
		CacheHit:    res.CacheHit,
		DurationMs:  elapsed.Milliseconds(),
	}
	if cycleErr != nil {
		rec.Error = cycleErr.Error()
	}
	if err := g.db.Create(&rec).Error; err != nil {
		g.logger.Warn("record generation", "cycle", res.CycleID, "err", err)
	}
}

// History returns the most recent cycles, newest first.
func (g *Generator) History(limit int) ([]model.GenerationRecord, error) {
	if g.db == nil {
		return []model.GenerationRecord{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var recs []model.GenerationRecord
	err := g.db.Order("id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// userMessage renders an error for the inline message.
func userMessage(err error) string {
	if apiErr, ok := llm.IsAPIError(err); ok {
		body := apiErr.Body
		if r := []rune(body); len(r) > 300 {
			body = string(r[:300]) + "…"
		}
		return fmt.Sprintf("生成选项失败：API 错误 %d：%s", apiErr.StatusCode, body)
	}
	if errors.Is(err, llm.ErrNotConfigured) {
		return "生成选项失败：未配置 API 密钥"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "生成选项失败：请求超时"
	}
	return "生成选项失败：" + err.Error()
}
