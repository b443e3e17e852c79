package options

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/YJPM/ti-options/internal/host"
	pluginpkg "github.com/YJPM/ti-options/internal/plugin"
	"golang.org/x/sync/singleflight"
)

// Service ties the settings, indicator, options view, generator and
// director together and reacts to host lifecycle events.
type Service struct {
	Settings  *SettingsStore
	Indicator *Indicator
	View      *OptionsView
	Generator *Generator
	Director  *Director // nil when polling is off

	core   pluginpkg.CoreAPI
	logger *slog.Logger
	models singleflight.Group

	mu      sync.Mutex
	baseCtx context.Context
	stopped bool // no new background cycles once set
	wg      sync.WaitGroup
}

// NewService wires the components around store and core. genCfg supplies
// the generator's cache, timeouts, provider factory and history DB; its
// remaining fields are filled in here.
func NewService(store *SettingsStore, core pluginpkg.CoreAPI, opts Options, genCfg GeneratorConfig, logger *slog.Logger) *Service {
	push := func(ev UIEvent) { core.PushUI(ev) }

	s := &Service{
		Settings:  store,
		Indicator: NewIndicator(push),
		View:      NewOptionsView(opts.TypewriterDelay, push),
		core:      core,
		logger:    logger,
		baseCtx:   context.Background(),
	}

	genCfg.Settings = store
	genCfg.Core = core
	genCfg.View = s.View
	genCfg.Logger = logger
	s.Generator = NewGenerator(genCfg)

	if opts.DirectorEnabled {
		s.Director = NewDirector(s.Generator, core, opts.PollInterval, logger)
	}
	return s
}

// start binds asynchronous cycles to ctx and starts the director.
func (s *Service) start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.stopped = false
	s.mu.Unlock()

	if s.Director != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Director.Run(ctx)
		}()
	}
}

// wait blocks until background work has returned.
func (s *Service) wait() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.Generator.Cancel()
	s.wg.Wait()
	s.View.Wait()
}

func (s *Service) lifecycle() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// HandleHostEvent applies one host lifecycle event.
func (s *Service) HandleHostEvent(ev pluginpkg.Event) {
	genType := ev.String("type")
	dryRun := ev.Bool("dry_run")

	switch ev.Type {
	case host.EventGenerationAfterCommands:
		st := s.Settings.Load()
		name := ev.String("char_name")
		if name == "" {
			name = s.characterName()
		}
		s.Indicator.Show(st, genType, dryRun, name)
		if genType != GenTypeQuiet && !dryRun {
			s.View.Clear()
		}

	case host.EventGenerationStopped:
		s.Indicator.Hide()

	case host.EventGenerationEnded:
		s.Indicator.Hide()
		if s.Director == nil && genType != GenTypeQuiet && !dryRun {
			s.runAsync(TriggerEvent)
		}

	case host.EventChatChanged:
		s.Indicator.Hide()
		s.Generator.Cancel()
		s.View.Clear()
		if s.Director != nil {
			s.Director.Reset()
		}
	}
}

func (s *Service) characterName() string {
	a, err := s.core.Host()
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(s.lifecycle(), 2*time.Second)
	defer cancel()
	c, err := a.Character(ctx)
	if err != nil {
		return ""
	}
	return c.Name
}

func (s *Service) runAsync(trigger string) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Debug("cycle skipped", "trigger", trigger, "reason", "service stopped")
		return false
	}
	ctx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		_, err := s.Generator.Run(ctx, trigger, RunOptions{})
		switch {
		case err == nil:
		case errors.Is(err, ErrBusy), errors.Is(err, ErrDisabled):
			s.logger.Debug("cycle skipped", "trigger", trigger, "reason", err)
		default:
			s.logger.Warn("cycle failed", "trigger", trigger, "err", err)
		}
	}()
	return true
}

// Generate runs a cycle on request, regardless of optionsGenEnabled.
func (s *Service) Generate(ctx context.Context, trigger string) (*CycleResult, error) {
	return s.Generator.Run(ctx, trigger, RunOptions{
		Force:       true,
		BypassCache: trigger == TriggerRetry,
	})
}

// Click applies a click on a rendered option using the configured send mode.
func (s *Service) Click(index int) (ClickResult, error) {
	return s.View.Click(index, s.Settings.Load().SendMode)
}

// TestConnection lists the models the configured backend serves. st
// overrides the stored settings when non-nil; a masked key in st falls back
// to the stored key. Concurrent tests for the same endpoint share one call.
func (s *Service) TestConnection(ctx context.Context, st *Settings) ([]string, error) {
	stored := s.Settings.Load()
	if st == nil {
		st = &stored
	} else if isMasked(st.OptionsAPIKey) || st.OptionsAPIKey == "" {
		st.OptionsAPIKey = stored.OptionsAPIKey
	}
	cfg := st.LLMConfig()

	key := CacheKey(cfg, nil, "models:"+cfg.APIKey)
	v, err, _ := s.models.Do(key, func() (interface{}, error) {
		provider, err := s.Generator.newProvider(cfg)
		if err != nil {
			return nil, err
		}
		return provider.ListModels(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("test connection: %w", err)
	}
	return v.([]string), nil
}
