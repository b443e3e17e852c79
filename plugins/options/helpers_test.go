package options

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/YJPM/ti-options/internal/database"
	"github.com/YJPM/ti-options/internal/host"
	pluginpkg "github.com/YJPM/ti-options/internal/plugin"
	"github.com/YJPM/ti-options/plugins/options/llm"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret"

// ── test helpers ──

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testLogger() *slog.Logger {
	return slog.Default().With("plugin", ID)
}

func newTestStore(t *testing.T, db *gorm.DB) (*SettingsStore, *pluginpkg.ConfigStore) {
	t.Helper()
	cs := pluginpkg.NewConfigStore(db, ID)
	return NewSettingsStore(cs, testSecret, testLogger()), cs
}

// uiRecorder collects pushed UI events.
type uiRecorder struct {
	mu     sync.Mutex
	events []UIEvent
}

func (r *uiRecorder) Broadcast(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := v.(UIEvent); ok {
		r.events = append(r.events, ev)
	}
}

func (r *uiRecorder) push(ev UIEvent) { r.Broadcast(ev) }

func (r *uiRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *uiRecorder) last(typ string) (UIEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return UIEvent{}, false
}

// fakeProvider answers Generate with a fixed reply. When block is set each
// call waits on it first.
type fakeProvider struct {
	mu      sync.Mutex
	reply   string
	err     error
	models  []string
	block   chan struct{}
	started chan struct{}
	calls   int
	prompts []string
}

func (p *fakeProvider) Generate(ctx context.Context, history []llm.Message, prompt string) (string, error) {
	p.mu.Lock()
	p.calls++
	p.prompts = append(p.prompts, prompt)
	block, started := p.block, p.started
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.reply, p.err
}

func (p *fakeProvider) ListModels(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.models, p.err
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// harness is a service over a real bridge with an accessor adapter.
type harness struct {
	db       *gorm.DB
	bridge   *host.Bridge
	ui       *uiRecorder
	provider *fakeProvider
	store    *SettingsStore
	svc      *Service
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		db:       setupTestDB(t),
		bridge:   host.NewBridge("auto"),
		ui:       &uiRecorder{},
		provider: &fakeProvider{reply: "【go left】【go right】", models: []string{"gpt-4o-mini"}},
	}
	h.store, _ = newTestStore(t, h.db)

	st := DefaultSettings()
	st.OptionsAPIKey = "sk-test-0123456789"
	st.AnimationEnabled = false
	if err := h.store.Save(st); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	core := pluginpkg.NewCoreAPI(h.db, h.bridge, h.ui)
	h.svc = NewService(h.store, core, opts, GeneratorConfig{
		DB:       h.db,
		Cache:    opts.Cache,
		CacheTTL: time.Minute,
		NewProvider: func(cfg llm.Config) (llm.Provider, error) {
			if cfg.APIKey == "" {
				return nil, llm.ErrNotConfigured
			}
			return h.provider, nil
		},
	}, testLogger())
	t.Cleanup(h.svc.wait)
	return h
}

// connect announces an accessor bridge and pushes c.
func (h *harness) connect(t *testing.T, c host.Context) {
	t.Helper()
	h.bridge.Hello(host.Capabilities{Session: "s1", Accessors: true})
	if err := h.bridge.UpdateContext(c); err != nil {
		t.Fatalf("update context: %v", err)
	}
}

func (h *harness) update(st func(*Settings)) {
	s := h.store.Load()
	st(&s)
	h.store.Save(s)
}

// failingAdapter fails every read.
type failingAdapter struct{ panicOn string }

var errHostDown = errors.New("host down")

func (f failingAdapter) Kind() string { return "failing" }

func (f failingAdapter) UserInput(ctx context.Context) (string, error) {
	if f.panicOn == "user_input" {
		panic("composer missing")
	}
	return "", errHostDown
}

func (f failingAdapter) Character(ctx context.Context) (host.Character, error) {
	return host.Character{}, errHostDown
}

func (f failingAdapter) WorldInfo(ctx context.Context) ([]host.WorldEntry, error) {
	return nil, errHostDown
}

func (f failingAdapter) Messages(ctx context.Context) ([]host.Message, error) {
	return nil, errHostDown
}

func (f failingAdapter) LastMessageID(ctx context.Context) (string, error) {
	return "", errHostDown
}
