package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Manager manages the lifecycle of all registered plugins.
type Manager struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin   // id → plugin
	contexts map[string]*Context // id → context
	order    []string            // dependency load order
	started  []string            // plugins whose Start succeeded

	db       *gorm.DB
	router   *gin.RouterGroup // /api/plugins
	eventBus *EventBus
	coreAPI  CoreAPI
	dataDir  string // base data directory
	logger   *slog.Logger
}

// NewManager creates a plugin Manager. router may be nil when plugins run
// without an HTTP surface (CLI one-shots); plugins then get a detached group.
func NewManager(db *gorm.DB, router *gin.RouterGroup, coreAPI CoreAPI, dataDir string) *Manager {
	logger := slog.Default().With("module", "plugin")
	if router == nil {
		router = gin.New().Group("/api/plugins")
	}
	return &Manager{
		plugins:  make(map[string]Plugin),
		contexts: make(map[string]*Context),
		db:       db,
		router:   router,
		eventBus: NewEventBus(logger),
		coreAPI:  coreAPI,
		dataDir:  dataDir,
		logger:   logger,
	}
}

// EventBus returns the shared event bus.
func (m *Manager) EventBus() *EventBus {
	return m.eventBus
}

// Register adds a plugin to the manager. Call this before InitAll.
func (m *Manager) Register(p Plugin) error {
	meta := p.Metadata()
	if meta.ID == "" {
		return fmt.Errorf("plugin has empty ID")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[meta.ID]; exists {
		return fmt.Errorf("plugin %q already registered", meta.ID)
	}

	m.plugins[meta.ID] = p
	m.logger.Info("plugin registered", "id", meta.ID, "version", meta.Version)
	return nil
}

// InitAll resolves dependencies and calls Init on every enabled plugin in
// dependency order.
func (m *Manager) InitAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.resolveOrder()
	if err != nil {
		return fmt.Errorf("dependency resolution: %w", err)
	}
	m.order = order

	if err := m.db.AutoMigrate(&PluginState{}); err != nil {
		return fmt.Errorf("migrate plugin_states: %w", err)
	}

	for _, id := range m.order {
		p := m.plugins[id]
		meta := p.Metadata()

		if !m.isEnabled(id) {
			m.logger.Info("plugin disabled, skipping", "id", id)
			continue
		}

		pluginDataDir := filepath.Join(m.dataDir, "plugins", id)
		if err := os.MkdirAll(pluginDataDir, 0755); err != nil {
			return fmt.Errorf("create data dir for plugin %q: %w", id, err)
		}

		ctx := &Context{
			DB:          m.db,
			Router:      m.router.Group("/" + id),
			EventBus:    m.eventBus,
			Logger:      m.logger.With("plugin", id),
			DataDir:     pluginDataDir,
			ConfigStore: NewConfigStore(m.db, id),
			CoreAPI:     m.coreAPI,
		}
		m.contexts[id] = ctx

		if err := p.Init(ctx); err != nil {
			return fmt.Errorf("init plugin %q (v%s): %w", id, meta.Version, err)
		}
		m.logger.Info("plugin initialised", "id", id)
	}

	return nil
}

// StartAll calls Start on every initialised plugin in load order. Background
// tasks live until ctx is cancelled or StopAll runs.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		if _, ok := m.contexts[id]; !ok {
			continue
		}
		if err := m.plugins[id].Start(ctx); err != nil {
			return fmt.Errorf("start plugin %q: %w", id, err)
		}
		m.started = append(m.started, id)
		m.logger.Info("plugin started", "id", id)
	}
	return nil
}

// StopAll calls Stop on every started plugin in reverse order.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.started) - 1; i >= 0; i-- {
		id := m.started[i]
		if err := m.plugins[id].Stop(); err != nil {
			m.logger.Error("failed to stop plugin", "id", id, "err", err)
		} else {
			m.logger.Info("plugin stopped", "id", id)
		}
	}
	m.started = nil
	return nil
}

// Get returns a registered plugin by ID.
func (m *Manager) Get(id string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[id]
	return p, ok
}

// List returns info about all registered plugins.
func (m *Manager) List() []PluginInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]PluginInfo, 0, len(m.plugins))
	for _, id := range m.sortedIDs() {
		list = append(list, PluginInfo{
			Metadata: m.plugins[id].Metadata(),
			Enabled:  m.isEnabled(id),
		})
	}
	return list
}

// Enable enables a plugin (takes effect on next restart).
func (m *Manager) Enable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plugins[id]; !ok {
		return fmt.Errorf("plugin %q not found", id)
	}
	return m.setState(id, true)
}

// Disable disables a plugin (takes effect on next restart).
func (m *Manager) Disable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plugins[id]; !ok {
		return fmt.Errorf("plugin %q not found", id)
	}
	return m.setState(id, false)
}

// ── internal helpers ──

// PluginState persists enabled/disabled state per plugin.
type PluginState struct {
	ID      string `gorm:"primaryKey;size:64"`
	Enabled *bool  `gorm:"default:true"`
}

func (PluginState) TableName() string { return "plugin_states" }

func (m *Manager) isEnabled(id string) bool {
	var state PluginState
	if err := m.db.Where("id = ?", id).First(&state).Error; err != nil {
		return true // enabled by default if no record exists
	}
	if state.Enabled == nil {
		return true
	}
	return *state.Enabled
}

func (m *Manager) setState(id string, enabled bool) error {
	return m.db.Where("id = ?", id).
		Assign(PluginState{ID: id, Enabled: &enabled}).
		FirstOrCreate(&PluginState{}).Error
}

// resolveOrder returns plugin IDs so that every plugin follows its
// dependencies; ties are broken by Priority, then ID.
func (m *Manager) resolveOrder() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(m.plugins))
	order := make([]string, 0, len(m.plugins))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("circular dependency detected at plugin %q", id)
		}
		state[id] = visiting
		deps := append([]string(nil), m.plugins[id].Metadata().Dependencies...)
		m.sortByPriority(deps)
		for _, dep := range deps {
			if _, ok := m.plugins[dep]; !ok {
				return fmt.Errorf("plugin %q depends on unknown plugin %q", id, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		order = append(order, id)
		return nil
	}

	ids := m.sortedIDs()
	m.sortByPriority(ids)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (m *Manager) sortByPriority(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		pi, pj := m.plugins[ids[i]], m.plugins[ids[j]]
		if pi == nil || pj == nil {
			return false
		}
		return pi.Metadata().Priority < pj.Metadata().Priority
	})
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.plugins))
	for id := range m.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
