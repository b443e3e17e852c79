package plugin

import (
	"context"
	"log/slog"

	"github.com/YJPM/ti-options/internal/host"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Plugin is the interface that all plugins must implement.
type Plugin interface {
	// Metadata returns the plugin's metadata.
	Metadata() Metadata

	// Init is called once during startup. The plugin should register
	// API routes, subscribe to host events and run database migrations.
	Init(ctx *Context) error

	// Start is called after Init to start background tasks. Tasks must
	// stop when ctx is cancelled.
	Start(ctx context.Context) error

	// Stop is called during shutdown to clean up resources.
	Stop() error
}

// Metadata describes a plugin.
type Metadata struct {
	ID           string   `json:"id"`           // unique identifier, e.g. "options"
	Name         string   `json:"name"`         // display name
	Version      string   `json:"version"`      // semver, e.g. "1.0.0"
	Description  string   `json:"description"`  // short description
	Author       string   `json:"author"`       // author name
	Dependencies []string `json:"dependencies"` // IDs of plugins this one depends on
	Priority     int      `json:"priority"`     // load order (lower = earlier)
}

// Context is the runtime context provided to plugins during Init.
type Context struct {
	DB          *gorm.DB         // database connection (use plugin-prefixed tables)
	Router      *gin.RouterGroup // API route group: /api/plugins/{id}/
	EventBus    *EventBus        // host lifecycle events and plugin events
	Logger      *slog.Logger     // structured logger with plugin ID prefix
	DataDir     string           // plugin-specific data directory
	ConfigStore *ConfigStore     // plugin configuration reader/writer
	CoreAPI     CoreAPI          // access to host state and the UI channel
}

// CoreAPI exposes core service functionality to plugins.
type CoreAPI interface {
	// Host returns the adapter selected for the current bridge session.
	Host() (host.Adapter, error)

	// PushUI broadcasts a UI event to every connected bridge.
	PushUI(ev any)

	// Settings is the shared key-value store.
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error

	// GetDB returns the core database connection for read-only queries.
	// Plugins should NOT write to core tables directly.
	GetDB() *gorm.DB
}

// PluginInfo is the serialisable representation returned by the management API.
type PluginInfo struct {
	Metadata
	Enabled bool `json:"enabled"`
}
