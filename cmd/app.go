package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/YJPM/ti-options/internal/config"
	"github.com/YJPM/ti-options/internal/database"
	"github.com/YJPM/ti-options/internal/host"
	"github.com/YJPM/ti-options/internal/plugin"
	"github.com/YJPM/ti-options/plugins/options"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// app is the wired plugin host shared by the commands.
type app struct {
	db      *gorm.DB
	bridge  *host.Bridge
	mgr     *plugin.Manager
	options *options.Plugin
	closers []func() error
}

// appOptions selects what a command needs from the host.
type appOptions struct {
	hostMode string           // overrides cfg.Host.Mode when set
	router   *gin.RouterGroup // nil for CLI one-shots
	ui       plugin.Broadcaster
	director bool
}

func newApp(ctx context.Context, cfg *config.Config, o appOptions) (*app, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	mode := cfg.Host.Mode
	if o.hostMode != "" {
		mode = o.hostMode
	}
	a.bridge = host.NewBridge(mode)

	coreAPI := plugin.NewCoreAPI(db, a.bridge, o.ui)
	a.mgr = plugin.NewManager(db, o.router, coreAPI, cfg.DataDir)

	cache, closeCache := newSuggestionCache(ctx, cfg)
	if closeCache != nil {
		a.closers = append(a.closers, closeCache)
	}

	a.options = options.New(options.Options{
		Secret:          cfg.JWTSecret,
		DirectorEnabled: o.director,
		PollInterval:    cfg.Director.PollInterval,
		TypewriterDelay: cfg.UI.TypewriterDelay,
		LLMTimeout:      cfg.LLM.Timeout,
		Cache:           cache,
		CacheTTL:        cfg.Cache.TTL,
	})
	if err := a.mgr.Register(a.options); err != nil {
		return nil, err
	}
	if err := a.mgr.InitAll(); err != nil {
		return nil, fmt.Errorf("init plugins: %w", err)
	}
	if a.options.Service() == nil {
		return nil, fmt.Errorf("plugin %q is disabled", options.ID)
	}
	return a, nil
}

// newSuggestionCache returns a Redis cache when configured and reachable,
// otherwise an in-memory one.
func newSuggestionCache(ctx context.Context, cfg *config.Config) (options.SuggestionCache, func() error) {
	if cfg.Cache.RedisAddr == "" {
		return options.NewMemoryCache(), nil
	}
	rc, err := options.NewRedisCache(ctx, cfg.Cache.RedisAddr)
	if err != nil {
		slog.Warn("redis unavailable, using in-memory suggestion cache", "addr", cfg.Cache.RedisAddr, "err", err)
		return options.NewMemoryCache(), nil
	}
	slog.Info("suggestion cache connected", "addr", cfg.Cache.RedisAddr)
	return rc, rc.Close
}

func (a *app) close() {
	a.mgr.StopAll()
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("close", "err", err)
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
