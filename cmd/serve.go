package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/YJPM/ti-options/internal/auth"
	"github.com/YJPM/ti-options/internal/handler"
	"github.com/YJPM/ti-options/internal/metrics"
	"github.com/YJPM/ti-options/internal/ws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server for browser bridges",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := slog.Default().With("module", "server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), metrics.Middleware())

	// The bridge runs inside the host application's page.
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if cfg.Auth.Enabled {
		api.Use(auth.Middleware(cfg.JWTSecret))
	} else {
		log.Warn("bridge authentication is disabled")
	}

	hub := ws.NewHub(cfg.CORS.AllowedOrigins...)
	a, err := newApp(ctx, cfg, appOptions{
		router:   api.Group("/plugins"),
		ui:       hub,
		director: cfg.Director.Enabled,
	})
	if err != nil {
		return err
	}
	defer a.close()

	pluginH := handler.NewPluginHandler(a.mgr)
	api.GET("/plugins", pluginH.List)
	api.POST("/plugins/:id/enable", pluginH.Enable)
	api.POST("/plugins/:id/disable", pluginH.Disable)

	svc := a.options.Service()
	hostH := handler.NewHostHandler(a.bridge, a.mgr.EventBus(), hub, a.db, func(index int) error {
		_, err := svc.Click(index)
		return err
	})
	hostH.Register(api)

	if err := a.mgr.StartAll(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("ti-options starting", "addr", srv.Addr, "data_dir", cfg.DataDir, "host_mode", cfg.Host.Mode, "director", cfg.Director.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "err", err)
	}
	log.Info("server exited")
	return nil
}
