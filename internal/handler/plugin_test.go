package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/YJPM/ti-options/internal/host"
	"github.com/YJPM/ti-options/internal/plugin"
	"github.com/gin-gonic/gin"
)

type namedPlugin struct{ id string }

func (p namedPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{ID: p.id, Name: p.id, Version: "0.1.0"}
}
func (namedPlugin) Init(*plugin.Context) error { return nil }
func (namedPlugin) Start(context.Context) error { return nil }
func (namedPlugin) Stop() error { return nil }

func setupPluginRouter(t *testing.T) (*gin.Engine, *plugin.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)
	db.AutoMigrate(&plugin.PluginState{})

	mgr := plugin.NewManager(db, nil, plugin.NewCoreAPI(db, host.NewBridge("auto"), nil), t.TempDir())
	if err := mgr.Register(namedPlugin{id: "options"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	h := NewPluginHandler(mgr)
	r := gin.New()
	r.GET("/api/plugins", h.List)
	r.POST("/api/plugins/:id/enable", h.Enable)
	r.POST("/api/plugins/:id/disable", h.Disable)
	return r, mgr
}

func TestPluginDisableThenList(t *testing.T) {
	r, _ := setupPluginRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/plugins/options/disable", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("disable status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/plugins", nil))
	var resp struct {
		Plugins []plugin.PluginInfo `json:"plugins"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Plugins) != 1 || resp.Plugins[0].Enabled {
		t.Errorf("plugins = %+v, want options disabled", resp.Plugins)
	}
}

func TestPluginEnableUnknown(t *testing.T) {
	r, _ := setupPluginRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/plugins/missing/enable", nil))
	if w.Code != http.StatusNotFound || !responseHasErrorKey(w) {
		t.Errorf("status = %d, body %s", w.Code, w.Body.String())
	}
}
