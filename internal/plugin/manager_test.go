package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/YJPM/ti-options/internal/host"
	"github.com/YJPM/ti-options/internal/model"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ── test helpers ──

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&model.Setting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func setupTestManager(t *testing.T) (*Manager, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	db.AutoMigrate(&PluginState{})
	gin.SetMode(gin.TestMode)
	r := gin.New()
	rg := r.Group("/api/plugins")
	mgr := NewManager(db, rg, NewCoreAPI(db, host.NewBridge("auto"), nil), t.TempDir())
	return mgr, db
}

// ── stub plugin ──

type stubPlugin struct {
	meta        Metadata
	initCalled  bool
	startCalled bool
	stopCalled  bool
	startErr    error
	gotCtx      *Context
}

func newStubPlugin(id string, deps []string, priority int) *stubPlugin {
	return &stubPlugin{
		meta: Metadata{
			ID:           id,
			Name:         id,
			Version:      "1.0.0",
			Dependencies: deps,
			Priority:     priority,
		},
	}
}

func (p *stubPlugin) Metadata() Metadata { return p.meta }
func (p *stubPlugin) Init(ctx *Context) error {
	p.initCalled = true
	p.gotCtx = ctx
	return nil
}
func (p *stubPlugin) Start(context.Context) error { p.startCalled = true; return p.startErr }
func (p *stubPlugin) Stop() error                 { p.stopCalled = true; return nil }

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

// ── tests ──

func TestRegisterAndList(t *testing.T) {
	mgr, _ := setupTestManager(t)

	if err := mgr.Register(newStubPlugin("hello", nil, 0)); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Register(newStubPlugin("hello", nil, 0)); err == nil {
		t.Fatal("expected error for duplicate registration")
	}
	if err := mgr.Register(newStubPlugin("", nil, 0)); err == nil {
		t.Fatal("expected error for empty id")
	}

	list := mgr.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(list))
	}
	if list[0].ID != "hello" {
		t.Fatalf("expected id=hello, got %s", list[0].ID)
	}
	if !list[0].Enabled {
		t.Fatal("expected plugin to be enabled by default")
	}
}

func TestInitStartStop(t *testing.T) {
	mgr, _ := setupTestManager(t)

	p := newStubPlugin("test", nil, 0)
	mgr.Register(p)

	if err := mgr.InitAll(); err != nil {
		t.Fatal(err)
	}
	if !p.initCalled {
		t.Fatal("Init was not called")
	}
	if p.gotCtx.ConfigStore == nil || p.gotCtx.EventBus != mgr.EventBus() {
		t.Fatal("plugin context not wired")
	}

	if err := mgr.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !p.startCalled {
		t.Fatal("Start was not called")
	}

	if err := mgr.StopAll(); err != nil {
		t.Fatal(err)
	}
	if !p.stopCalled {
		t.Fatal("Stop was not called")
	}
}

func TestStopSkipsPluginsThatFailedToStart(t *testing.T) {
	mgr, _ := setupTestManager(t)

	good := newStubPlugin("a", nil, 0)
	bad := newStubPlugin("b", nil, 1)
	bad.startErr = errors.New("no")
	mgr.Register(good)
	mgr.Register(bad)

	mgr.InitAll()
	if err := mgr.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	mgr.StopAll()
	if !good.stopCalled {
		t.Fatal("started plugin was not stopped")
	}
	if bad.stopCalled {
		t.Fatal("plugin that failed to start should not be stopped")
	}
}

func TestDependencyOrder(t *testing.T) {
	mgr, _ := setupTestManager(t)

	// B depends on A even though B has the lower priority.
	a := newStubPlugin("a", nil, 10)
	b := newStubPlugin("b", []string{"a"}, 5)
	c := newStubPlugin("c", nil, 1)

	mgr.Register(b)
	mgr.Register(a)
	mgr.Register(c)

	if err := mgr.InitAll(); err != nil {
		t.Fatal(err)
	}

	if indexOf(mgr.order, "a") >= indexOf(mgr.order, "b") {
		t.Fatalf("expected a before b, got %v", mgr.order)
	}
	if mgr.order[0] != "c" {
		t.Fatalf("expected lowest-priority independent plugin first, got %v", mgr.order)
	}
}

func TestCircularDependency(t *testing.T) {
	mgr, _ := setupTestManager(t)

	mgr.Register(newStubPlugin("a", []string{"b"}, 0))
	mgr.Register(newStubPlugin("b", []string{"a"}, 0))

	if err := mgr.InitAll(); err == nil {
		t.Fatal("expected circular dependency error")
	}
}

func TestMissingDependency(t *testing.T) {
	mgr, _ := setupTestManager(t)

	mgr.Register(newStubPlugin("p", []string{"missing"}, 0))

	if err := mgr.InitAll(); err == nil {
		t.Fatal("expected missing dependency error")
	}
}

func TestEnableDisable(t *testing.T) {
	mgr, _ := setupTestManager(t)

	p := newStubPlugin("test", nil, 0)
	mgr.Register(p)

	if err := mgr.Disable("test"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.InitAll(); err != nil {
		t.Fatal(err)
	}
	if p.initCalled {
		t.Fatal("disabled plugin should not have been initialised")
	}
	if err := mgr.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.startCalled {
		t.Fatal("disabled plugin should not have been started")
	}

	if err := mgr.Enable("test"); err != nil {
		t.Fatal(err)
	}
	for _, info := range mgr.List() {
		if info.ID == "test" && !info.Enabled {
			t.Fatal("plugin should be enabled after Enable()")
		}
	}
	if err := mgr.Enable("nope"); err == nil {
		t.Fatal("expected error enabling unknown plugin")
	}
}

func TestPluginDataDir(t *testing.T) {
	mgr, _ := setupTestManager(t)

	mgr.Register(newStubPlugin("test", nil, 0))
	mgr.InitAll()

	expectedDir := filepath.Join(mgr.dataDir, "plugins", "test")
	if _, err := os.Stat(expectedDir); os.IsNotExist(err) {
		t.Fatalf("plugin data dir was not created: %s", expectedDir)
	}
}

func TestCoreAPIHostAndSettings(t *testing.T) {
	db := setupTestDB(t)
	bridge := host.NewBridge("auto")
	rec := &recordingBroadcaster{}
	api := NewCoreAPI(db, bridge, rec)

	if _, err := api.Host(); !errors.Is(err, host.ErrNoBridge) {
		t.Fatalf("expected ErrNoBridge, got %v", err)
	}
	bridge.Hello(host.Capabilities{Session: "s", Accessors: true})
	if a, err := api.Host(); err != nil || a.Kind() != host.KindAccessors {
		t.Fatalf("expected accessor adapter, got %v (%v)", a, err)
	}

	if err := api.SetSetting("k", "v"); err != nil {
		t.Fatal(err)
	}
	if v, err := api.GetSetting("k"); err != nil || v != "v" {
		t.Fatalf("expected v, got %q (%v)", v, err)
	}

	api.PushUI("hello")
	if len(rec.got) != 1 || rec.got[0] != "hello" {
		t.Fatalf("expected broadcast, got %v", rec.got)
	}
}

type recordingBroadcaster struct{ got []any }

func (r *recordingBroadcaster) Broadcast(v any) { r.got = append(r.got, v) }
