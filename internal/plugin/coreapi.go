package plugin

import (
	"github.com/YJPM/ti-options/internal/host"
	"github.com/YJPM/ti-options/internal/model"
	"gorm.io/gorm"
)

// Broadcaster delivers a UI event to connected bridges.
type Broadcaster interface {
	Broadcast(v any)
}

// coreAPIImpl implements CoreAPI on top of the bridge state and the UI hub.
type coreAPIImpl struct {
	db     *gorm.DB
	bridge *host.Bridge
	ui     Broadcaster
}

// NewCoreAPI creates a CoreAPI backed by the given bridge and broadcaster.
// ui may be nil when no bridge channel exists (one-shot CLI runs).
func NewCoreAPI(db *gorm.DB, bridge *host.Bridge, ui Broadcaster) CoreAPI {
	return &coreAPIImpl{
		db:     db,
		bridge: bridge,
		ui:     ui,
	}
}

func (a *coreAPIImpl) Host() (host.Adapter, error) {
	return a.bridge.Adapter()
}

func (a *coreAPIImpl) PushUI(ev any) {
	if a.ui == nil {
		return
	}
	a.ui.Broadcast(ev)
}

func (a *coreAPIImpl) GetSetting(key string) (string, error) {
	var s model.Setting
	if err := a.db.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func (a *coreAPIImpl) SetSetting(key, value string) error {
	return upsertSetting(a.db, key, value)
}

func (a *coreAPIImpl) GetDB() *gorm.DB {
	return a.db
}
