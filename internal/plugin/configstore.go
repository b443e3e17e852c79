package plugin

import (
	"fmt"

	"github.com/YJPM/ti-options/internal/model"
	"gorm.io/gorm"
)

// ConfigStore provides scoped key-value configuration for a single plugin.
// Keys are stored in the shared settings table with the prefix "plugin.{id}.".
type ConfigStore struct {
	db     *gorm.DB
	prefix string // "plugin.options." etc.
}

// NewConfigStore creates a ConfigStore scoped to the given plugin ID.
func NewConfigStore(db *gorm.DB, pluginID string) *ConfigStore {
	return &ConfigStore{
		db:     db,
		prefix: fmt.Sprintf("plugin.%s.", pluginID),
	}
}

// Get reads a configuration value. Returns empty string if not found.
func (cs *ConfigStore) Get(key string) string {
	var s model.Setting
	if err := cs.db.Where("key = ?", cs.prefix+key).First(&s).Error; err != nil {
		return ""
	}
	return s.Value
}

// Set writes a configuration value (upsert).
func (cs *ConfigStore) Set(key, value string) error {
	return upsertSetting(cs.db, cs.prefix+key, value)
}

// SetMany writes several values in one transaction.
func (cs *ConfigStore) SetMany(values map[string]string) error {
	return cs.db.Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			if err := upsertSetting(tx, cs.prefix+k, v); err != nil {
				return fmt.Errorf("set %s: %w", k, err)
			}
		}
		return nil
	})
}

// Delete removes a configuration value.
func (cs *ConfigStore) Delete(key string) error {
	return cs.db.Where("key = ?", cs.prefix+key).Delete(&model.Setting{}).Error
}

// All returns all configuration values for this plugin as a map.
// Read errors yield an empty map; use Values when the caller must tell
// "nothing stored" from "store unavailable".
func (cs *ConfigStore) All() map[string]string {
	values, err := cs.Values()
	if err != nil {
		return map[string]string{}
	}
	return values
}

// Values returns all configuration values for this plugin.
func (cs *ConfigStore) Values() (map[string]string, error) {
	var settings []model.Setting
	if err := cs.db.Where("key LIKE ?", cs.prefix+"%").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("read %s*: %w", cs.prefix, err)
	}

	result := make(map[string]string, len(settings))
	prefixLen := len(cs.prefix)
	for _, s := range settings {
		result[s.Key[prefixLen:]] = s.Value
	}
	return result, nil
}

func upsertSetting(db *gorm.DB, key, value string) error {
	return db.Where("key = ?", key).
		Assign(model.Setting{Key: key, Value: value}).
		FirstOrCreate(&model.Setting{}).Error
}
