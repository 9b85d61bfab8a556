package app

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/talkincode/walink/internal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const settingsCacheTTL = 30 * time.Second

// SettingsManager reads sys_config values with a short-lived cache.
// Values are stored as strings and cast on read.
type SettingsManager struct {
	db *gorm.DB

	mu     sync.RWMutex
	cache  map[string]string
	loaded time.Time
}

func NewSettingsManager(db *gorm.DB) *SettingsManager {
	return &SettingsManager{db: db, cache: map[string]string{}}
}

func (m *SettingsManager) load() {
	m.mu.RLock()
	fresh := time.Since(m.loaded) < settingsCacheTTL
	m.mu.RUnlock()
	if fresh {
		return
	}

	var rows []domain.SysConfig
	if err := m.db.Find(&rows).Error; err != nil {
		zap.L().Warn("settings: load failed", zap.Error(err))
		return
	}
	next := make(map[string]string, len(rows))
	for _, row := range rows {
		next[row.Type+"."+row.Name] = row.Value
	}

	m.mu.Lock()
	m.cache = next
	m.loaded = time.Now()
	m.mu.Unlock()
}

func (m *SettingsManager) value(category, name string) (string, bool) {
	m.load()
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.cache[category+"."+name]
	return v, ok
}

func (m *SettingsManager) GetString(category, name string) string {
	v, _ := m.value(category, name)
	return v
}

func (m *SettingsManager) GetInt64(category, name string) int64 {
	v, _ := m.value(category, name)
	return cast.ToInt64(v)
}

func (m *SettingsManager) GetInt64Default(category, name string, def int64) int64 {
	v, ok := m.value(category, name)
	if !ok || v == "" {
		return def
	}
	return cast.ToInt64(v)
}

func (m *SettingsManager) GetBool(category, name string) bool {
	v, _ := m.value(category, name)
	return cast.ToBool(v)
}

// Set writes one setting and drops the cache.
func (m *SettingsManager) Set(category, name, value string) error {
	var row domain.SysConfig
	err := m.db.Where("type = ? and name = ?", category, name).First(&row).Error
	switch {
	case err == nil:
		err = m.db.Model(&row).Update("value", value).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = m.db.Create(&domain.SysConfig{
			Type:  category,
			Name:  name,
			Value: value,
		}).Error
	}
	if err != nil {
		return errors.Wrap(err, "save setting")
	}
	m.mu.Lock()
	m.loaded = time.Time{}
	m.mu.Unlock()
	return nil
}
