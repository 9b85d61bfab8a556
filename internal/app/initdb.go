package app

import (
	"time"

	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/pkg/common"
	"go.uber.org/zap"
)

type settingSchema struct {
	Key         string
	Default     string
	Description string
}

// defaultSettings seeds sys_config on first start. Operators tune these
// at runtime without a restart.
var defaultSettings = []settingSchema{
	{"whatsapp.webhook_base", "http://127.0.0.1:1816/whatsapp/webhook", "Base url the agents post webhook events to"},
	{"whatsapp.health_interval", "60", "Seconds between account health sweeps"},
	{"whatsapp.health_pool_size", "8", "Concurrent health check workers"},
	{"whatsapp.auto_reply_window", "3600", "Auto-reply suppression window in seconds"},
	{"whatsapp.bulk_default_delay", "2", "Default seconds between bulk sends"},
	{"whatsapp.message_retention_days", "365", "Days of message history to keep, 0 keeps forever"},
}

func (a *Application) checkSettings() {
	for sortid, schema := range defaultSettings {
		category, name, ok := splitKey(schema.Key)
		if !ok {
			zap.L().Warn("invalid config key format", zap.String("key", schema.Key))
			continue
		}

		var count int64
		a.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", category, name).
			Count(&count)

		if count == 0 {
			a.gormDB.Create(&domain.SysConfig{
				Sort:   sortid,
				Type:   category,
				Name:   name,
				Value:  schema.Default,
				Remark: schema.Description,
			})
			zap.L().Info("initialized config",
				zap.String("key", schema.Key),
				zap.String("default", schema.Default))
		}
	}
}

// checkTemplates seeds a starter template so the template api is usable
// out of the box.
func (a *Application) checkTemplates() {
	var count int64
	a.gormDB.Model(&domain.WhatsAppTemplate{}).Count(&count)
	if count > 0 {
		return
	}
	if err := a.gormDB.Create(&domain.WhatsAppTemplate{
		ID:           common.UUIDint64(),
		Name:         "Welcome",
		Code:         "welcome",
		Content:      "Hello {{name}}, thanks for reaching out. We will reply shortly.",
		TemplateType: domain.TypeText,
		Variables:    "name",
		Active:       1,
	}).Error; err != nil {
		zap.L().Error("failed to create default template", zap.Error(err))
		return
	}
	zap.L().Info("initialized default welcome template")
}

// resetOrphanSessions repairs accounts left in transient states by an
// unclean shutdown. Their agent processes did not survive the restart,
// so connecting/authenticated/ready without a live pid becomes error.
func (a *Application) resetOrphanSessions() {
	var accounts []domain.WhatsAppAccount
	err := a.gormDB.Where("status in ?", []string{
		domain.AccountConnecting, domain.AccountAuthenticated,
		domain.AccountReady, domain.AccountQRCode,
	}).Find(&accounts).Error
	if err != nil {
		zap.L().Error("orphan session scan failed", zap.Error(err))
		return
	}
	for _, account := range accounts {
		if account.ProcessId > 0 && a.procManager.IsRunning(account.ProcessId) {
			continue
		}
		zap.L().Warn("resetting orphaned session",
			zap.Int64("account_id", account.ID),
			zap.String("status", account.Status))
		a.gormDB.Model(&domain.WhatsAppAccount{}).
			Where("id = ?", account.ID).
			Updates(map[string]interface{}{
				"status":         domain.AccountError,
				"process_id":     0,
				"process_status": domain.ProcessStopped,
				"qr_code":        "",
				"qr_code_image":  []byte(nil),
				"updated_at":     time.Now(),
			})
	}
}

func splitKey(key string) (category, name string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
