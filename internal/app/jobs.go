package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/talkincode/walink/internal/domain"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 60s", func() {
		defer jobRecover("health check")
		a.RunHealthCheckNow()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@every 30s", func() {
		defer jobRecover("bulk sweep")
		a.dispatcher.RunScheduled(context.Background())
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		defer jobRecover("message retention")
		a.cleanupMessages()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}
}

// cleanupMessages trims message history past the configured retention.
func (a *Application) cleanupMessages() {
	days := a.settings.GetInt64Default("whatsapp", "message_retention_days", 365)
	if days <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	res := a.gormDB.Where("timestamp < ?", cutoff).Delete(&domain.WhatsAppMessage{})
	if res.Error != nil {
		zap.L().Error("message retention cleanup failed", zap.Error(res.Error))
		return
	}
	if res.RowsAffected > 0 {
		zap.L().Info("message retention cleanup",
			zap.Int64("deleted", res.RowsAffected),
			zap.Time("cutoff", cutoff))
	}

	res = a.gormDB.Where("status = ? and completed_at < ?", domain.BulkCompleted, cutoff).
		Delete(&domain.WhatsAppBulkJob{})
	if res.Error == nil && res.RowsAffected > 0 {
		zap.L().Info("bulk job retention cleanup", zap.Int64("deleted", res.RowsAffected))
	}
}

func jobRecover(name string) {
	if r := recover(); r != nil {
		zap.L().Error("scheduled job panic",
			zap.String("job", name), zap.Any("panic", r))
	}
}
