// Package bulk runs paced multi-recipient send campaigns: sequential
// sends with a configurable delay, per-recipient personalization and
// success/error accounting.
package bulk

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/pipeline"
	"github.com/talkincode/walink/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Recipient is one bulk target with its personalization values.
type Recipient struct {
	Phone   string `json:"phone"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
}

// Vars returns the placeholder values for this recipient.
func (r *Recipient) Vars() map[string]string {
	return map[string]string{
		"name":    r.Name,
		"number":  r.Phone,
		"email":   r.Email,
		"company": r.Company,
	}
}

// MessageSender is the pipeline surface used by the dispatcher.
type MessageSender interface {
	Send(account *domain.WhatsAppAccount, opts *pipeline.SendOptions) (*domain.WhatsAppMessage, error)
}

// Dispatcher owns bulk job execution and the scheduled-job sweep.
type Dispatcher struct {
	db     *gorm.DB
	sender MessageSender
}

func NewDispatcher(db *gorm.DB, sender MessageSender) *Dispatcher {
	return &Dispatcher{db: db, sender: sender}
}

// Create persists a new bulk job. Jobs with a future schedule time are
// stored as scheduled and picked up by the sweep; others are expected to
// be run immediately by the caller.
func (d *Dispatcher) Create(account *domain.WhatsAppAccount, message, messageType string,
	templateId int64, delaySeconds int, personalize bool,
	recipients []Recipient, scheduleAt *time.Time) (*domain.WhatsAppBulkJob, error) {

	if len(recipients) == 0 {
		return nil, errors.New("no recipients")
	}
	if delaySeconds < 1 {
		delaySeconds = 1
	}
	data, err := json.MarshalToString(recipients)
	if err != nil {
		return nil, errors.Wrap(err, "encode recipients")
	}

	job := &domain.WhatsAppBulkJob{
		ID:              common.UUIDint64(),
		AccountId:       account.ID,
		Message:         message,
		MessageType:     messageType,
		TemplateId:      templateId,
		TotalRecipients: len(recipients),
		DelaySeconds:    delaySeconds,
		Status:          domain.BulkRunning,
		RecipientData:   data,
		ScheduleAt:      scheduleAt,
	}
	if personalize {
		job.Personalize = 1
	}
	if scheduleAt != nil && scheduleAt.After(time.Now()) {
		job.Status = domain.BulkScheduled
	}
	if err := d.db.Create(job).Error; err != nil {
		return nil, errors.Wrap(err, "persist bulk job")
	}
	return job, nil
}

// Run executes the job sequentially. Each recipient gets one send attempt;
// failures count and never abort the loop. Context cancellation stops the
// loop between sends, the job is still closed with the counters reached
// so far.
func (d *Dispatcher) Run(ctx context.Context, account *domain.WhatsAppAccount,
	job *domain.WhatsAppBulkJob, recipients []Recipient) {

	now := time.Now()
	d.updateJob(job, map[string]interface{}{
		"status":     domain.BulkRunning,
		"started_at": now,
	})
	job.StartedAt = &now

	success, failed := 0, 0
	delay := time.Duration(job.DelaySeconds) * time.Second

loop:
	for i, recipient := range recipients {
		if i > 0 {
			select {
			case <-ctx.Done():
				zap.L().Warn("bulk: job cancelled",
					zap.Int64("job_id", job.ID), zap.Int("position", i))
				break loop
			case <-time.After(delay):
			}
		}

		body := job.Message
		if job.Personalize == 1 {
			body = domain.RenderPlaceholders(body, recipient.Vars())
		}
		_, err := d.sender.Send(account, &pipeline.SendOptions{
			To:          recipient.Phone,
			Message:     body,
			MessageType: job.MessageType,
			TemplateId:  job.TemplateId,
		})
		if err != nil {
			failed++
			zap.L().Warn("bulk: send failed",
				zap.Int64("job_id", job.ID),
				zap.String("phone", recipient.Phone), zap.Error(err))
		} else {
			success++
		}
	}

	done := time.Now()
	d.updateJob(job, map[string]interface{}{
		"status":        domain.BulkCompleted,
		"success_count": success,
		"error_count":   failed,
		"completed_at":  done,
	})
	job.Status = domain.BulkCompleted
	job.SuccessCount = success
	job.ErrorCount = failed
	job.CompletedAt = &done

	zap.L().Info("bulk: job completed",
		zap.Int64("job_id", job.ID),
		zap.Int("success", success),
		zap.Int("failed", failed))
}

// RunScheduled executes every scheduled job whose time has come. Called
// from the cron sweep.
func (d *Dispatcher) RunScheduled(ctx context.Context) {
	var jobs []domain.WhatsAppBulkJob
	err := d.db.Where("status = ? and schedule_at <= ?", domain.BulkScheduled, time.Now()).
		Find(&jobs).Error
	if err != nil {
		zap.L().Error("bulk: scheduled sweep failed", zap.Error(err))
		return
	}
	for i := range jobs {
		job := &jobs[i]
		var account domain.WhatsAppAccount
		if err := d.db.First(&account, job.AccountId).Error; err != nil {
			zap.L().Warn("bulk: account gone for scheduled job",
				zap.Int64("job_id", job.ID), zap.Error(err))
			d.updateJob(job, map[string]interface{}{"status": domain.BulkCompleted})
			continue
		}
		recipients, err := DecodeRecipients(job.RecipientData)
		if err != nil {
			zap.L().Warn("bulk: bad recipient data",
				zap.Int64("job_id", job.ID), zap.Error(err))
			d.updateJob(job, map[string]interface{}{"status": domain.BulkCompleted})
			continue
		}
		d.Run(ctx, &account, job, recipients)
	}
}

// DecodeRecipients parses the stored recipient list of a job.
func DecodeRecipients(data string) ([]Recipient, error) {
	var recipients []Recipient
	if err := json.UnmarshalFromString(data, &recipients); err != nil {
		return nil, err
	}
	return recipients, nil
}

func (d *Dispatcher) updateJob(job *domain.WhatsAppBulkJob, values map[string]interface{}) {
	err := d.db.Model(&domain.WhatsAppBulkJob{}).
		Where("id = ?", job.ID).Updates(values).Error
	if err != nil {
		zap.L().Warn("bulk: job update failed",
			zap.Int64("job_id", job.ID), zap.Error(err))
	}
}
