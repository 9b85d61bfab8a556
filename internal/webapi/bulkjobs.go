package webapi

import (
	"context"
	"net/http"
	"time"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/bulk"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/webserver"
	"gorm.io/gorm"
)

func registerBulkRoutes() {
	webserver.ApiGET("/whatsapp/bulk", listBulkJobs)
	webserver.ApiGET("/whatsapp/bulk/:id", getBulkJob)
	webserver.ApiPOST("/whatsapp/accounts/:id/bulk", createBulkJob)
}

func listBulkJobs(c echo.Context) error {
	page, pageSize := parsePagination(c)
	base := GetDB(c).Model(&domain.WhatsAppBulkJob{})
	if v := c.QueryParam("account_id"); v != "" {
		base = base.Where("account_id = ?", v)
	}
	if v := c.QueryParam("status"); v != "" {
		base = base.Where("status = ?", v)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query bulk jobs", err.Error())
	}
	var jobs []domain.WhatsAppBulkJob
	if err := base.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&jobs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query bulk jobs", err.Error())
	}
	return paged(c, jobs, total, page, pageSize)
}

func getBulkJob(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid job ID", nil)
	}
	var job domain.WhatsAppBulkJob
	if err := GetDB(c).Where("id = ?", id).First(&job).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "JOB_NOT_FOUND", "Bulk job not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query bulk job", err.Error())
	}
	return ok(c, job)
}

type bulkPayload struct {
	Message      string           `json:"message"`
	MessageType  string           `json:"message_type"`
	TemplateId   int64            `json:"template_id,string"`
	DelaySeconds int              `json:"delay_seconds"`
	Personalize  bool             `json:"personalize"`
	Recipients   []bulk.Recipient `json:"recipients"`
	ContactIds   []int64          `json:"contact_ids"`
	PartnerIds   []int64          `json:"partner_ids"`
	LeadIds      []int64          `json:"lead_ids"`
	ScheduleAt   string           `json:"schedule_at"`
}

// createBulkJob accepts a recipient list and either runs the campaign in
// the background right away or stores it for the scheduled sweep.
func createBulkJob(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	var payload bulkPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	recipients, err := deps.Bulk.ResolveRecipients(account, payload.Recipients,
		payload.ContactIds, payload.PartnerIds, payload.LeadIds)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to resolve recipients", err.Error())
	}
	if len(recipients) == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "recipients are required", nil)
	}

	message := payload.Message
	if payload.TemplateId != 0 {
		var tpl domain.WhatsAppTemplate
		if err := GetDB(c).Where("id = ? and active = 1", payload.TemplateId).First(&tpl).Error; err != nil {
			return fail(c, http.StatusNotFound, "TEMPLATE_NOT_FOUND", "Template not found", nil)
		}
		message = tpl.Content
	}
	if message == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "message or template_id is required", nil)
	}

	var scheduleAt *time.Time
	if payload.ScheduleAt != "" {
		at, err := dateparse.ParseAny(payload.ScheduleAt)
		if err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_SCHEDULE", "Unable to parse schedule_at", err.Error())
		}
		scheduleAt = &at
	}
	if scheduleAt == nil && account.Status != domain.AccountReady {
		return fail(c, http.StatusConflict, "ACCOUNT_NOT_READY", "Account session is not ready", account.Status)
	}

	job, err := deps.Bulk.Create(account, message, messageTypeOrText(payload.MessageType),
		payload.TemplateId, payload.DelaySeconds, payload.Personalize,
		recipients, scheduleAt)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create bulk job", err.Error())
	}

	if job.Status == domain.BulkRunning {
		go deps.Bulk.Run(context.Background(), account, job, recipients)
	}
	return ok(c, job)
}

func messageTypeOrText(t string) string {
	if t == "" {
		return domain.TypeText
	}
	return t
}
