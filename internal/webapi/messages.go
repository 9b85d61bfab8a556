package webapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/agent"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/pipeline"
	"github.com/talkincode/walink/internal/webserver"
	"gorm.io/gorm"
)

func registerMessageRoutes() {
	webserver.ApiGET("/whatsapp/messages", listMessages)
	webserver.ApiGET("/whatsapp/messages/:id", getMessage)
	webserver.ApiPOST("/whatsapp/accounts/:id/send", sendMessage)
	webserver.PubPOST("/whatsapp/public/send", publicSend)
}

func listMessages(c echo.Context) error {
	page, pageSize := parsePagination(c)
	base := GetDB(c).Model(&domain.WhatsAppMessage{})
	if v := c.QueryParam("account_id"); v != "" {
		base = base.Where("account_id = ?", v)
	}
	if v := c.QueryParam("direction"); v != "" {
		base = base.Where("direction = ?", v)
	}
	if v := c.QueryParam("status"); v != "" {
		base = base.Where("status = ?", v)
	}
	if v := c.QueryParam("number"); v != "" {
		phone := domain.CanonicalPhone(v)
		base = base.Where("from_number = ? or to_number = ?", phone, phone)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}
	var messages []domain.WhatsAppMessage
	if err := base.Order("timestamp DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&messages).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}
	return paged(c, messages, total, page, pageSize)
}

func getMessage(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid message ID", nil)
	}
	var msg domain.WhatsAppMessage
	if err := GetDB(c).Where("id = ?", id).First(&msg).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "MESSAGE_NOT_FOUND", "Message not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query message", err.Error())
	}
	return ok(c, msg)
}

type sendPayload struct {
	To          string `json:"to"`
	GroupId     string `json:"group_id"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	MediaUrl    string `json:"media_url"`
	TemplateId  int64  `json:"template_id,string"`
	ReplyTo     string `json:"reply_to"`
}

func sendMessage(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	return doSend(c, account, &payload)
}

// publicSend is the key-authenticated endpoint for external systems. The
// account is resolved from the bearer api key, not from the path.
func publicSend(c echo.Context) error {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	key := strings.TrimPrefix(auth, "Bearer ")
	if key == "" || key == auth {
		return fail(c, http.StatusUnauthorized, "MISSING_KEY", "Bearer api key required", nil)
	}
	var account domain.WhatsAppAccount
	if err := GetDB(c).Where("api_key = ? and active = 1", key).First(&account).Error; err != nil {
		return fail(c, http.StatusUnauthorized, "INVALID_KEY", "Unknown api key", nil)
	}

	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	return doSend(c, &account, &payload)
}

func doSend(c echo.Context, account *domain.WhatsAppAccount, payload *sendPayload) error {
	if payload.To == "" && payload.GroupId == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to or group_id is required", nil)
	}

	message := payload.Message
	if payload.TemplateId != 0 {
		var tpl domain.WhatsAppTemplate
		if err := GetDB(c).Where("id = ? and active = 1", payload.TemplateId).First(&tpl).Error; err != nil {
			return fail(c, http.StatusNotFound, "TEMPLATE_NOT_FOUND", "Template not found", nil)
		}
		message = tpl.Render(map[string]string{"number": domain.CanonicalPhone(payload.To)})
	}
	if message == "" && payload.MediaUrl == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "message is required", nil)
	}

	msg, err := deps.Pipeline.Send(account, &pipeline.SendOptions{
		To:          payload.To,
		GroupId:     payload.GroupId,
		Message:     message,
		MessageType: payload.MessageType,
		MediaUrl:    payload.MediaUrl,
		TemplateId:  payload.TemplateId,
		ReplyTo:     payload.ReplyTo,
	})
	switch {
	case errors.Is(err, pipeline.ErrAccountNotReady):
		return fail(c, http.StatusConflict, "ACCOUNT_NOT_READY", "Account session is not ready", account.Status)
	case err != nil:
		var sendErr *agent.SendError
		if errors.As(err, &sendErr) {
			return fail(c, http.StatusBadGateway, "SEND_FAILED", "Agent rejected the message", sendErr.Message)
		}
		return fail(c, http.StatusInternalServerError, "SEND_FAILED", "Failed to send message", err.Error())
	}
	return ok(c, msg)
}
