package webapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/signature"
	"github.com/talkincode/walink/internal/webhook"
	"github.com/talkincode/walink/internal/webserver"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func registerWebhookRoutes() {
	webserver.PubPOST("/whatsapp/webhook/:id", postWebhook)
}

// postWebhook ingests agent callbacks. Once the account and signature
// check out the endpoint always acknowledges with success: event handling
// failures are logged and must never make the agent retry the batch.
func postWebhook(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "Account not found"})
	}
	var account domain.WhatsAppAccount
	if err := GetDB(c).Where("id = ?", id).First(&account).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Error("webhook: account query failed", zap.Int64("account_id", id), zap.Error(err))
		}
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "Account not found"})
	}
	if !account.IsActive() {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "Account not found"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "Unable to read body"})
	}

	header := c.Request().Header.Get("X-Hub-Signature-256")
	if !signature.Verify(account.WebhookSecret, body, header) {
		zap.L().Warn("webhook: signature rejected",
			zap.Int64("account_id", account.ID),
			zap.String("remote_addr", c.Request().RemoteAddr))
		return c.JSON(http.StatusForbidden, map[string]interface{}{"error": "Invalid signature"})
	}

	events, err := webhook.Parse(body)
	if err != nil {
		zap.L().Warn("webhook: undecodable payload",
			zap.Int64("account_id", account.ID), zap.Error(err))
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
	}

	for _, ev := range events {
		handleEvent(&account, ev)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

// handleEvent dispatches one event, isolating panics and errors so a bad
// event never affects its siblings in the batch.
func handleEvent(account *domain.WhatsAppAccount, ev *webhook.Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("webhook: event handler panic",
				zap.Int64("account_id", account.ID),
				zap.String("event", ev.Type),
				zap.Any("panic", r))
		}
	}()

	var err error
	switch {
	case ev.Message != nil:
		err = deps.Pipeline.HandleInbound(account, ev.Message)
	case ev.Ack != nil:
		err = deps.Pipeline.HandleAck(account, ev.Ack)
	case ev.State != nil:
		err = deps.Sessions.ApplyStateEvent(account, ev.Type, ev.State)
	case ev.Group != nil && ev.Type == webhook.EventGroupJoin:
		err = deps.Roster.ApplyGroupJoin(account, ev.Group)
	case ev.Group != nil:
		err = deps.Roster.ApplyGroupLeave(account, ev.Group)
	default:
		zap.L().Debug("webhook: unhandled event type",
			zap.Int64("account_id", account.ID), zap.String("event", ev.Type))
	}
	if err != nil {
		zap.L().Warn("webhook: event handling failed",
			zap.Int64("account_id", account.ID),
			zap.String("event", ev.Type), zap.Error(err))
	}
}
