package webapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/session"
	"github.com/talkincode/walink/internal/webserver"
	"github.com/talkincode/walink/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func registerAccountRoutes() {
	webserver.ApiGET("/whatsapp/accounts", listAccounts)
	webserver.ApiGET("/whatsapp/accounts/:id", getAccount)
	webserver.ApiPOST("/whatsapp/accounts", createAccount)
	webserver.ApiPUT("/whatsapp/accounts/:id", updateAccount)
	webserver.ApiDELETE("/whatsapp/accounts/:id", deleteAccount)
	webserver.ApiPOST("/whatsapp/accounts/:id/connect", connectAccount)
	webserver.ApiPOST("/whatsapp/accounts/:id/disconnect", disconnectAccount)
	webserver.ApiPOST("/whatsapp/accounts/:id/restart", restartAccount)
	webserver.ApiPOST("/whatsapp/accounts/:id/reset", resetAccount)
	webserver.ApiGET("/whatsapp/accounts/:id/status", getAccountStatus)
	webserver.ApiGET("/whatsapp/accounts/:id/qr", getAccountQR)
	webserver.ApiGET("/whatsapp/accounts/:id/qr.png", getAccountQRImage)
}

func listAccounts(c echo.Context) error {
	page, pageSize := parsePagination(c)
	base := GetDB(c).Model(&domain.WhatsAppAccount{})
	if status := c.QueryParam("status"); status != "" {
		base = base.Where("status = ?", status)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query accounts", err.Error())
	}
	var accounts []domain.WhatsAppAccount
	if err := base.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&accounts).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query accounts", err.Error())
	}
	return paged(c, accounts, total, page, pageSize)
}

func getAccount(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	return ok(c, account)
}

type accountPayload struct {
	Name                  string `json:"name"`
	PhoneNumber           string `json:"phone_number"`
	CountryCode           string `json:"country_code"`
	DisplayName           string `json:"display_name"`
	About                 string `json:"about"`
	Active                *int   `json:"active"`
	AutoReply             *int   `json:"auto_reply"`
	AutoReplyMessage      string `json:"auto_reply_message"`
	CreateLeadFromMessage *int   `json:"create_lead_from_message"`
	WebhookUrl            string `json:"webhook_url"`
	WebhookSecret         string `json:"webhook_secret"`
	ApiEndpoint           string `json:"api_endpoint"`
	ApiKey                string `json:"api_key"`
}

func createAccount(c echo.Context) error {
	var payload accountPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	phone := domain.CanonicalPhone(payload.PhoneNumber)
	if payload.Name == "" || phone == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name and phone_number are required", nil)
	}

	account := domain.WhatsAppAccount{
		ID:               common.UUIDint64(),
		Name:             payload.Name,
		PhoneNumber:      phone,
		CountryCode:      payload.CountryCode,
		DisplayName:      payload.DisplayName,
		About:            payload.About,
		Status:           domain.AccountDisconnected,
		ProcessStatus:    domain.ProcessStopped,
		Active:           1,
		AutoReplyMessage: payload.AutoReplyMessage,
		WebhookUrl:       payload.WebhookUrl,
		WebhookSecret:    payload.WebhookSecret,
		ApiEndpoint:      payload.ApiEndpoint,
		ApiKey:           payload.ApiKey,
	}
	if payload.AutoReply != nil {
		account.AutoReply = *payload.AutoReply
	}
	if payload.CreateLeadFromMessage != nil {
		account.CreateLeadFromMessage = *payload.CreateLeadFromMessage
	}
	if account.ApiEndpoint == "" {
		account.ApiEndpoint = deps.Config.Agent.Endpoint
	}
	account.SessionName = session.SessionName(&account)

	if err := GetDB(c).Create(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fail(c, http.StatusConflict, "DUPLICATE_PHONE", "An account with this phone number exists", nil)
		}
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create account", err.Error())
	}
	zap.L().Info("webapi: account created",
		zap.Int64("account_id", account.ID), zap.String("phone", account.PhoneNumber))
	return ok(c, account)
}

func updateAccount(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	var payload accountPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}

	values := map[string]interface{}{"updated_at": time.Now()}
	if payload.Name != "" {
		values["name"] = payload.Name
	}
	if payload.DisplayName != "" {
		values["display_name"] = payload.DisplayName
	}
	if payload.About != "" {
		values["about"] = payload.About
	}
	if payload.AutoReplyMessage != "" {
		values["auto_reply_message"] = payload.AutoReplyMessage
	}
	if payload.WebhookUrl != "" {
		values["webhook_url"] = payload.WebhookUrl
	}
	if payload.WebhookSecret != "" {
		values["webhook_secret"] = payload.WebhookSecret
	}
	if payload.ApiEndpoint != "" {
		values["api_endpoint"] = payload.ApiEndpoint
	}
	if payload.ApiKey != "" {
		values["api_key"] = payload.ApiKey
	}
	if payload.Active != nil {
		values["active"] = *payload.Active
	}
	if payload.AutoReply != nil {
		values["auto_reply"] = *payload.AutoReply
	}
	if payload.CreateLeadFromMessage != nil {
		values["create_lead_from_message"] = *payload.CreateLeadFromMessage
	}

	if err := GetDB(c).Model(account).Updates(values).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update account", err.Error())
	}
	return ok(c, account)
}

func deleteAccount(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	if account.Status != domain.AccountDisconnected {
		return fail(c, http.StatusConflict, "ACCOUNT_ACTIVE", "Disconnect the account before deleting it", nil)
	}
	var messages int64
	GetDB(c).Model(&domain.WhatsAppMessage{}).Where("account_id = ?", account.ID).Count(&messages)
	if messages > 0 {
		// Accounts with history are only deactivated.
		if err := GetDB(c).Model(account).Update("active", 0).Error; err != nil {
			return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to deactivate account", err.Error())
		}
		return ok(c, map[string]interface{}{"deactivated": true})
	}
	if err := GetDB(c).Delete(account).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete account", err.Error())
	}
	return ok(c, map[string]interface{}{"deleted": true})
}

func connectAccount(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	switch err := deps.Sessions.Connect(account.ID); {
	case errors.Is(err, session.ErrAlreadyConnecting):
		return fail(c, http.StatusConflict, "ALREADY_CONNECTING", "A connect is already in progress", nil)
	case errors.Is(err, session.ErrInvalidTransition):
		return fail(c, http.StatusConflict, "INVALID_STATE", "Account is already connected or connecting", account.Status)
	case err != nil:
		return fail(c, http.StatusInternalServerError, "CONNECT_FAILED", "Failed to connect account", err.Error())
	}
	return ok(c, map[string]interface{}{"started": true})
}

func disconnectAccount(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	if err := deps.Sessions.Disconnect(account.ID); err != nil {
		return fail(c, http.StatusInternalServerError, "DISCONNECT_FAILED", "Failed to disconnect account", err.Error())
	}
	return ok(c, map[string]interface{}{"disconnected": true})
}

func restartAccount(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	if err := deps.Sessions.Restart(account.ID); err != nil {
		return fail(c, http.StatusInternalServerError, "RESTART_FAILED", "Failed to restart account", err.Error())
	}
	return ok(c, map[string]interface{}{"restarted": true})
}

func resetAccount(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	if err := deps.Sessions.Reset(account.ID); err != nil {
		return fail(c, http.StatusInternalServerError, "RESET_FAILED", "Failed to reset account session", err.Error())
	}
	return ok(c, map[string]interface{}{"reset": true})
}

func getAccountStatus(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	return ok(c, map[string]interface{}{
		"status":            account.Status,
		"process_status":    account.ProcessStatus,
		"process_id":        account.ProcessId,
		"session_name":      account.SessionName,
		"messages_sent":     account.MessagesSent,
		"messages_received": account.MessagesReceived,
		"last_seen":         account.LastSeen,
	})
}

func getAccountQR(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	return ok(c, map[string]interface{}{
		"status": account.Status,
		"code":   account.QrCode,
		"has_qr": account.QrCode != "",
	})
}

func getAccountQRImage(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	if len(account.QrCodeImage) == 0 {
		return fail(c, http.StatusNotFound, "NO_QR", "No pairing QR available", nil)
	}
	return c.Blob(http.StatusOK, "image/png", account.QrCodeImage)
}

// loadAccount resolves the :id path param. On failure the error response
// is already written; callers just return the error.
func loadAccount(c echo.Context) (*domain.WhatsAppAccount, error) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		_ = fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid account ID", nil)
		return nil, errors.New("invalid account id")
	}
	var account domain.WhatsAppAccount
	if err := GetDB(c).Where("id = ?", id).First(&account).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		_ = fail(c, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found", nil)
		return nil, err
	} else if err != nil {
		_ = fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query account", err.Error())
		return nil, err
	}
	return &account, nil
}
