package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/webserver"
)

func registerRosterRoutes() {
	webserver.ApiGET("/whatsapp/contacts", listContacts)
	webserver.ApiPOST("/whatsapp/accounts/:id/contacts/sync", syncContacts)
	webserver.ApiPOST("/whatsapp/accounts/:id/contacts/import", importContacts)
	webserver.ApiGET("/whatsapp/groups", listGroups)
	webserver.ApiGET("/whatsapp/groups/:id/members", listGroupMembers)
	webserver.ApiPOST("/whatsapp/accounts/:id/groups/sync", syncGroups)
}

func listContacts(c echo.Context) error {
	page, pageSize := parsePagination(c)
	base := GetDB(c).Model(&domain.WhatsAppContact{})
	if v := c.QueryParam("account_id"); v != "" {
		base = base.Where("account_id = ?", v)
	}
	if v := c.QueryParam("q"); v != "" {
		like := "%" + v + "%"
		base = base.Where("name like ? or phone_number like ?", like, like)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query contacts", err.Error())
	}
	var contacts []domain.WhatsAppContact
	if err := base.Order("name").Offset((page - 1) * pageSize).Limit(pageSize).Find(&contacts).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query contacts", err.Error())
	}
	return paged(c, contacts, total, page, pageSize)
}

func syncContacts(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	if account.Status != domain.AccountReady {
		return fail(c, http.StatusConflict, "ACCOUNT_NOT_READY", "Account session is not ready", account.Status)
	}
	res, err := deps.Roster.SyncContacts(account)
	if err != nil {
		return fail(c, http.StatusBadGateway, "SYNC_FAILED", "Contact sync failed", err.Error())
	}
	return ok(c, res)
}

// importContacts loads a csv file (multipart field "file") of
// name,phone,email,company rows.
func importContacts(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	file, err := c.FormFile("file")
	if err != nil {
		return fail(c, http.StatusBadRequest, "MISSING_FILE", "csv file is required", nil)
	}
	src, err := file.Open()
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_FILE", "Unable to open uploaded file", err.Error())
	}
	defer src.Close()

	res, err := deps.Roster.ImportCSV(account, src)
	if err != nil {
		return fail(c, http.StatusBadRequest, "IMPORT_FAILED", "Contact import failed", err.Error())
	}
	return ok(c, res)
}

func listGroups(c echo.Context) error {
	page, pageSize := parsePagination(c)
	base := GetDB(c).Model(&domain.WhatsAppGroup{})
	if v := c.QueryParam("account_id"); v != "" {
		base = base.Where("account_id = ?", v)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query groups", err.Error())
	}
	var groups []domain.WhatsAppGroup
	if err := base.Order("name").Offset((page - 1) * pageSize).Limit(pageSize).Find(&groups).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query groups", err.Error())
	}
	return paged(c, groups, total, page, pageSize)
}

func listGroupMembers(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid group ID", nil)
	}
	var members []domain.WhatsAppGroupMember
	if err := GetDB(c).Where("group_id = ?", id).Order("phone_number").Find(&members).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query members", err.Error())
	}
	return ok(c, map[string]interface{}{"members": members})
}

func syncGroups(c echo.Context) error {
	account, err := loadAccount(c)
	if err != nil {
		return err
	}
	if account.Status != domain.AccountReady {
		return fail(c, http.StatusConflict, "ACCOUNT_NOT_READY", "Account session is not ready", account.Status)
	}
	res, err := deps.Roster.SyncGroups(account)
	if err != nil {
		return fail(c, http.StatusBadGateway, "SYNC_FAILED", "Group sync failed", err.Error())
	}
	return ok(c, res)
}
