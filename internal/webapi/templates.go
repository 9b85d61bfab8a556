package webapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/webserver"
	"github.com/talkincode/walink/pkg/common"
	"gorm.io/gorm"
)

func registerTemplateRoutes() {
	webserver.ApiGET("/whatsapp/templates", listTemplates)
	webserver.ApiGET("/whatsapp/templates/:id", getTemplate)
	webserver.ApiPOST("/whatsapp/templates", createTemplate)
	webserver.ApiPUT("/whatsapp/templates/:id", updateTemplate)
	webserver.ApiDELETE("/whatsapp/templates/:id", deleteTemplate)
	webserver.ApiPOST("/whatsapp/templates/:id/render", renderTemplate)
}

func listTemplates(c echo.Context) error {
	page, pageSize := parsePagination(c)
	base := GetDB(c).Model(&domain.WhatsAppTemplate{})
	if v := c.QueryParam("active"); v != "" {
		base = base.Where("active = ?", v)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query templates", err.Error())
	}
	var templates []domain.WhatsAppTemplate
	if err := base.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&templates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query templates", err.Error())
	}
	return paged(c, templates, total, page, pageSize)
}

func getTemplate(c echo.Context) error {
	tpl, err := loadTemplate(c)
	if err != nil {
		return err
	}
	return ok(c, tpl)
}

type templatePayload struct {
	Name         string `json:"name"`
	Code         string `json:"code"`
	Content      string `json:"content"`
	TemplateType string `json:"template_type"`
	Variables    string `json:"variables"`
	Active       *int   `json:"active"`
}

func createTemplate(c echo.Context) error {
	var payload templatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Name == "" || payload.Content == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name and content are required", nil)
	}
	code := payload.Code
	if code == "" {
		code = common.Slugify(payload.Name)
	}

	tpl := domain.WhatsAppTemplate{
		ID:           common.UUIDint64(),
		Name:         payload.Name,
		Code:         code,
		Content:      payload.Content,
		TemplateType: payload.TemplateType,
		Variables:    payload.Variables,
		Active:       1,
	}
	if tpl.TemplateType == "" {
		tpl.TemplateType = domain.TypeText
	}
	if err := GetDB(c).Create(&tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fail(c, http.StatusConflict, "DUPLICATE_CODE", "A template with this code exists", code)
		}
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create template", err.Error())
	}
	return ok(c, tpl)
}

func updateTemplate(c echo.Context) error {
	tpl, err := loadTemplate(c)
	if err != nil {
		return err
	}
	var payload templatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}

	values := map[string]interface{}{"updated_at": time.Now()}
	if payload.Name != "" {
		values["name"] = payload.Name
	}
	if payload.Content != "" {
		values["content"] = payload.Content
	}
	if payload.TemplateType != "" {
		values["template_type"] = payload.TemplateType
	}
	if payload.Variables != "" {
		values["variables"] = payload.Variables
	}
	if payload.Active != nil {
		values["active"] = *payload.Active
	}
	if err := GetDB(c).Model(tpl).Updates(values).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update template", err.Error())
	}
	return ok(c, tpl)
}

func deleteTemplate(c echo.Context) error {
	tpl, err := loadTemplate(c)
	if err != nil {
		return err
	}
	if err := GetDB(c).Delete(tpl).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete template", err.Error())
	}
	return ok(c, map[string]interface{}{"deleted": true})
}

// renderTemplate previews the template with caller-provided variables.
func renderTemplate(c echo.Context) error {
	tpl, err := loadTemplate(c)
	if err != nil {
		return err
	}
	var payload struct {
		Variables map[string]string `json:"variables"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	return ok(c, map[string]interface{}{
		"content": tpl.Render(payload.Variables),
	})
}

func loadTemplate(c echo.Context) (*domain.WhatsAppTemplate, error) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		_ = fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid template ID", nil)
		return nil, errors.New("invalid template id")
	}
	var tpl domain.WhatsAppTemplate
	if err := GetDB(c).Where("id = ?", id).First(&tpl).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		_ = fail(c, http.StatusNotFound, "TEMPLATE_NOT_FOUND", "Template not found", nil)
		return nil, err
	} else if err != nil {
		_ = fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query template", err.Error())
		return nil, err
	}
	return &tpl, nil
}
