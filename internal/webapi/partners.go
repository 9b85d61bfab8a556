package webapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/webserver"
	"github.com/talkincode/walink/pkg/common"
	"gorm.io/gorm"
)

func registerPartnersRoutes() {
	webserver.ApiGET("/system/partners", listPartners)
	webserver.ApiGET("/system/partners/:id", getPartner)
	webserver.ApiPOST("/system/partners", createPartner)
	webserver.ApiPUT("/system/partners/:id", updatePartner)
	webserver.ApiDELETE("/system/partners/:id", deletePartner)
	webserver.ApiPOST("/system/partners/:id/link", linkPartnerContacts)
}

func listPartners(c echo.Context) error {
	page, pageSize := parsePagination(c)

	base := GetDB(c).Model(&domain.SysPartner{})
	if v := c.QueryParam("q"); v != "" {
		like := "%" + v + "%"
		base = base.Where("name like ? or mobile like ? or company like ?", like, like, like)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query partners", err.Error())
	}
	var partners []domain.SysPartner
	if err := base.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&partners).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query partners", err.Error())
	}
	return paged(c, partners, total, page, pageSize)
}

func getPartner(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid partner ID", nil)
	}
	var p domain.SysPartner
	if err := GetDB(c).Where("id = ?", id).First(&p).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "PARTNER_NOT_FOUND", "Partner not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query partner", err.Error())
	}
	return ok(c, p)
}

type partnerPayload struct {
	Name    string `json:"name"`
	Company string `json:"company"`
	Email   string `json:"email"`
	Mobile  string `json:"mobile"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
	Remark  string `json:"remark"`
}

func createPartner(c echo.Context) error {
	var payload partnerPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse partner parameters", nil)
	}
	if strings.TrimSpace(payload.Name) == "" {
		return fail(c, http.StatusBadRequest, "MISSING_NAME", "Partner name is required", nil)
	}
	mobile := domain.CanonicalPhone(payload.Mobile)
	if mobile != "" {
		var dup domain.SysPartner
		if err := GetDB(c).Where("mobile = ? OR phone = ?", mobile, mobile).First(&dup).Error; err == nil {
			return fail(c, http.StatusConflict, "DUPLICATE_PARTNER", "Partner with this phone/mobile already exists", nil)
		}
	}

	p := domain.SysPartner{
		ID:        common.UUIDint64(),
		Name:      strings.TrimSpace(payload.Name),
		Company:   payload.Company,
		Email:     payload.Email,
		Mobile:    mobile,
		Phone:     domain.CanonicalPhone(payload.Phone),
		Address:   payload.Address,
		City:      payload.City,
		Country:   payload.Country,
		Remark:    payload.Remark,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := GetDB(c).Create(&p).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create partner", err.Error())
	}
	return ok(c, p)
}

func updatePartner(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid partner ID", nil)
	}
	var payload partnerPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse partner parameters", nil)
	}
	var p domain.SysPartner
	if err := GetDB(c).Where("id = ?", id).First(&p).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "PARTNER_NOT_FOUND", "Partner not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query partner", err.Error())
	}
	updates := map[string]interface{}{}
	if payload.Name != "" {
		updates["name"] = strings.TrimSpace(payload.Name)
	}
	if payload.Company != "" {
		updates["company"] = payload.Company
	}
	if payload.Email != "" {
		updates["email"] = payload.Email
	}
	if mobile := domain.CanonicalPhone(payload.Mobile); mobile != "" {
		var dup domain.SysPartner
		if err := GetDB(c).Where("(mobile = ? OR phone = ?) AND id != ?", mobile, mobile, id).First(&dup).Error; err == nil {
			return fail(c, http.StatusConflict, "DUPLICATE_PARTNER", "Another partner with this phone/mobile already exists", nil)
		}
		updates["mobile"] = mobile
	}
	if phone := domain.CanonicalPhone(payload.Phone); phone != "" {
		var dup domain.SysPartner
		if err := GetDB(c).Where("(mobile = ? OR phone = ?) AND id != ?", phone, phone, id).First(&dup).Error; err == nil {
			return fail(c, http.StatusConflict, "DUPLICATE_PARTNER", "Another partner with this phone/mobile already exists", nil)
		}
		updates["phone"] = phone
	}
	if payload.Address != "" {
		updates["address"] = payload.Address
	}
	if payload.City != "" {
		updates["city"] = payload.City
	}
	if payload.Country != "" {
		updates["country"] = payload.Country
	}
	if payload.Remark != "" {
		updates["remark"] = payload.Remark
	}
	updates["updated_at"] = time.Now()
	if err := GetDB(c).Model(&p).Updates(updates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update partner", err.Error())
	}
	GetDB(c).Where("id = ?", id).First(&p)
	return ok(c, p)
}

func deletePartner(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid partner ID", nil)
	}
	if err := GetDB(c).Where("id = ?", id).Delete(&domain.SysPartner{}).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete partner", err.Error())
	}
	return ok(c, map[string]interface{}{"id": id})
}

// linkPartnerContacts attaches every contact whose phone matches the
// partner's mobile or phone number.
func linkPartnerContacts(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid partner ID", nil)
	}
	var p domain.SysPartner
	if err := GetDB(c).Where("id = ?", id).First(&p).Error; err != nil {
		return fail(c, http.StatusNotFound, "PARTNER_NOT_FOUND", "Partner not found", nil)
	}
	phones := []string{}
	if p.Mobile != "" {
		phones = append(phones, p.Mobile)
	}
	if p.Phone != "" {
		phones = append(phones, p.Phone)
	}
	if len(phones) == 0 {
		return ok(c, map[string]interface{}{"linked": 0})
	}
	res := GetDB(c).Model(&domain.WhatsAppContact{}).
		Where("phone_number in ?", phones).
		Update("partner_id", p.ID)
	if res.Error != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to link contacts", res.Error.Error())
	}
	return ok(c, map[string]interface{}{"linked": res.RowsAffected})
}
