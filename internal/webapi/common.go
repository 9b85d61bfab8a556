// Package webapi implements the management REST api, the agent webhook
// receiver and the key-authenticated public send endpoint.
package webapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/walink/config"
	"github.com/talkincode/walink/internal/bulk"
	"github.com/talkincode/walink/internal/pipeline"
	"github.com/talkincode/walink/internal/roster"
	"github.com/talkincode/walink/internal/session"
	"github.com/talkincode/walink/internal/webserver"
	"gorm.io/gorm"
)

// Deps are the services the handlers dispatch into.
type Deps struct {
	Config   *config.AppConfig
	Sessions *session.Manager
	Pipeline *pipeline.Pipeline
	Bulk     *bulk.Dispatcher
	Roster   *roster.Syncer
}

var deps *Deps

// Init stores the handler dependencies and registers every route into
// the webserver registry.
func Init(d *Deps) {
	deps = d
	registerAccountRoutes()
	registerWebhookRoutes()
	registerMessageRoutes()
	registerTemplateRoutes()
	registerBulkRoutes()
	registerRosterRoutes()
	registerPartnersRoutes()
}

// GetDB returns the request-scoped gorm handle.
func GetDB(c echo.Context) *gorm.DB {
	return c.Get(webserver.ContextDBKey).(*gorm.DB)
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code": 0,
		"msg":  "ok",
		"data": data,
	})
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"code":   code,
		"msg":    msg,
		"detail": detail,
	})
}

func paged(c echo.Context, rows interface{}, total int64, page, pageSize int) error {
	return ok(c, map[string]interface{}{
		"items":     rows,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePagination(c echo.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	pageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}
