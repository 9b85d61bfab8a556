// Package webserver hosts the echo instance and the route registry the
// api handler packages register into before startup.
package webserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/talkincode/walink/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ContextDBKey is where the request middleware stores the gorm handle.
const ContextDBKey = "walink_db"

type route struct {
	method  string
	path    string
	handler echo.HandlerFunc
	public  bool
}

var registry []route

// ApiGET registers an authenticated GET route under /api.
func ApiGET(path string, h echo.HandlerFunc) {
	registry = append(registry, route{http.MethodGet, path, h, false})
}

// ApiPOST registers an authenticated POST route under /api.
func ApiPOST(path string, h echo.HandlerFunc) {
	registry = append(registry, route{http.MethodPost, path, h, false})
}

// ApiPUT registers an authenticated PUT route under /api.
func ApiPUT(path string, h echo.HandlerFunc) {
	registry = append(registry, route{http.MethodPut, path, h, false})
}

// ApiDELETE registers an authenticated DELETE route under /api.
func ApiDELETE(path string, h echo.HandlerFunc) {
	registry = append(registry, route{http.MethodDelete, path, h, false})
}

// PubGET registers an unauthenticated GET route at the server root.
func PubGET(path string, h echo.HandlerFunc) {
	registry = append(registry, route{http.MethodGet, path, h, true})
}

// PubPOST registers an unauthenticated POST route at the server root.
// Used by the agent webhook and the key-authenticated public send api,
// which carry their own authentication.
func PubPOST(path string, h echo.HandlerFunc) {
	registry = append(registry, route{http.MethodPost, path, h, true})
}

// WebServer owns the echo instance built from the registry.
type WebServer struct {
	cfg  *config.AppConfig
	root *echo.Echo
}

var server *WebServer

// Init builds the server from the registered routes. Must run after all
// handler packages registered their routes.
func Init(cfg *config.AppConfig, db *gorm.DB) *WebServer {
	root := echo.New()
	root.HideBanner = true
	root.HidePort = true
	root.Use(middleware.Recover())
	root.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ContextDBKey, db)
			return next(c)
		}
	})

	api := root.Group("/api", tokenAuth(cfg.Web.Secret))
	for _, r := range registry {
		if r.public {
			root.Add(r.method, r.path, r.handler)
		} else {
			api.Add(r.method, r.path, r.handler)
		}
	}

	server = &WebServer{cfg: cfg, root: root}
	return server
}

// Instance returns the initialized server.
func Instance() *WebServer {
	return server
}

// Echo exposes the underlying echo instance, mainly for tests.
func (s *WebServer) Echo() *echo.Echo {
	return s.root
}

// Start blocks serving HTTP until the listener fails.
func (s *WebServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	zap.L().Info("webserver listening", zap.String("addr", addr))
	return s.root.Start(addr)
}

// Close shuts the listener down.
func (s *WebServer) Close() error {
	return s.root.Close()
}

// tokenAuth guards the /api group with the configured shared secret. An
// empty secret leaves the api open, intended for local development only.
func tokenAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return next(c)
			}
			token := c.Request().Header.Get("X-Api-Token")
			if token == "" {
				auth := c.Request().Header.Get(echo.HeaderAuthorization)
				token = strings.TrimPrefix(auth, "Bearer ")
			}
			if token != secret {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"code": "UNAUTHORIZED", "msg": "invalid api token",
				})
			}
			return next(c)
		}
	}
}
