// Package httpserver wires the authentication service into an echo router:
// routes, cookie handling, the CSRF double-submit middleware and the access
// token request gate.
package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"github.com/petamap/markers-auth/internal/csrf"
)

type RouterConfig struct {
	Handler    *Handler
	CSRFSigner *csrf.Signer
	Logger     *slog.Logger
	DB         *gorm.DB
}

func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	h := cfg.Handler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(RequestLogger(cfg.Logger))
	e.Use(SecurityHeaders())
	e.Use(csrf.Middleware(csrf.Config{
		Signer: cfg.CSRFSigner,
		Secure: h.Secure,
		// The refresh endpoint authenticates with the httpOnly refresh
		// cookie alone, which scripts cannot read or forge.
		SkipPaths: []string{"/api/auth/refresh"},
	}))
	e.Use(h.Gate)

	e.GET("/health/live", live)
	e.GET("/health/ready", ready(cfg.DB))

	auth := e.Group("/api/auth")
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)
	auth.POST("/refresh", h.Refresh)
	auth.POST("/logout", h.Logout)
	auth.POST("/logout-all", h.LogoutAll, RequireLogin)
	auth.POST("/change-password", h.ChangePassword, RequireLogin)
	auth.GET("/me", h.Me, RequireLogin)

	auth.GET("/2fa/setup", h.TwoFactorSetup, RequireLogin)
	auth.POST("/2fa/setup", h.TwoFactorVerify, RequireLogin)
	auth.POST("/2fa/disable", h.TwoFactorDisable, RequireLogin)
	auth.GET("/2fa/status", h.TwoFactorStatus, RequireLogin)

	return e
}

func live(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func ready(db *gorm.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request().Context())
		}
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
}
