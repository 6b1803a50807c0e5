package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/petamap/markers-auth/internal/logging"
	"github.com/petamap/markers-auth/internal/models"
	"github.com/petamap/markers-auth/internal/repo"
	"github.com/petamap/markers-auth/internal/service"
	"github.com/petamap/markers-auth/internal/tokens"
)

const (
	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"
)

type Handler struct {
	Auth *service.AuthService
	Repo *repo.GormRepo

	AccessSecret []byte
	// Secure marks cookies Secure; off in development so plain-http works.
	Secure bool
}

func (h *Handler) userFromClaims(c echo.Context, claims *tokens.AccessClaims) (*models.User, error) {
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, err
	}
	user, err := h.Repo.GetUserByID(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	profile, err := h.Auth.Register(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return h.writeAuthError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"user": profile})
}

type loginRequest struct {
	Username           string `json:"username"`
	Password           string `json:"password"`
	RememberMe         bool   `json:"rememberMe"`
	CaptchaToken       string `json:"captchaToken"`
	TwoFactorSessionID string `json:"twoFactorSessionId"`
	TwoFactorCode      string `json:"twoFactorCode"`
	BackupCode         string `json:"backupCode"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	res, err := h.Auth.Login(c.Request().Context(), service.LoginInput{
		Username:           req.Username,
		Password:           req.Password,
		RememberMe:         req.RememberMe,
		CaptchaToken:       req.CaptchaToken,
		TwoFactorSessionID: req.TwoFactorSessionID,
		TwoFactorCode:      req.TwoFactorCode,
		BackupCode:         req.BackupCode,
		UserAgent:          c.Request().UserAgent(),
		IPAddress:          c.RealIP(),
	})
	if err != nil {
		return h.writeAuthError(c, err)
	}

	if res.RequiresTwoFactor {
		return c.JSON(http.StatusOK, echo.Map{
			"requiresTwoFactor":  true,
			"twoFactorSessionId": res.TwoFactorSessionID,
		})
	}

	h.setAuthCookies(c, res.AccessToken, res.RefreshToken, res.RefreshExpiry)
	return c.JSON(http.StatusOK, echo.Map{
		"user":                 res.User,
		"accessTokenExpiresIn": res.AccessExpiresIn,
	})
}

func (h *Handler) Refresh(c echo.Context) error {
	cookie, err := c.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		h.clearAuthCookies(c)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}

	res, err := h.Auth.Refresh(c.Request().Context(), cookie.Value, c.Request().UserAgent(), c.RealIP())
	if err != nil {
		if errors.Is(err, service.ErrTokenInvalid) {
			h.clearAuthCookies(c)
		}
		return h.writeAuthError(c, err)
	}

	h.setAuthCookies(c, res.AccessToken, res.RefreshToken, res.RefreshExpiry)
	return c.JSON(http.StatusOK, echo.Map{
		"success":              true,
		"accessTokenExpiresIn": res.AccessExpiresIn,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	refreshValue := ""
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		refreshValue = cookie.Value
	}

	if err := h.Auth.Logout(c.Request().Context(), refreshValue, c.RealIP()); err != nil {
		return h.writeAuthError(c, err)
	}

	h.clearAuthCookies(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *Handler) LogoutAll(c echo.Context) error {
	user := currentUser(c)

	if err := h.Auth.LogoutAll(c.Request().Context(), user.ID); err != nil {
		return h.writeAuthError(c, err)
	}

	h.clearAuthCookies(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out everywhere"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	user := currentUser(c)

	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	err := h.Auth.ChangePassword(c.Request().Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		// The caller is already authenticated: a wrong current password is a
		// form error, not a challenge to the session.
		if errors.Is(err, service.ErrInvalidCredentials) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "current password is incorrect"})
		}
		return h.writeAuthError(c, err)
	}

	h.clearAuthCookies(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed, please log in again"})
}

func (h *Handler) Me(c echo.Context) error {
	user := currentUser(c)
	return c.JSON(http.StatusOK, echo.Map{"user": user})
}

// writeAuthError maps service sentinels onto HTTP responses. Anything
// unmapped is a 500 with a generic body.
func (h *Handler) writeAuthError(c echo.Context, err error) error {
	var locked *service.LockedError
	switch {
	case errors.As(err, &locked):
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error":             locked.Error(),
			"retryAfterMinutes": locked.RetryMinutes(),
		})
	case errors.Is(err, service.ErrCaptchaRequired):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":           err.Error(),
			"captchaRequired": true,
		})
	case errors.Is(err, service.ErrCaptchaInvalid),
		errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrTwoFactorInvalid),
		errors.Is(err, service.ErrSessionExpired),
		errors.Is(err, service.ErrTokenInvalid):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	case errors.Is(err, repo.ErrUserAlreadyExist):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is already taken"})
	}

	logging.FromContext(c.Request().Context()).Error("unhandled auth error", "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}

func (h *Handler) setAuthCookies(c echo.Context, accessToken, refreshToken string, refreshExpiry time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     accessCookieName,
		Value:    accessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(tokens.AccessTokenTTL.Seconds()),
	})
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  refreshExpiry,
	})
}

func (h *Handler) clearAuthCookies(c echo.Context) {
	clearCookie(c, h.Secure, accessCookieName)
	clearCookie(c, h.Secure, refreshCookieName)
}

func clearCookie(c echo.Context, secure bool, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
