package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/petamap/markers-auth/internal/service"
	"github.com/petamap/markers-auth/internal/twofactor"
)

// TwoFactorSetup provisions a fresh secret and returns it with the otpauth
// URI for the authenticator app. Repeating the call before verification
// replaces the secret.
func (h *Handler) TwoFactorSetup(c echo.Context) error {
	user := currentUser(c)

	secret, uri, err := h.Auth.TwoFactor.GenerateSecret(c.Request().Context(), user.ID, user.Username)
	if err != nil {
		if errors.Is(err, twofactor.ErrAlreadyEnabled) {
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
		}
		return h.writeAuthError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"secret":     secret,
		"otpauthUrl": uri,
	})
}

type twoFactorVerifyRequest struct {
	Code string `json:"code"`
}

// TwoFactorVerify finishes setup: a current code proves the authenticator
// holds the secret, and the one-time backup codes come back exactly once.
func (h *Handler) TwoFactorVerify(c echo.Context) error {
	user := currentUser(c)

	var req twoFactorVerifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code is required"})
	}

	codes, err := h.Auth.EnableTwoFactor(c.Request().Context(), user.ID, req.Code)
	if err != nil {
		return h.writeAuthError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"enabled":     true,
		"backupCodes": codes,
	})
}

type twoFactorDisableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// TwoFactorDisable destroys the secret after the caller re-proves the
// account password and a current code.
func (h *Handler) TwoFactorDisable(c echo.Context) error {
	user := currentUser(c)

	var req twoFactorDisableRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.Auth.DisableTwoFactor(c.Request().Context(), user.ID, req.Password, req.Code); err != nil {
		// Form errors for an already-authenticated caller, not challenges
		// to the session.
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "password is incorrect"})
		case errors.Is(err, service.ErrTwoFactorInvalid):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		return h.writeAuthError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"enabled": false})
}

func (h *Handler) TwoFactorStatus(c echo.Context) error {
	user := currentUser(c)
	return c.JSON(http.StatusOK, echo.Map{"enabled": user.TwoFactorEnabled})
}
