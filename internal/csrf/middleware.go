package csrf

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type Config struct {
	Signer *Signer
	Secure bool

	// SkipPaths are exempt from enforcement (the refresh endpoint: its
	// credential is the httpOnly refresh cookie, unreadable to scripts).
	SkipPaths []string
}

// Middleware issues the CSRF cookie on safe requests when absent and
// enforces the double-submit check on mutating requests.
func Middleware(cfg Config) echo.MiddlewareFunc {
	skip := map[string]struct{}{}
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			cookieToken := readCookie(req, CookieName)

			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				// Absence on a safe request triggers issuance, not rejection.
				if cookieToken == "" || !cfg.Signer.VerifyToken(cookieToken) {
					token, err := cfg.Signer.Generate()
					if err != nil {
						return echo.NewHTTPError(http.StatusInternalServerError, "failed to create CSRF token")
					}
					setCookie(c, cfg.Secure, token)
					c.Set("csrfToken", token)
				} else {
					c.Set("csrfToken", cookieToken)
				}
				return next(c)
			}

			if _, ok := skip[req.URL.Path]; ok {
				return next(c)
			}

			supplied := tokenFromRequest(c)
			if !cfg.Signer.ValidateRequest(cookieToken, supplied) {
				return echo.NewHTTPError(http.StatusForbidden, "CSRF validation failed")
			}

			return next(c)
		}
	}
}

// tokenFromRequest reads the echoed token from the X-CSRF-Token header, a
// form field, or a "csrf" field of a JSON body. The body is restored so the
// handler can still bind it.
func tokenFromRequest(c echo.Context) string {
	req := c.Request()

	if v := req.Header.Get(HeaderName); v != "" {
		return v
	}

	ct := req.Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(ct, echo.MIMEApplicationJSON):
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return ""
		}
		req.Body = io.NopCloser(bytes.NewReader(body))

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return ""
		}
		var token string
		if raw, ok := fields[BodyField]; ok {
			_ = json.Unmarshal(raw, &token)
		}
		return token
	case strings.HasPrefix(ct, echo.MIMEApplicationForm), strings.HasPrefix(ct, echo.MIMEMultipartForm):
		return c.FormValue(BodyField)
	}
	return ""
}

func setCookie(c echo.Context, secure bool, token string) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(TokenMaxAge.Seconds()),
	})
}

func readCookie(req *http.Request, name string) string {
	ck, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
