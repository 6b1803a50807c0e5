// Package captcha verifies Cloudflare Turnstile challenge tokens against the
// siteverify endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/petamap/markers-auth/internal/logging"
)

const defaultEndpoint = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

type Verifier struct {
	secret   string
	endpoint string
	client   *http.Client
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:   secret,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a site secret is configured. When it is not
// (development), challenge checks are skipped entirely.
func (v *Verifier) Enabled() bool {
	return v != nil && v.secret != ""
}

// Verify reports whether token passes the challenge. Network and decode
// failures count as failed verification, never as an error to the caller.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) bool {
	if !v.Enabled() || token == "" {
		return false
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		logging.FromContext(ctx).Error("turnstile verification request failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	var outcome struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		logging.FromContext(ctx).Error("turnstile response decode failed", "error", err)
		return false
	}

	if !outcome.Success {
		logging.FromContext(ctx).Warn("turnstile validation failed", "error_codes", outcome.ErrorCodes)
	}
	return outcome.Success
}
