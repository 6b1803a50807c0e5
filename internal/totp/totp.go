package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	secretBytes = 20
	// RFC 6238 defaults used by authenticator apps.
	Digits = 6
	Period = 30
	// Skew absorbs clock drift: one step before and after the current one.
	Skew = 1
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh base32-encoded shared secret.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return encoding.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI an authenticator app scans.
func ProvisionURI(issuer, account, secret string) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(Period))
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Verify reports whether code is valid for secret at time now, allowing
// Skew steps either side. Malformed input is a mismatch, not an error.
func Verify(secret, code string, now time.Time) bool {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != Digits || !isNumeric(trimmed) {
		return false
	}

	raw, err := encoding.DecodeString(strings.ToUpper(secret))
	if err != nil || len(raw) == 0 {
		return false
	}

	base := now.Unix() / Period
	for step := -Skew; step <= Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(raw, counter)), []byte(trimmed)) == 1 {
			return true
		}
	}
	return false
}

// Code returns the current code for secret; used during setup verification
// tests and by provisioning previews.
func Code(secret string, now time.Time) (string, error) {
	raw, err := encoding.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", errors.New("empty totp secret")
	}
	return hotp(raw, now.Unix()/Period), nil
}

func hotp(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < Digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", Digits, bin%mod)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
