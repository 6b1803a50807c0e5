package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	CookieName = "csrf_token"
	HeaderName = "X-CSRF-Token"
	BodyField  = "csrf"

	// TokenMaxAge bounds how long an issued token stays valid.
	TokenMaxAge = 24 * time.Hour

	nonceBytes = 32
)

// Signer issues and verifies anti-forgery tokens of the form
// nonce|timestampMillis|hmacHex. Validity is stateless: recompute the
// signature and check the age.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

func (s *Signer) Generate() (string, error) {
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	data := hex.EncodeToString(nonce) + "|" + strconv.FormatInt(s.now().UnixMilli(), 10)
	return data + "|" + s.sign(data), nil
}

// VerifyToken checks the embedded signature and that the token is younger
// than TokenMaxAge. Any parse failure is simply an invalid token.
func (s *Signer) VerifyToken(token string) bool {
	parts := strings.Split(token, "|")
	if len(parts) != 3 {
		return false
	}

	data := parts[0] + "|" + parts[1]
	expected := s.sign(data)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(parts[2])) != 1 {
		return false
	}

	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return false
	}
	age := s.now().Sub(time.UnixMilli(issued))
	return age >= 0 && age <= TokenMaxAge
}

// ValidateRequest implements the double-submit check: cookie and supplied
// token must both be present, both valid, and equal. A forged token with a
// valid signature that does not match the cookie fails.
func (s *Signer) ValidateRequest(cookieToken, suppliedToken string) bool {
	if cookieToken == "" || suppliedToken == "" {
		return false
	}
	if !s.VerifyToken(cookieToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(suppliedToken)) == 1
}

func (s *Signer) sign(data string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
