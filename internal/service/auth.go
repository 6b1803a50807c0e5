package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petamap/markers-auth/internal/audit"
	"github.com/petamap/markers-auth/internal/captcha"
	"github.com/petamap/markers-auth/internal/hash"
	"github.com/petamap/markers-auth/internal/logging"
	"github.com/petamap/markers-auth/internal/models"
	"github.com/petamap/markers-auth/internal/ratelimit"
	"github.com/petamap/markers-auth/internal/repo"
	"github.com/petamap/markers-auth/internal/tokens"
	"github.com/petamap/markers-auth/internal/ttlstore"
	"github.com/petamap/markers-auth/internal/twofactor"
)

// PendingSessionTTL bounds the window between the password step and the
// second factor. Sessions are one-time use.
const PendingSessionTTL = 10 * time.Minute

type AuthService struct {
	Repo      *repo.GormRepo
	Hasher    *hash.Hasher
	TwoFactor *twofactor.Service
	Guard     *ratelimit.Guard
	Captcha   *captcha.Verifier
	Sessions  ttlstore.Store
	Audit     *audit.Producer

	AccessSecret []byte

	// sleep is swappable so tests do not wait out the progressive delay.
	sleep func(ctx context.Context, d time.Duration)
}

func New(r *repo.GormRepo, h *hash.Hasher, tf *twofactor.Service, g *ratelimit.Guard,
	cv *captcha.Verifier, sessions ttlstore.Store, producer *audit.Producer, accessSecret []byte) *AuthService {
	return &AuthService{
		Repo:         r,
		Hasher:       h,
		TwoFactor:    tf,
		Guard:        g,
		Captcha:      cv,
		Sessions:     sessions,
		Audit:        producer,
		AccessSecret: accessSecret,
		sleep:        sleepCtx,
	}
}

// Profile is the sanitized user view returned to clients. Never the hash.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type LoginInput struct {
	Username   string
	Password   string
	RememberMe bool

	CaptchaToken string

	TwoFactorSessionID string
	TwoFactorCode      string
	BackupCode         string

	UserAgent string
	IPAddress string
}

type LoginResult struct {
	// RequiresTwoFactor is set after a correct password for a 2FA-enabled
	// user; no tokens are issued on that branch.
	RequiresTwoFactor  bool
	TwoFactorSessionID string

	User          *Profile
	AccessToken   string
	RefreshToken  string
	RefreshExpiry time.Time
	// AccessExpiresIn is seconds until the access token expires.
	AccessExpiresIn int
}

type pendingSession struct {
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	RememberMe bool   `json:"remember_me"`
}

// Login drives the whole protocol: guard, credentials, optional second
// factor, session issuance.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if in.TwoFactorSessionID != "" {
		return s.completeTwoFactor(ctx, in)
	}

	l := logging.FromContext(ctx).With("svc", "auth.login")

	// The guard runs before any credential work; a locked IP never reaches
	// the store.
	status, err := s.Guard.Check(ctx, in.IPAddress)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		l.Warn("login rejected", "reason", "ip locked", "ip", in.IPAddress)
		return nil, &LockedError{RetryAfter: status.RetryAfter}
	}

	if status.CaptchaRequired && s.Captcha.Enabled() {
		if in.CaptchaToken == "" {
			return nil, ErrCaptchaRequired
		}
		if !s.Captcha.Verify(ctx, in.CaptchaToken, in.IPAddress) {
			return nil, ErrCaptchaInvalid
		}
	}

	if status.Delay > 0 {
		s.sleep(ctx, status.Delay)
	}

	if strings.TrimSpace(in.Username) == "" || in.Password == "" {
		return nil, ErrValidation
	}

	// Unknown username and wrong password take the same path: same
	// accounting, same error.
	user, err := s.Repo.GetUserByUsername(ctx, in.Username)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if user == nil || !s.Hasher.CheckPassword(user.PasswordHash, in.Password) {
		s.recordFailure(ctx, in.Username, in.IPAddress)
		return nil, ErrInvalidCredentials
	}

	if user.TwoFactorEnabled {
		sessionID, err := s.createPendingSession(ctx, user, in.RememberMe)
		if err != nil {
			return nil, err
		}
		l.Info("two-factor challenge issued", "user_id", user.ID)
		return &LoginResult{RequiresTwoFactor: true, TwoFactorSessionID: sessionID}, nil
	}

	return s.issueSession(ctx, user, in)
}

func (s *AuthService) createPendingSession(ctx context.Context, user *models.User, rememberMe bool) (string, error) {
	data, err := json.Marshal(pendingSession{
		UserID:     user.ID.String(),
		Username:   user.Username,
		RememberMe: rememberMe,
	})
	if err != nil {
		return "", err
	}
	sessionID := uuid.NewString()
	if err := s.Sessions.Set(ctx, "pending2fa:"+sessionID, data, PendingSessionTTL); err != nil {
		return "", err
	}
	return sessionID, nil
}

// completeTwoFactor is the second login step: the pending session id plus
// exactly one of a TOTP code or a backup code. The guard applies here the
// same way it does to passwords, otherwise a stolen password would buy
// unthrottled code guessing for the life of the session.
func (s *AuthService) completeTwoFactor(ctx context.Context, in LoginInput) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login.2fa")

	status, err := s.Guard.Check(ctx, in.IPAddress)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		l.Warn("second factor rejected", "reason", "ip locked", "ip", in.IPAddress)
		return nil, &LockedError{RetryAfter: status.RetryAfter}
	}
	if status.Delay > 0 {
		s.sleep(ctx, status.Delay)
	}

	if (in.TwoFactorCode == "") == (in.BackupCode == "") {
		return nil, ErrValidation
	}

	key := "pending2fa:" + in.TwoFactorSessionID
	data, ok, err := s.Sessions.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionExpired
	}

	var pending pendingSession
	if err := json.Unmarshal(data, &pending); err != nil {
		_ = s.Sessions.Delete(ctx, key)
		return nil, ErrSessionExpired
	}

	userID, err := uuid.Parse(pending.UserID)
	if err != nil {
		_ = s.Sessions.Delete(ctx, key)
		return nil, ErrSessionExpired
	}

	verified := false
	if in.TwoFactorCode != "" {
		verified = s.TwoFactor.VerifyCode(ctx, userID, in.TwoFactorCode)
	} else {
		verified = s.TwoFactor.VerifyBackupCode(ctx, userID, in.BackupCode)
	}
	if !verified {
		l.Warn("second factor rejected", "user_id", pending.UserID)
		s.recordFailure(ctx, pending.Username, in.IPAddress)
		return nil, ErrTwoFactorInvalid
	}

	// One-time use: consumed on success, or reaped by the TTL.
	if err := s.Sessions.Delete(ctx, key); err != nil {
		l.Error("pending session delete failed", "error", err)
	}

	user, err := s.Repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}

	in.RememberMe = pending.RememberMe
	return s.issueSession(ctx, user, in)
}

// issueSession is the single success exit: reset the guard, collect garbage,
// mint the access+refresh pair.
func (s *AuthService) issueSession(ctx context.Context, user *models.User, in LoginInput) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login", "user_id", user.ID)

	if err := s.Guard.Reset(ctx, in.IPAddress); err != nil {
		l.Error("guard reset failed", "error", err)
	}

	// Opportunistic housekeeping, not a correctness requirement.
	if n, err := s.Repo.CleanupExpired(ctx); err != nil {
		l.Error("expired token cleanup failed", "error", err)
	} else if n > 0 {
		l.Info("expired refresh tokens removed", "count", n)
	}

	now := time.Now()
	accessToken, err := tokens.SignAccessToken(user.ID.String(), user.Role, s.AccessSecret, now)
	if err != nil {
		return nil, err
	}

	refreshValue, err := tokens.NewRefreshValue()
	if err != nil {
		return nil, err
	}
	refreshExpiry := tokens.RefreshExpiry(now, in.RememberMe)
	if err := s.Repo.AddRefreshToken(ctx, &models.RefreshToken{
		TokenHash: tokens.Sha256Hex(refreshValue),
		UserID:    user.ID,
		ExpiresAt: refreshExpiry.Unix(),
		UserAgent: in.UserAgent,
		IPAddress: in.IPAddress,
	}); err != nil {
		return nil, err
	}

	s.publish(ctx, audit.Event{
		Type:      audit.EventLogin,
		UserID:    user.ID.String(),
		Username:  user.Username,
		IPAddress: in.IPAddress,
	})
	l.Info("login succeeded")

	return &LoginResult{
		User:            sanitize(user),
		AccessToken:     accessToken,
		RefreshToken:    refreshValue,
		RefreshExpiry:   refreshExpiry,
		AccessExpiresIn: int(tokens.AccessTokenTTL.Seconds()),
	}, nil
}

type RefreshResult struct {
	AccessToken     string
	RefreshToken    string
	RefreshExpiry   time.Time
	AccessExpiresIn int
}

// Refresh rotates the presented refresh token: the old row is revoked and a
// successor issued in one transaction, then a new access token is signed.
// Replaying a rotated-away value fails.
func (s *AuthService) Refresh(ctx context.Context, refreshValue, userAgent, ip string) (*RefreshResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	oldHash := tokens.Sha256Hex(refreshValue)
	stored, err := s.Repo.FindRefreshByHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if stored.Revoked || stored.ExpiresAt < time.Now().Unix() {
		l.Warn("unusable refresh token presented", "user_id", stored.UserID, "revoked", stored.Revoked)
		return nil, ErrTokenInvalid
	}

	user, err := s.Repo.GetUserByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	newValue, err := tokens.NewRefreshValue()
	if err != nil {
		return nil, err
	}

	// Preserve the original window: rotation renews the credential, not the
	// session lifetime.
	newRow := &models.RefreshToken{
		TokenHash: tokens.Sha256Hex(newValue),
		UserID:    user.ID,
		ExpiresAt: stored.ExpiresAt,
		UserAgent: userAgent,
		IPAddress: ip,
	}
	if err := s.Repo.RotateRefreshToken(ctx, oldHash, newRow); err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrTokenUnusable) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	accessToken, err := tokens.SignAccessToken(user.ID.String(), user.Role, s.AccessSecret, time.Now())
	if err != nil {
		return nil, err
	}

	return &RefreshResult{
		AccessToken:     accessToken,
		RefreshToken:    newValue,
		RefreshExpiry:   time.Unix(stored.ExpiresAt, 0),
		AccessExpiresIn: int(tokens.AccessTokenTTL.Seconds()),
	}, nil
}

// Logout revokes the presented refresh token. Unknown tokens are a no-op:
// the outcome the client wants is already true.
func (s *AuthService) Logout(ctx context.Context, refreshValue, ip string) error {
	if refreshValue == "" {
		return nil
	}
	if err := s.Repo.RevokeByHash(ctx, tokens.Sha256Hex(refreshValue)); err != nil {
		return err
	}
	s.publish(ctx, audit.Event{Type: audit.EventLogout, IPAddress: ip})
	return nil
}

// LogoutAll revokes every refresh token the user holds.
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.Repo.RevokeAll(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, audit.Event{Type: audit.EventLogoutAll, UserID: userID.String()})
	return nil
}

func (s *AuthService) Register(ctx context.Context, username, password string) (*Profile, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	passwordHash, err := s.Hasher.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         models.RoleUser,
	}
	if err := s.Repo.CreateUserIfNotExists(ctx, user); err != nil {
		return nil, err
	}

	s.publish(ctx, audit.Event{Type: audit.EventRegistered, UserID: user.ID.String(), Username: username})
	return sanitize(user), nil
}

// ChangePassword re-verifies the current password, stores the new hash and
// revokes every refresh token, forcing re-login everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	user, err := s.Repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.Hasher.CheckPassword(user.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	newHash, err := s.Hasher.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		return err
	}
	if err := s.Repo.RevokeAll(ctx, userID); err != nil {
		logging.FromContext(ctx).Error("revoke-all after password change failed", "error", err, "user_id", userID)
	}

	s.publish(ctx, audit.Event{Type: audit.EventPasswordChanged, UserID: userID.String(), Username: user.Username})
	return nil
}

// EnableTwoFactor finishes setup: the user proves possession of the freshly
// provisioned secret with a current code and receives the backup code set.
func (s *AuthService) EnableTwoFactor(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	if !s.TwoFactor.VerifyCode(ctx, userID, code) {
		return nil, ErrTwoFactorInvalid
	}
	codes, err := s.TwoFactor.Enable(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, audit.Event{Type: audit.EventTwoFactorOn, UserID: userID.String()})
	return codes, nil
}

// DisableTwoFactor requires re-proving both the password and a current code
// before the secret is destroyed.
func (s *AuthService) DisableTwoFactor(ctx context.Context, userID uuid.UUID, password, code string) error {
	user, err := s.Repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.Hasher.CheckPassword(user.PasswordHash, password) {
		return ErrInvalidCredentials
	}
	if !s.TwoFactor.VerifyCode(ctx, userID, code) {
		return ErrTwoFactorInvalid
	}
	if err := s.TwoFactor.Disable(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, audit.Event{Type: audit.EventTwoFactorOff, UserID: userID.String(), Username: user.Username})
	return nil
}

// recordFailure feeds the guard after any failed credential check and emits
// the audit events; crossing the lock threshold gets its own event.
func (s *AuthService) recordFailure(ctx context.Context, username, ip string) {
	l := logging.FromContext(ctx)
	locked, err := s.Guard.RecordFailure(ctx, ip)
	if err != nil {
		l.Error("failure accounting failed", "error", err)
	}
	s.publish(ctx, audit.Event{Type: audit.EventLoginFailed, Username: username, IPAddress: ip})
	if locked {
		l.Warn("ip locked out", "ip", ip)
		s.publish(ctx, audit.Event{Type: audit.EventLockout, Username: username, IPAddress: ip})
	}
}

func (s *AuthService) publish(ctx context.Context, ev audit.Event) {
	if err := s.Audit.Publish(ctx, ev); err != nil {
		logging.FromContext(ctx).Error("audit publish failed", "type", ev.Type, "error", err)
	}
}

func sanitize(u *models.User) *Profile {
	return &Profile{ID: u.ID.String(), Username: u.Username, Role: u.Role}
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 32 {
		return ErrValidation
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return ErrValidation
		}
	}
	return nil
}

// validatePassword enforces the account password policy: at least 8
// characters with a lower-case letter, an upper-case letter and a digit.
func validatePassword(password string) error {
	if len(password) < 8 {
		return ErrValidation
	}
	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	if !lower || !upper || !digit {
		return ErrValidation
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
