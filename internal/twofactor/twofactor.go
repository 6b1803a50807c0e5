// Package twofactor manages the TOTP secret lifecycle: disabled ->
// secret generated (unverified) -> enabled with backup codes -> disabled
// again, which destroys the secret entirely.
package twofactor

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/petamap/markers-auth/internal/logging"
	"github.com/petamap/markers-auth/internal/repo"
	"github.com/petamap/markers-auth/internal/totp"
)

const (
	backupCodeCount  = 10
	backupCodeDigits = 8
)

var ErrAlreadyEnabled = errors.New("two-factor authentication is already enabled")

type Service struct {
	Repo   *repo.GormRepo
	Issuer string
}

// GenerateSecret creates (or regenerates, while unverified) the shared
// secret for a user and returns it with the otpauth provisioning URI.
func (s *Service) GenerateSecret(ctx context.Context, userID uuid.UUID, username string) (secret, otpauthURL string, err error) {
	existing, err := s.Repo.GetTwoFactorSecret(ctx, userID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return "", "", err
	}
	if existing != nil && existing.Verified {
		return "", "", ErrAlreadyEnabled
	}

	secret, err = totp.GenerateSecret()
	if err != nil {
		return "", "", err
	}
	if err := s.Repo.UpsertTwoFactorSecret(ctx, userID, secret); err != nil {
		return "", "", err
	}

	return secret, totp.ProvisionURI(s.Issuer, username, secret), nil
}

// VerifyCode checks a time-step code against the user's stored secret.
// No secret, a store failure, or a bad code all read as false.
func (s *Service) VerifyCode(ctx context.Context, userID uuid.UUID, code string) bool {
	stored, err := s.Repo.GetTwoFactorSecret(ctx, userID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			logging.FromContext(ctx).Error("two-factor secret lookup failed", "error", err)
		}
		return false
	}
	return totp.Verify(stored.Secret, code, time.Now())
}

// Enable marks the secret verified, issues the backup code set and flips the
// user's flag. Callers invoke it only after VerifyCode succeeded during
// setup.
func (s *Service) Enable(ctx context.Context, userID uuid.UUID) ([]string, error) {
	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(codes)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.MarkTwoFactorVerified(ctx, userID, string(encoded)); err != nil {
		return nil, err
	}
	return codes, nil
}

// VerifyBackupCode consumes a single-use backup code: on match it is removed
// from the stored set before reporting success, so it cannot be replayed.
func (s *Service) VerifyBackupCode(ctx context.Context, userID uuid.UUID, code string) bool {
	stored, err := s.Repo.GetTwoFactorSecret(ctx, userID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			logging.FromContext(ctx).Error("two-factor secret lookup failed", "error", err)
		}
		return false
	}
	if stored.BackupCodes == "" {
		return false
	}

	var codes []string
	if err := json.Unmarshal([]byte(stored.BackupCodes), &codes); err != nil {
		return false
	}

	idx := -1
	for i, c := range codes {
		if c == code {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	remaining := append(codes[:idx:idx], codes[idx+1:]...)
	encoded, err := json.Marshal(remaining)
	if err != nil {
		return false
	}
	if err := s.Repo.UpdateBackupCodes(ctx, userID, string(encoded)); err != nil {
		logging.FromContext(ctx).Error("backup code consumption failed", "error", err)
		return false
	}
	return true
}

// Disable deletes the secret row and clears the user flag. The caller must
// have re-proven the account password and a current code first.
func (s *Service) Disable(ctx context.Context, userID uuid.UUID) error {
	return s.Repo.DeleteTwoFactorSecret(ctx, userID)
}

// Enabled reports whether 2FA is active for the user.
func (s *Service) Enabled(ctx context.Context, userID uuid.UUID) bool {
	user, err := s.Repo.GetUserByID(ctx, userID)
	if err != nil {
		return false
	}
	return user.TwoFactorEnabled
}

// generateBackupCodes produces 10 codes of 8 random digits formatted
// XXXX-XXXX.
func generateBackupCodes() ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	ten := big.NewInt(10)
	for i := 0; i < backupCodeCount; i++ {
		digits := make([]byte, backupCodeDigits)
		for j := range digits {
			n, err := rand.Int(rand.Reader, ten)
			if err != nil {
				return nil, err
			}
			digits[j] = byte('0' + n.Int64())
		}
		codes = append(codes, string(digits[:4])+"-"+string(digits[4:]))
	}
	return codes, nil
}
