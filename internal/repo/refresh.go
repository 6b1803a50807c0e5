package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/petamap/markers-auth/internal/models"
)

func (r *GormRepo) AddRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	return r.DB.WithContext(ctx).Create(token).Error
}

func (r *GormRepo) FindRefreshByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	if err := r.DB.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *GormRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	return r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ?", tokenHash).
		Update("revoked", true).Error
}

// RevokeAll marks every refresh token of the user revoked. Used on password
// change and "log out everywhere".
func (r *GormRepo) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true).Error
}

func (r *GormRepo) refreshUnusable(db *gorm.DB, tokenHash string) (bool, error) {
	var token models.RefreshToken
	if err := db.Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
		return false, err
	}
	if token.Revoked || token.ExpiresAt < time.Now().Unix() {
		return true, nil
	}
	return false, nil
}

// RotateRefreshToken revokes the presented token and persists its successor
// in one transaction. Rotation is mandatory: a leaked refresh token is good
// for at most one use, and replay of the old value fails afterwards.
func (r *GormRepo) RotateRefreshToken(ctx context.Context, oldHash string, newToken *models.RefreshToken) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unusable, err := r.refreshUnusable(tx, oldHash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if unusable {
			return ErrTokenUnusable
		}

		if err := tx.Model(&models.RefreshToken{}).
			Where("token_hash = ?", oldHash).
			Update("revoked", true).Error; err != nil {
			return err
		}

		return tx.Create(newToken).Error
	})
}

// CleanupExpired deletes rows past their expiry, revoked or not. Called
// opportunistically on login; it is housekeeping, not a correctness
// requirement.
func (r *GormRepo) CleanupExpired(ctx context.Context) (int64, error) {
	tx := r.DB.WithContext(ctx).
		Where("expires_at < ?", time.Now().Unix()).
		Delete(&models.RefreshToken{})
	return tx.RowsAffected, tx.Error
}
