package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/petamap/markers-auth/internal/models"
)

func (r *GormRepo) GetTwoFactorSecret(ctx context.Context, userID uuid.UUID) (*models.TwoFactorSecret, error) {
	var secret models.TwoFactorSecret
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&secret).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &secret, nil
}

// UpsertTwoFactorSecret creates or replaces the unverified secret for a user.
// Regenerating before verification is allowed; the caller refuses to touch a
// verified secret.
func (r *GormRepo) UpsertTwoFactorSecret(ctx context.Context, userID uuid.UUID, secretValue string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.TwoFactorSecret
		err := tx.Where("user_id = ?", userID).First(&existing).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(&models.TwoFactorSecret{
					UserID: userID,
					Secret: secretValue,
				}).Error
			}
			return err
		}
		return tx.Model(&existing).Updates(map[string]any{
			"secret":       secretValue,
			"verified":     false,
			"backup_codes": "",
		}).Error
	})
}

// MarkTwoFactorVerified flips the secret to verified, stores the backup code
// set and enables 2FA on the user, all in one transaction.
func (r *GormRepo) MarkTwoFactorVerified(ctx context.Context, userID uuid.UUID, backupCodesJSON string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TwoFactorSecret{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				"verified":     true,
				"backup_codes": backupCodesJSON,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("two_factor_enabled", true).Error
	})
}

func (r *GormRepo) UpdateBackupCodes(ctx context.Context, userID uuid.UUID, backupCodesJSON string) error {
	return r.DB.WithContext(ctx).Model(&models.TwoFactorSecret{}).
		Where("user_id = ?", userID).
		Update("backup_codes", backupCodesJSON).Error
}

// DeleteTwoFactorSecret removes the secret row entirely and clears the user
// flag. Disable destroys, it does not merely unset verified.
func (r *GormRepo) DeleteTwoFactorSecret(ctx context.Context, userID uuid.UUID) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.TwoFactorSecret{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("two_factor_enabled", false).Error
	})
}
