package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

type User struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"     json:"id"`
	Username         string    `gorm:"unique;not null"          json:"username"`
	PasswordHash     string    `gorm:"not null"                 json:"-"`
	Role             string    `gorm:"not null;default:USER"    json:"role"`
	TwoFactorEnabled bool      `gorm:"default:false"            json:"twoFactorEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// RefreshToken rows keep the sha256 hex of the opaque token value, never the
// value itself. Revoked rows are retained until CleanupExpired removes them
// so a replay after rotation is observable.
type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"           json:"id"`
	TokenHash string    `gorm:"uniqueIndex;not null" json:"-"`
	UserID    uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	ExpiresAt int64     `gorm:"not null"             json:"expires_at"`
	Revoked   bool      `gorm:"default:false"        json:"revoked"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}

// TwoFactorSecret is one-to-one with User. Verified distinguishes a secret
// that was merely generated during setup from one the user has proven
// possession of. BackupCodes holds a JSON array of unused codes.
type TwoFactorSecret struct {
	ID          uint      `gorm:"primaryKey"               json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Secret      string    `gorm:"not null"                 json:"-"`
	Verified    bool      `gorm:"default:false"            json:"verified"`
	BackupCodes string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
