package repo

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrUserAlreadyExist = errors.New("user already exist")
	ErrTokenUnusable    = errors.New("token expired or revoked")
)

type GormRepo struct {
	DB *gorm.DB
}
