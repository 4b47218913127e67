package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is 1:1 with User.
type Profile struct {
	ID       string `gorm:"primaryKey"`
	UserID   string `gorm:"uniqueIndex;not null"`
	FullName string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewProfile(userID string) *Profile {
	return &Profile{
		ID:     uuid.NewString(),
		UserID: userID,
	}
}
