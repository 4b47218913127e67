package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnusablePasswordPrefix marks a password that can never match.
const UnusablePasswordPrefix = "!"

// AuthSourceLDAP marks users provisioned from the directory.
const AuthSourceLDAP = "ldap"

type User struct {
	ID       string `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex;not null"`
	Password string `gorm:"not null"` // Always unusable for directory users

	// Directory provenance
	AuthSource    string `gorm:"default:'ldap'"`
	DirectorySID  string `gorm:"index"`
	DirectoryGUID string `gorm:"index"`
	LastLogin     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDirectoryUser returns an unsaved user for a directory-authenticated username.
func NewDirectoryUser(username string) *User {
	u := &User{
		ID:         uuid.NewString(),
		Username:   username,
		AuthSource: AuthSourceLDAP,
	}
	u.SetUnusablePassword()
	return u
}

// SetUnusablePassword stores a marker that no password can match.
func (u *User) SetUnusablePassword() {
	u.Password = UnusablePasswordPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HasUsablePassword reports whether the user could authenticate locally.
func (u *User) HasUsablePassword() bool {
	return u.Password != "" && !strings.HasPrefix(u.Password, UnusablePasswordPrefix)
}

// IsDirectoryUser returns true if the directory is the user's authenticator
func (u *User) IsDirectoryUser() bool {
	return u.AuthSource == AuthSourceLDAP
}
