package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/isometry/adauth/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the local identity store. Users are unique by username and
// profiles are unique by user; both creations are insert-or-fetch so
// concurrent logins for one username converge on a single row.
type Store struct {
	db *gorm.DB
}

func New(driver, dsn string) (*Store, error) {
	dialector, err := GetDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	return NewWithDB(db)
}

// NewWithDB wraps an open database and migrates the identity tables.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Profile{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate identity tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// User operations
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetOrCreateUser inserts user unless its username already exists, and
// returns the stored row. created reports whether this call inserted it.
func (s *Store) GetOrCreateUser(ctx context.Context, user *models.User) (*models.User, bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoNothing: true,
		}).
		Create(user)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return user, true, nil
	}

	existing, err := s.GetUserByUsername(ctx, user.Username)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch existing user: %w", err)
	}
	return existing, false, nil
}

func (s *Store) SaveUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Profile operations

// GetOrCreateProfile returns the profile of userID, creating an empty one if absent.
func (s *Store) GetOrCreateProfile(ctx context.Context, userID string) (*models.Profile, error) {
	profile := models.NewProfile(userID)
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(profile)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create profile: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return profile, nil
	}

	var existing models.Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch existing profile: %w", notFound(err))
	}
	return &existing, nil
}

func (s *Store) GetProfileByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}

func (s *Store) SaveProfile(ctx context.Context, profile *models.Profile) error {
	if err := s.db.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// CountUsers returns the number of local users.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error
	return count, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}
