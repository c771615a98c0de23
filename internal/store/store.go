// Package store persists chat user profiles in SQLite through GORM. The
// relay only reads resolved identity fields; rows are created lazily the
// first time a verified credential subject connects.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/serenamente/chatrelay/internal/identity"
)

// User is the profile row backing an authenticated identity.
type User struct {
	ID        string `gorm:"primaryKey"`
	Subject   string `gorm:"uniqueIndex;not null"`
	Name      string
	Email     string
	Avatar    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Users provides profile lookups for the identity resolver.
type Users struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open opens (or creates) the SQLite database at path and migrates the
// users table.
func Open(path string, log *slog.Logger) (*Users, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("migrate users table: %w", err)
	}
	return &Users{db: db, log: log}, nil
}

// GetOrCreate returns the profile for a credential subject, creating the
// row on first sight. Claim fields that drifted since the last visit are
// synced back into the row.
func (u *Users) GetOrCreate(ctx context.Context, subject, name, email, avatar string) (identity.Profile, error) {
	var user User
	err := u.db.WithContext(ctx).Where("subject = ?", subject).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return identity.Profile{}, fmt.Errorf("lookup user %q: %w", subject, err)
		}
		user = User{
			ID:      uuid.NewString(),
			Subject: subject,
			Name:    name,
			Email:   email,
			Avatar:  avatar,
		}
		if err := u.db.WithContext(ctx).Create(&user).Error; err != nil {
			return identity.Profile{}, fmt.Errorf("create user %q: %w", subject, err)
		}
		u.log.Info("created user profile",
			slog.String("subject", subject), slog.String("id", user.ID))
		return profileOf(user), nil
	}

	updates := map[string]any{}
	if name != "" && user.Name != name {
		updates["name"] = name
		user.Name = name
	}
	if email != "" && user.Email != email {
		updates["email"] = email
		user.Email = email
	}
	if avatar != "" && user.Avatar != avatar {
		updates["avatar"] = avatar
		user.Avatar = avatar
	}
	if len(updates) > 0 {
		if err := u.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			// Stale fields are tolerable; the lookup itself succeeded.
			u.log.Warn("profile sync failed", slog.String("subject", subject), slog.Any("err", err))
		}
	}

	return profileOf(user), nil
}

func profileOf(user User) identity.Profile {
	return identity.Profile{ID: user.ID, Name: user.Name, Avatar: user.Avatar}
}
