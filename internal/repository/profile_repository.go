package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tasksync/internal/model"
)

// ProfileRepository persists the signed-in account so the client can answer
// "who am I" without reaching the remote API.
type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Save stores the profile, replacing any previously stored account.
func (r *ProfileRepository) Save(ctx context.Context, user *model.User) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("id <> ?", user.ID).Delete(&model.User{}).Error; err != nil {
		return fmt.Errorf("clear stale profiles: %w", err)
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(user).Error
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Load returns the stored profile, or gorm.ErrRecordNotFound when nobody is
// signed in.
func (r *ProfileRepository) Load(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Clear removes the stored profile on sign-out.
func (r *ProfileRepository) Clear(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&model.User{}).Error; err != nil {
		return fmt.Errorf("clear profile: %w", err)
	}
	return nil
}
