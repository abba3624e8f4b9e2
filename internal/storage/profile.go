package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/project-kairos/internal/types"
)

type profileModel struct {
	OwnerID         string `gorm:"primaryKey;size:128"`
	Name            string
	DateOfBirth     *time.Time
	Country         string
	Gender          string
	MainGoal        string `gorm:"type:text"`
	Interests       datatypes.JSON
	ExperienceLevel string
	IsDeleted       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (profileModel) TableName() string {
	return "user_profiles"
}

type preferencesModel struct {
	OwnerID              string `gorm:"primaryKey;size:128"`
	PreferredTone        string
	Language             string `gorm:"size:16"`
	NotificationsEnabled bool
	UpdatedAt            time.Time
}

func (preferencesModel) TableName() string {
	return "user_preferences"
}

// ProfileRepo accesses user profiles and preferences.
type ProfileRepo struct {
	db *gorm.DB
}

// GetProfile returns the live profile or nil.
func (r *ProfileRepo) GetProfile(ctx context.Context, ownerID string) (*types.UserProfile, error) {
	var record profileModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND is_deleted = ?", ownerID, false).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user profile: %w", err)
	}
	return &types.UserProfile{
		OwnerID:         record.OwnerID,
		Name:            record.Name,
		DateOfBirth:     record.DateOfBirth,
		Country:         record.Country,
		Gender:          record.Gender,
		MainGoal:        record.MainGoal,
		Interests:       unmarshalJSON[string](record.Interests),
		ExperienceLevel: record.ExperienceLevel,
		IsDeleted:       record.IsDeleted,
	}, nil
}

// SaveProfile upserts the profile.
func (r *ProfileRepo) SaveProfile(ctx context.Context, profile *types.UserProfile) error {
	record := profileModel{
		OwnerID:         profile.OwnerID,
		Name:            profile.Name,
		DateOfBirth:     profile.DateOfBirth,
		Country:         profile.Country,
		Gender:          profile.Gender,
		MainGoal:        profile.MainGoal,
		Interests:       marshalJSON(profile.Interests),
		ExperienceLevel: profile.ExperienceLevel,
		IsDeleted:       profile.IsDeleted,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		UpdateAll: true,
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save user profile: %w", err)
	}
	return nil
}

// GetPreferences returns stored preferences or the defaults.
func (r *ProfileRepo) GetPreferences(ctx context.Context, ownerID string) (types.UserPreferences, error) {
	var records []preferencesModel
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Limit(1).Find(&records).Error; err != nil {
		return types.UserPreferences{}, fmt.Errorf("failed to query user preferences: %w", err)
	}
	if len(records) == 0 {
		return types.DefaultPreferences(ownerID), nil
	}
	record := records[0]
	return types.UserPreferences{
		OwnerID:              record.OwnerID,
		PreferredTone:        record.PreferredTone,
		Language:             record.Language,
		NotificationsEnabled: record.NotificationsEnabled,
	}, nil
}

// SavePreferences upserts the preferences.
func (r *ProfileRepo) SavePreferences(ctx context.Context, prefs types.UserPreferences) error {
	record := preferencesModel{
		OwnerID:              prefs.OwnerID,
		PreferredTone:        prefs.PreferredTone,
		Language:             prefs.Language,
		NotificationsEnabled: prefs.NotificationsEnabled,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		UpdateAll: true,
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save user preferences: %w", err)
	}
	return nil
}
