package services

import (
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kim130727/eapproval/internal/db/models"
)

// ProfileUpdate is an explicit command struct so the update is independent
// of whatever edit surface calls it.
type ProfileUpdate struct {
	FullName string
	Phone    string
}

type ProfileService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewProfileService(db *gorm.DB, logger *zap.Logger) *ProfileService {
	return &ProfileService{
		db:     db,
		logger: logger.With(zap.String("service", "profile_service")),
	}
}

func (ps *ProfileService) Get(userID uint) (*models.Profile, error) {
	var profile models.Profile
	if err := ps.db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (ps *ProfileService) Update(userID uint, upd ProfileUpdate) (*models.Profile, error) {
	profile, err := ps.Get(userID)
	if err != nil {
		return nil, err
	}

	err = ps.db.Model(profile).Updates(map[string]interface{}{
		"full_name": strings.TrimSpace(upd.FullName),
		"phone":     strings.TrimSpace(upd.Phone),
	}).Error
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// DisplayName prefers the profile full name, then the user's full name,
// then the username.
func DisplayName(user *models.User, profile *models.Profile) string {
	if profile != nil && strings.TrimSpace(profile.FullName) != "" {
		return strings.TrimSpace(profile.FullName)
	}
	if user != nil && strings.TrimSpace(user.FullName) != "" {
		return strings.TrimSpace(user.FullName)
	}
	if user != nil {
		return user.Username
	}
	return ""
}
