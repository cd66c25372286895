package services

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kim130727/eapproval/internal/db/models"
)

// RoleService keeps the Profile.Role display cache in sync with the single
// source of truth: group membership plus the superuser flag. Every
// membership mutation goes through this service so the sync point is an
// explicit call, not a hidden trigger.
type RoleService struct {
	db         *gorm.DB
	logger     *zap.Logger
	chairGroup string
}

func NewRoleService(db *gorm.DB, logger *zap.Logger, chairGroup string) *RoleService {
	return &RoleService{
		db:         db,
		logger:     logger.With(zap.String("service", "role_service")),
		chairGroup: chairGroup,
	}
}

// IsPrivileged is the authoritative check. It always computes from the
// superuser flag and live group membership, never from the cached role.
func (rs *RoleService) IsPrivileged(user *models.User) bool {
	if user == nil || user.ID == 0 {
		return false
	}
	if user.IsSuperuser {
		return true
	}

	var count int64
	err := rs.db.Table("user_groups").
		Joins("JOIN groups ON groups.id = user_groups.group_id").
		Where("user_groups.user_id = ? AND groups.name = ?", user.ID, rs.chairGroup).
		Count(&count).Error
	if err != nil {
		rs.logger.Error("group membership check failed", zap.Uint("user_id", user.ID), zap.Error(err))
		return false
	}
	return count > 0
}

// SyncRole recomputes the cached role for a user and persists it only when
// it changed. Creates the profile row if the user has none yet.
func (rs *RoleService) SyncRole(userID uint) error {
	var user models.User
	if err := rs.db.First(&user, userID).Error; err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}

	desired := models.RoleMember
	if rs.IsPrivileged(&user) {
		desired = models.RoleChair
	}

	var profile models.Profile
	err := rs.db.Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = models.Profile{UserID: userID, FullName: user.FullName, Role: desired}
		if err := rs.db.Create(&profile).Error; err != nil {
			return fmt.Errorf("create profile for user %d: %w", userID, err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	if profile.Role == desired {
		return nil
	}

	if err := rs.db.Model(&profile).Update("role", desired).Error; err != nil {
		return err
	}
	rs.logger.Info("role cache updated",
		zap.Uint("user_id", userID),
		zap.String("role", string(desired)))
	return nil
}

// EnsureProfile guarantees a profile row exists and is in sync. Called at
// registration and seeding.
func (rs *RoleService) EnsureProfile(userID uint) error {
	return rs.SyncRole(userID)
}

func (rs *RoleService) AddToGroup(userID uint, groupName string) error {
	var user models.User
	if err := rs.db.First(&user, userID).Error; err != nil {
		return err
	}

	group := models.Group{Name: groupName}
	if err := rs.db.Where("name = ?", groupName).FirstOrCreate(&group).Error; err != nil {
		return err
	}

	if err := rs.db.Model(&user).Association("Groups").Append(&group); err != nil {
		return err
	}
	return rs.SyncRole(userID)
}

func (rs *RoleService) RemoveFromGroup(userID uint, groupName string) error {
	var user models.User
	if err := rs.db.First(&user, userID).Error; err != nil {
		return err
	}

	var group models.Group
	err := rs.db.Where("name = ?", groupName).First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rs.SyncRole(userID)
	}
	if err != nil {
		return err
	}

	if err := rs.db.Model(&user).Association("Groups").Delete(&group); err != nil {
		return err
	}
	return rs.SyncRole(userID)
}

func (rs *RoleService) ClearGroups(userID uint) error {
	var user models.User
	if err := rs.db.First(&user, userID).Error; err != nil {
		return err
	}
	if err := rs.db.Model(&user).Association("Groups").Clear(); err != nil {
		return err
	}
	return rs.SyncRole(userID)
}

// ChairUsers lists users currently eligible for review lines: active members
// of the chair group. Superusers qualify for IsPrivileged but are not listed
// for selection unless they are also in the group.
func (rs *RoleService) ChairUsers() ([]models.User, error) {
	var users []models.User
	err := rs.db.
		Joins("JOIN user_groups ON user_groups.user_id = users.id").
		Joins("JOIN groups ON groups.id = user_groups.group_id").
		Where("groups.name = ? AND users.active_status = ?", rs.chairGroup, true).
		Distinct("users.*").
		Order("users.username").
		Find(&users).Error
	return users, err
}
