package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kim130727/eapproval/internal/services"
)

type UserHandler struct {
	roles    *services.RoleService
	profiles *services.ProfileService
	db       *gorm.DB
	logger   *zap.Logger
}

func NewUserHandler(roles *services.RoleService, profiles *services.ProfileService, db *gorm.DB, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		roles:    roles,
		profiles: profiles,
		db:       db,
		logger:   logger.With(zap.String("handler", "user")),
	}
}

// ListChairs returns the users eligible for review-line selection.
func (uh *UserHandler) ListChairs(c *gin.Context) {
	users, err := uh.roles.ChairUsers()
	if err != nil {
		uh.logger.Error("chair listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list users"})
		return
	}

	out := make([]gin.H, 0, len(users))
	for i := range users {
		profile, _ := uh.profiles.Get(users[i].ID)
		out = append(out, gin.H{
			"id":           users[i].ID,
			"username":     users[i].Username,
			"display_name": services.DisplayName(&users[i], profile),
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (uh *UserHandler) GetProfile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	profile, err := uh.profiles.Get(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      profile.UserID,
		"full_name":    profile.FullName,
		"phone":        profile.Phone,
		"role":         profile.Role,
		"display_name": services.DisplayName(user, profile),
	})
}

type profileUpdateRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

func (uh *UserHandler) UpdateProfile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req profileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	profile, err := uh.profiles.Update(user.ID, services.ProfileUpdate{
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		uh.logger.Error("profile update failed", zap.Uint("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":   profile.UserID,
		"full_name": profile.FullName,
		"phone":     profile.Phone,
		"role":      profile.Role,
	})
}

type membershipRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// AddGroupMember and RemoveGroupMember are the explicit mutation points for
// group membership; the role cache resyncs inside the service call.
func (uh *UserHandler) AddGroupMember(c *gin.Context) {
	groupName := c.Param("name")

	var req membershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := uh.roles.AddToGroup(req.UserID, groupName); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		uh.logger.Error("group add failed", zap.Uint("user_id", req.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update membership"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

func (uh *UserHandler) RemoveGroupMember(c *gin.Context) {
	groupName := c.Param("name")

	var req membershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := uh.roles.RemoveFromGroup(req.UserID, groupName); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		uh.logger.Error("group remove failed", zap.Uint("user_id", req.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update membership"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
