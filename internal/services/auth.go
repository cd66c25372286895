package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kim130727/eapproval/internal/config"
	"github.com/kim130727/eapproval/internal/db/models"
	"github.com/kim130727/eapproval/internal/utils"
)

type AuthService struct {
	db     *gorm.DB
	roles  *RoleService
	logger *zap.Logger
	cfg    config.SecurityConfig
}

func NewAuthService(db *gorm.DB, roles *RoleService, cfg config.SecurityConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		db:     db,
		roles:  roles,
		logger: logger.With(zap.String("service", "auth_service")),
		cfg:    cfg,
	}
}

func (as *AuthService) Register(username, password, fullName, email string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username required", ErrValidation)
	}
	if len(password) < as.cfg.PasswordMinLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, as.cfg.PasswordMinLength)
	}
	if as.cfg.PasswordMaxLength > 0 && len(password) > as.cfg.PasswordMaxLength {
		return nil, fmt.Errorf("%w: password too long", ErrValidation)
	}

	var existing models.User
	if err := as.db.Where("username = ?", username).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("%w: username already exists", ErrValidation)
	}

	hash, err := utils.EncryptPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
		FullName:     strings.TrimSpace(fullName),
		ActiveStatus: true,
	}
	if user.FullName == "" {
		user.FullName = username
	}

	if err := as.db.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username already exists", ErrValidation)
		}
		return nil, err
	}

	if err := as.roles.EnsureProfile(user.ID); err != nil {
		as.logger.Error("profile sync after registration failed",
			zap.Uint("user_id", user.ID), zap.Error(err))
	}

	as.logger.Info("user registered", zap.String("username", username), zap.Uint("user_id", user.ID))
	return &user, nil
}

func (as *AuthService) Login(username, password string) (string, *models.User, error) {
	username = strings.TrimSpace(username)

	var user models.User
	if err := as.db.Where("username = ?", username).First(&user).Error; err != nil {
		return "", nil, fmt.Errorf("invalid credentials")
	}
	if ok, err := utils.VerifyPassword(user.PasswordHash, password); !ok || err != nil {
		return "", nil, fmt.Errorf("invalid credentials")
	}
	if !user.ActiveStatus {
		return "", nil, fmt.Errorf("account deactivated")
	}

	token, err := as.issueToken(&user)
	if err != nil {
		return "", nil, err
	}

	as.db.Model(&user).Update("last_login", time.Now())
	return token, &user, nil
}

func (as *AuthService) ChangePassword(userID uint, oldPassword, newPassword string) error {
	var user models.User
	if err := as.db.First(&user, userID).Error; err != nil {
		return err
	}
	if ok, err := utils.VerifyPassword(user.PasswordHash, oldPassword); !ok || err != nil {
		return fmt.Errorf("invalid credentials")
	}
	if len(newPassword) < as.cfg.PasswordMinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, as.cfg.PasswordMinLength)
	}

	hash, err := utils.EncryptPassword(newPassword)
	if err != nil {
		return err
	}
	return as.db.Model(&user).Update("password_hash", hash).Error
}

func (as *AuthService) issueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      fmt.Sprintf("%d", user.ID),
		"username": user.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(as.cfg.TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.cfg.JWTSecret))
}

// ParseToken validates a session token and returns the user id it carries.
func (as *AuthService) ParseToken(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(as.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	var id uint
	if _, err := fmt.Sscanf(sub, "%d", &id); err != nil || id == 0 {
		return 0, fmt.Errorf("invalid token subject")
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") ||
		strings.Contains(s, "UNIQUE constraint") ||
		strings.Contains(s, "unique constraint")
}
