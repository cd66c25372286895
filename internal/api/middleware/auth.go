package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kim130727/eapproval/internal/db/models"
	"github.com/kim130727/eapproval/internal/services"
)

type AuthMiddleware struct {
	auth *services.AuthService
	db   *gorm.DB
}

func NewAuthMiddleware(auth *services.AuthService, db *gorm.DB) *AuthMiddleware {
	return &AuthMiddleware{
		auth: auth,
		db:   db,
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			if cookie, err := c.Cookie("session_token"); err == nil {
				token = cookie
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		userID, err := am.auth.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		var user models.User
		if err := am.db.First(&user, userID).Error; err != nil || !user.ActiveStatus {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set("user", &user)
		c.Set("userID", user.ID)
		c.Set("username", user.Username)
		c.Next()
	}
}

func (am *AuthMiddleware) RequireSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get("user")
		user, _ := v.(*models.User)
		if !ok || user == nil || !user.IsSuperuser {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "superuser required"})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
