package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"medical-insights-server/internal/config"
	"medical-insights-server/internal/models"
	"medical-insights-server/internal/utils"
)

// AuthMiddleware creates a middleware for JWT authentication.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			utils.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(parts[1], cfg.JWTSecret)
		if err != nil {
			utils.Unauthorized(c, "Invalid token: "+err.Error())
			c.Abort()
			return
		}

		// Set user information in context for downstream handlers
		c.Set("userID", claims.UserID)
		c.Set("userRole", claims.Role)

		c.Next()
	}
}

// RoleAuthMiddleware creates a middleware for role-based authorization.
// It should be used *after* AuthMiddleware.
func RoleAuthMiddleware(allowedRoles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetUserRoleFromContext(c)
		if !ok {
			utils.InternalServerError(c, "User role not found in context. AuthMiddleware might be missing.")
			c.Abort()
			return
		}

		for _, allowedRole := range allowedRoles {
			if role == allowedRole {
				c.Next()
				return
			}
		}

		utils.Forbidden(c, "You do not have permission to access this resource.")
		c.Abort()
	}
}

// SubjectAccessMiddleware lets patients reach only their own profile, named by
// the given path parameter. Doctors and admins may reach any profile.
func SubjectAccessMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CanAccessSubject(c, c.Param(param)) {
			utils.Forbidden(c, "You can only access your own records.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// CanAccessSubject reports whether the authenticated user may read subjectID.
func CanAccessSubject(c *gin.Context, subjectID string) bool {
	role, _ := GetUserRoleFromContext(c)
	if role == models.RoleDoctor || role == models.RoleAdmin {
		return true
	}
	userID, ok := GetUserIDFromContext(c)
	return ok && subjectID != "" && userID == subjectID
}

// GetUserIDFromContext returns the authenticated user id.
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		return "", false
	}
	idStr, ok := userID.(string)
	return idStr, ok
}

// GetUserRoleFromContext returns the authenticated user role.
func GetUserRoleFromContext(c *gin.Context) (models.Role, bool) {
	userRole, exists := c.Get("userRole")
	if !exists {
		return "", false
	}
	role, ok := userRole.(models.Role)
	return role, ok
}
