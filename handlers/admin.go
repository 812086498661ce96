package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	adminKeyHeader  = "X-Admin-Key"
	adminUserHeader = "X-Admin-User"
	adminUserKey    = "admin_user"
)

// AdminAuth guards the admin routes with a shared key. An empty key disables
// the check, which config only allows outside production.
func AdminAuth(key string, log *slog.Logger) gin.HandlerFunc {
	if key == "" {
		log.Warn("ADMIN_KEY is empty, admin routes are unauthenticated")
	}
	return func(c *gin.Context) {
		if key != "" {
			got := c.GetHeader(adminKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid admin key"})
				return
			}
		}
		user := strings.TrimSpace(c.GetHeader(adminUserHeader))
		if user == "" {
			user = "admin"
		}
		c.Set(adminUserKey, user)
		c.Next()
	}
}

func adminUser(c *gin.Context) string {
	if v := c.GetString(adminUserKey); v != "" {
		return v
	}
	return "admin"
}
