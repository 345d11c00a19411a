package middleware

import (
	"net"
	"net/http"
	"strings"

	"escrow-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// UserIdentity requires the caller identity header and stores it in the
// context for handlers. Identity verification itself lives in the gateway
// in front of this service.
func UserIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader("X-User-ID")
		if uid == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Missing X-User-ID header",
			})
			c.Abort()
			return
		}
		c.Set("user_id", uid)
		c.Next()
	}
}

// AdminAuth validates the operator JWT issued by the admin login endpoint.
func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authorization header must be in format: Bearer <token>",
			})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := handlers.ValidateAdminJWTToken(tokenString)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Warn("admin token rejected")
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set("admin_username", claims.Username)
		c.Next()
	}
}

// IPAllowlist restricts a route group to the configured addresses. An empty
// list allows loopback only.
func IPAllowlist(allowed []string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, ip := range allowed {
		allowedSet[strings.TrimSpace(ip)] = struct{}{}
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if len(allowedSet) == 0 {
			if ip := net.ParseIP(clientIP); ip != nil && ip.IsLoopback() {
				c.Next()
				return
			}
		} else if _, ok := allowedSet[clientIP]; ok {
			c.Next()
			return
		}

		logrus.WithField("client_ip", clientIP).Warn("request blocked by IP allowlist")
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Access denied",
		})
		c.Abort()
	}
}
