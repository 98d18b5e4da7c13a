// Package middleware provides the dashboard's gin middleware chain:
// single-operator bearer auth, CORS, request logging, and panic recovery.
// Narrowed from the teacher's multi-role/session/SSO middleware stack down
// to one operator and no sessions.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hostwatch/hostwatch/pkg/auth"
	"github.com/hostwatch/hostwatch/pkg/config"
)

// AuthMiddleware validates the operator's bearer token and sets "username"
// in the request context.
func AuthMiddleware(authService *auth.Auth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}

// extractToken pulls the bearer token from the Authorization header or,
// failing that, the "token" query parameter.
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return c.Query("token")
}

// CORSMiddleware applies the dashboard's configured cross-origin policy. An
// unconfigured (zero-value) CORSConfig disables the headers entirely.
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		origin := "*"
		if len(cfg.Origins) > 0 {
			origin = strings.Join(cfg.Origins, ", ")
		}
		methods := "GET, OPTIONS"
		if len(cfg.Methods) > 0 {
			methods = strings.Join(cfg.Methods, ", ")
		}
		headers := "Content-Type, Authorization"
		if len(cfg.Headers) > 0 {
			headers = strings.Join(cfg.Headers, ", ")
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", methods)
		c.Writer.Header().Set("Access-Control-Allow-Headers", headers)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests to the dashboard's shared logger.
func LoggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\"\n",
			param.ClientIP,
			param.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.ErrorMessage,
		)
	})
}

// RecoveryMiddleware recovers from panics in handlers, matching the rest of
// the toolkit's per-goroutine panic isolation (see pkg/dispatch).
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.Recovery()
}
