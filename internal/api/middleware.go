package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rconsole-project/rconsole/internal/config"
)

// RequireToken returns a middleware that enforces the configured static
// bearer token. An empty token in the configuration disables auth.
func RequireToken(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := cfg.GetApplicationData().API.Token
		if token == "" {
			c.Next()
			return
		}

		provided := extractBearerToken(c.GetHeader("Authorization"))
		if provided == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid authorization header",
			})
			c.Abort()
			return
		}
		if provided != token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractBearerToken pulls the token out of an Authorization header.
func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// requestLogger logs each request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("api request")
	}
}
