package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecureHeadersConfig contains configuration for secure headers
type SecureHeadersConfig struct {
	UseHSTS    bool
	HSTSMaxAge time.Duration
	// NoStorePrefixes lists path prefixes whose responses must not be cached.
	NoStorePrefixes []string
}

// DefaultSecureHeadersConfig returns the default secure headers configuration
func DefaultSecureHeadersConfig(production bool) SecureHeadersConfig {
	return SecureHeadersConfig{
		UseHSTS:         production,
		HSTSMaxAge:      365 * 24 * time.Hour,
		NoStorePrefixes: []string{"/api/v1/admin", "/api/v1/wallet"},
	}
}

// SecureHeadersMiddleware adds security headers to JSON API responses
func SecureHeadersMiddleware(config SecureHeadersConfig) gin.HandlerFunc {
	hsts := "max-age=" + strconv.FormatInt(int64(config.HSTSMaxAge.Seconds()), 10) + "; includeSubDomains"

	return func(c *gin.Context) {
		if config.UseHSTS {
			c.Header("Strict-Transport-Security", hsts)
		}
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		for _, prefix := range config.NoStorePrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Header("Cache-Control", "no-store")
				c.Header("Pragma", "no-cache")
				break
			}
		}

		c.Next()
	}
}
