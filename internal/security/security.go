// Package security provides request hardening middleware for the API.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
)

// MaxIDLength bounds path identifiers.
const MaxIDLength = 64

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Headers adds security headers suited to a JSON API.
func Headers() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// ValidateID checks a domain or library identifier taken from a request path.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier is empty")
	}

	if len(id) > MaxIDLength {
		return fmt.Errorf("identifier exceeds maximum length of %d characters", MaxIDLength)
	}

	if strings.Contains(id, "\x00") || !utf8.ValidString(id) {
		return fmt.Errorf("identifier contains invalid characters")
	}

	if strings.Contains(id, "..") || !idPattern.MatchString(id) {
		return fmt.Errorf("identifier has an invalid format")
	}

	return nil
}

// ValidateParams rejects requests whose named path parameters are not valid
// identifiers.
func ValidateParams(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range names {
			value := c.Param(name)
			if err := ValidateID(value); err != nil {
				_ = c.Error(apperrors.NewValidationError(fmt.Sprintf("invalid %s: %v", name, err), value))
				c.Abort()
				return
			}
		}
		c.Next()
	}
}
