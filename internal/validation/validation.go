// Package validation provides input validation middleware for the trust API.
package validation

import (
	"math"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// MaxUserIDLength bounds user identifiers
const MaxUserIDLength = 64

var (
	// userIDRegex validates user identifiers (letters, digits, dot, dash, underscore)
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)
	// sessionIDRegex validates session identifiers issued by this service
	sessionIDRegex = regexp.MustCompile(`^sess_[a-zA-Z0-9]+$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidUserID checks if a string is an acceptable user identifier
func IsValidUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// IsValidSessionID checks if a string looks like a session identifier we issued
func IsValidSessionID(id string) bool {
	return sessionIDRegex.MatchString(id)
}

// IsFinite reports whether v is a usable telemetry value (not NaN or Inf)
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidUserID checks if a field is an acceptable user identifier
func ValidUserID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidUserID(value) {
			return &ValidationError{Field: field, Message: "must be 1-64 characters of letters, digits, '.', '-' or '_'"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// FiniteValue checks that a telemetry reading is a real number
func FiniteValue(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if !IsFinite(value) {
			return &ValidationError{Field: field, Message: "must be a finite number"}
		}
		return nil
	}
}

// InRange checks that a value falls within [min, max]
func InRange(field string, value, min, max float64) func() *ValidationError {
	return func() *ValidationError {
		if !IsFinite(value) || value < min || value > max {
			return &ValidationError{Field: field, Message: "is out of range"}
		}
		return nil
	}
}

// SessionIDParamMiddleware validates the :id URL parameter on routes that use it.
// Apply to route groups that include session ID params to reject malformed IDs early.
func SessionIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidSessionID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_session_id",
				"message": "session id must look like sess_<alphanumeric>",
			})
			return
		}
		c.Next()
	}
}
