// Package validation provides input validation helpers and middleware for the Doorman API.
package validation

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-form string fields
const MaxStringLength = 10000

// MaxEmailLength is the RFC 5321 upper bound for an address
const MaxEmailLength = 320

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+?[\d\s\-()]{7,15}$`)
)

// commonPasswords are rejected outright regardless of composition.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"qwerty123":   {},
	"letmein":     {},
	"iloveyou":    {},
	"admin123":    {},
	"welcome1":    {},
}

// PasswordStrength classifies a password as weak, medium, or strong.
type PasswordStrength string

const (
	PasswordWeak   PasswordStrength = "weak"
	PasswordMedium PasswordStrength = "medium"
	PasswordStrong PasswordStrength = "strong"
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEmail checks if a string is a plausible email address
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	return emailRegex.MatchString(email)
}

// IsValidPhone checks if a string is a plausible phone number
func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(strings.TrimSpace(phone))
}

// IsValidURL checks if a string is an http or https URL
func IsValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CheckPasswordStrength classifies a password. Anything under 8 characters
// or on the common-password list is weak. Strong requires 12+ characters
// and three of four character classes.
func CheckPasswordStrength(password string) PasswordStrength {
	if len(password) < 8 {
		return PasswordWeak
	}
	if _, common := commonPasswords[strings.ToLower(password)]; common {
		return PasswordWeak
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	classes := 0
	for _, b := range []bool{hasLower, hasUpper, hasDigit, hasSpecial} {
		if b {
			classes++
		}
	}

	if len(password) >= 12 && classes >= 3 {
		return PasswordStrong
	}
	if classes >= 2 {
		return PasswordMedium
	}
	return PasswordWeak
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

// ValidEmail checks if a field is a valid email address
func ValidEmail(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidEmail(value) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// ValidPhone checks if a field is a valid phone number
func ValidPhone(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidPhone(value) {
			return &ValidationError{Field: field, Message: "must be a valid phone number"}
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

// MinLength checks if a field is below min length
func MinLength(field, value string, min int) func() *ValidationError {
	return func() *ValidationError {
		if len(strings.TrimSpace(value)) < min {
			return &ValidationError{Field: field, Message: "is too short"}
		}
		return nil
	}
}

// UserIDParamMiddleware validates the :id URL parameter on routes that use it.
// Apply to route groups that include user-ID params to reject malformed IDs early.
func UserIDParamMiddleware() gin.HandlerFunc {
	idRegex := regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,64}$`)
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !idRegex.MatchString(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_user_id",
				"message": "user ID must be 1-64 alphanumeric characters",
			})
			return
		}
		c.Next()
	}
}
