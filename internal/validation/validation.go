// Package validation provides input validation for the sentinel API: request
// size limits, account identifier checks and struct validation backed by
// go-playground/validator.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// MaxRequestSize is the default maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxAccountLength bounds account and counterparty identifiers.
const MaxAccountLength = 128

var accountRegex = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,128}$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance. It caches struct metadata
// so it must not be recreated per request.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAccount reports whether s looks like an account identifier.
func IsValidAccount(s string) bool {
	return accountRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
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

// Struct validates v against its `validate` tags. A nil return means v is
// valid; otherwise the result is a ValidationErrors.
func Struct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Namespace(),
			Message: describe(fe),
		})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	case "ltefield", "gtefield":
		return fmt.Sprintf("must satisfy %s %s", fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// AccountParamMiddleware rejects malformed :account URL parameters early.
func AccountParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := c.Param("account")
		if acct != "" && !IsValidAccount(acct) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_account",
				"message": "account must be 1-128 characters of letters, digits or _.:@-",
			})
			return
		}
		c.Next()
	}
}
