// Package security provides validation, sanitization, and limits for the later package.
package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

// Security limits and configuration
const (
	// MaxRequestBodySize is the maximum size in bytes for a stored request body (1MB)
	MaxRequestBodySize = 1 << 20

	// MaxURLLength is the maximum length for a target URL
	MaxURLLength = 8192

	// MaxDeliveries is the hard limit for redeliveries of one trigger
	MaxDeliveries = 100

	// MaxConcurrency is the hard limit for worker concurrency
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for logged error messages
	MaxErrorMessageLength = 4096

	// MaxQueueNameLength is the maximum length for queue names
	MaxQueueNameLength = 64
)

// validQueueName matches alphanumeric, hyphens, underscores, and dots
var validQueueName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// validMethod matches an HTTP token
var validMethod = regexp.MustCompile("^[!#$%&'*+\\-.^_`|~0-9A-Za-z]+$")

// ValidateQueueName validates a queue name
func ValidateQueueName(name string) error {
	if name == "" {
		return core.ErrInvalidQueueName
	}
	if len(name) > MaxQueueNameLength {
		return core.ErrQueueNameTooLong
	}
	if !validQueueName.MatchString(name) {
		return core.ErrInvalidQueueName
	}
	return nil
}

// NormalizeMethod upper-cases method and checks it is an HTTP token.
// An empty method means GET.
func NormalizeMethod(method string) (string, error) {
	if method == "" {
		return "GET", nil
	}
	if !validMethod.MatchString(method) {
		return "", fmt.Errorf("%w: method %q", core.ErrInvalidRequest, method)
	}
	return strings.ToUpper(method), nil
}

// ValidateTarget checks that raw is an absolute http or https URL and
// returns it in canonical form.
func ValidateTarget(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: missing url", core.ErrInvalidRequest)
	}
	if len(raw) > MaxURLLength {
		return "", fmt.Errorf("%w: url longer than %d bytes", core.ErrInvalidRequest, MaxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: url %q is not absolute", core.ErrInvalidRequest, raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", core.ErrInvalidRequest, u.Scheme)
	}
	return u.String(), nil
}

// ValidateBody checks body size and that method may carry a body.
func ValidateBody(method string, body []byte) error {
	if len(body) > MaxRequestBodySize {
		return core.ErrRequestTooLarge
	}
	if len(body) > 0 && (method == "GET" || method == "HEAD") {
		return fmt.Errorf("%w: %s request cannot have a body", core.ErrInvalidRequest, method)
	}
	return nil
}

// SanitizeErrorMessage truncates and strips control characters from msg
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}
	return result
}

// ClampDeliveries ensures the delivery limit is within bounds
func ClampDeliveries(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxDeliveries {
		return MaxDeliveries
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
