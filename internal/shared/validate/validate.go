// Package validate checks names and payloads that cross the admin API into
// the kernel. Failures wrap errno.EINVAL.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
)

// Limits
const (
	MaxNameLength  = 64
	MaxMessageSize = 16 * 1024 // single echo message
)

// NamePattern allows alphanumeric, dots, hyphens and underscores. Names
// appear in URL paths and metric labels.
var NamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// String validates a string field with length and content checks
func String(value, field string, minLen, maxLen int) error {
	if value == "" && minLen > 0 {
		return fmt.Errorf("%s is required: %w", field, errno.EINVAL)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s is not valid UTF-8: %w", field, errno.EINVAL)
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters: %w", field, minLen, errno.EINVAL)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters: %w", field, maxLen, errno.EINVAL)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters: %w", field, errno.EINVAL)
	}
	return nil
}

// Name validates the name of a kernel object such as a pipe or work queue.
func Name(kind, name string) error {
	if err := String(name, kind+" name", 1, MaxNameLength); err != nil {
		return err
	}
	if !NamePattern.MatchString(name) {
		return fmt.Errorf("%s name %q contains invalid characters (only alphanumeric, dots, hyphens, and underscores allowed): %w",
			kind, name, errno.EINVAL)
	}
	return nil
}

// Message validates an echo payload.
func Message(msg string) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("message size %d bytes exceeds maximum %d bytes: %w", len(msg), MaxMessageSize, errno.EINVAL)
	}
	return String(msg, "message", 1, MaxMessageSize)
}
