package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"lanrelay/internal/core/domain"
)

const MaxDisplayNameBytes = 64

// SessionIDRegex matches ids the registry hands out and that are safe as a
// single path component.
var SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// NormalizeDisplayName trims the name and checks that it is usable inside
// colon-delimited control messages.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", domain.ErrInvalidDisplayName)
	}
	if len(name) > MaxDisplayNameBytes {
		return "", fmt.Errorf("%w: name is too long (max %d bytes)", domain.ErrInvalidDisplayName, MaxDisplayNameBytes)
	}
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: name is not valid UTF-8", domain.ErrInvalidDisplayName)
	}
	for _, r := range name {
		if r == ':' || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: name contains %q", domain.ErrInvalidDisplayName, r)
		}
	}
	return name, nil
}

// ValidateSessionID validates a client-supplied session id
func ValidateSessionID(id string) error {
	if !SessionIDRegex.MatchString(id) {
		return fmt.Errorf("%w: malformed id %q", domain.ErrUnknownSession, id)
	}
	return nil
}

// SanitizeFilename reduces a client-supplied filename to a bare name that is
// safe to join onto a storage directory. Anything that still looks like a
// path after stripping directories is rejected.
func SanitizeFilename(name string, maxLen int) (string, error) {
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: not valid UTF-8", domain.ErrInvalidFilename)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: contains NUL", domain.ErrInvalidFilename)
	}

	// Treat both separators alike regardless of the server's OS.
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.TrimSpace(base)

	switch {
	case base == "", base == ".", base == "..", base == "/":
		return "", fmt.Errorf("%w: %q has no usable base name", domain.ErrInvalidFilename, name)
	case strings.HasSuffix(base, ".part"):
		return "", fmt.Errorf("%w: reserved suffix", domain.ErrInvalidFilename)
	case maxLen > 0 && len(base) > maxLen:
		return "", fmt.Errorf("%w: name is too long (max %d bytes)", domain.ErrInvalidFilename, maxLen)
	}
	for _, r := range base {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: contains control characters", domain.ErrInvalidFilename)
		}
	}
	return base, nil
}
