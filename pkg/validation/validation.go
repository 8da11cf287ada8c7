package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxIDLength          = 100
	maxDisplayNameLength = 64
)

var (
	// IDRegex validates participant, object and room ids
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	// ColorRegex validates #rgb and #rrggbb colors
	ColorRegex = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

func validateID(id, kind string) error {
	if id == "" {
		return fmt.Errorf("%s ID is required", kind)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s ID is too long (max %d characters)", kind, maxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s ID format", kind)
	}
	return nil
}

// ValidateParticipantID validates participant ID
func ValidateParticipantID(id string) error {
	return validateID(id, "participant")
}

// ValidateObjectID validates object ID
func ValidateObjectID(id string) error {
	return validateID(id, "object")
}

// ValidateRoomID validates room ID
func ValidateRoomID(id string) error {
	return validateID(id, "room")
}

// ValidateDisplayName validates a participant display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return ValidateStringLength(name, 1, maxDisplayNameLength, "display name")
}

// ValidateColor validates a hex color
func ValidateColor(color string) error {
	if color == "" {
		return fmt.Errorf("color is required")
	}
	if !ColorRegex.MatchString(color) {
		return fmt.Errorf("invalid color format (must be #rgb or #rrggbb)")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
