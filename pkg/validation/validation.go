package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxDisplayNameLength = 64
	MaxChatTextLength    = 4096
)

// ValidateDisplayName accepts printable UTF-8 of at most MaxDisplayNameLength
// runes. An empty name is valid: the relay substitutes a default.
func ValidateDisplayName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name is not valid UTF-8")
	}
	if err := ValidateStringLength(name, 0, MaxDisplayNameLength, "display name"); err != nil {
		return err
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("display name contains control characters")
		}
	}
	return nil
}

func ValidateChatText(text string) error {
	if err := ValidateNonEmptyString(text, "chat message"); err != nil {
		return err
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("chat message is not valid UTF-8")
	}
	return ValidateStringLength(text, 1, MaxChatTextLength, "chat message")
}

// ValidateRelayURL checks the address a client dials.
func ValidateRelayURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("relay URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay URL scheme must be ws or wss")
	}
	if u.Host == "" {
		return fmt.Errorf("relay URL must have a host")
	}
	return nil
}

func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

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
