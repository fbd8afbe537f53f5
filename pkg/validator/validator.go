package validator

import (
	"net/url"
	"strings"
)

const (
	MinCodeLength = 6
	MaxCodeLength = 8
)

// ValidateURL checks that urlStr is an absolute http(s) URL with a host.
// The input is not trimmed or normalised: what passes here is stored as-is.
func ValidateURL(urlStr string) error {
	if strings.TrimSpace(urlStr) == "" {
		return ErrEmptyURL
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return ErrInvalidURL
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return ErrInvalidScheme
	}

	if parsedURL.Host == "" {
		return ErrInvalidHost
	}

	return nil
}

// IsValidURL reports whether ValidateURL accepts s.
func IsValidURL(s string) bool {
	return ValidateURL(s) == nil
}

// ValidateShortCode checks a short code against ^[A-Za-z0-9]{6,8}$.
func ValidateShortCode(code string) error {
	if len(code) < MinCodeLength || len(code) > MaxCodeLength {
		return ErrInvalidCodeLength
	}

	for i := 0; i < len(code); i++ {
		if !isAlphanumeric(code[i]) {
			return ErrInvalidCodeFormat
		}
	}

	return nil
}

// IsValidShortCode reports whether ValidateShortCode accepts s.
func IsValidShortCode(s string) bool {
	return ValidateShortCode(s) == nil
}

func isAlphanumeric(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9')
}
