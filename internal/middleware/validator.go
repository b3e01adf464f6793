package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Input validation and sanitization utilities

var (
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)
	fileIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidateSessionID accepts the same alphabet the file store keeps on disk.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("invalid session ID format (alphanumeric and dash only, max 64 chars)")
	}
	return nil
}

func ValidateFileID(fileID string) error {
	if !fileIDPattern.MatchString(fileID) {
		return fmt.Errorf("invalid file ID format")
	}
	return nil
}

// ValidateAnalysisID requires a UUID.
func ValidateAnalysisID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid analysis ID format")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit clamps a history limit to 1..200, default 50.
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
