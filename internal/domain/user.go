// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLen      = 128
	MaxDisplayNameLen = 64
	GuestName         = "guest"
)

type UserID string

// NormalizeDisplayName trims the caller-supplied name, falls back to GuestName
// and caps it at MaxDisplayNameLen runes.
func NormalizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return GuestName
	}
	if utf8.RuneCountInString(name) <= MaxDisplayNameLen {
		return name
	}
	return string([]rune(name)[:MaxDisplayNameLen])
}

// NormalizeUserID picks the supplied id, or fallback when it is blank.
// Identifiers are trusted as-is apart from the length cap.
func NormalizeUserID(id UserID, fallback string) UserID {
	s := strings.TrimSpace(string(id))
	if s == "" {
		s = fallback
	}
	if len(s) > MaxUserIDLen {
		s = s[:MaxUserIDLen]
	}
	return UserID(s)
}
