// Package validate normalizes client-supplied text before it is stored or
// rebroadcast to other workspace members.
package validate

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// MaxDisplayNameLen caps usernames shown in presence lists.
	MaxDisplayNameLen = 64
	// MaxChatMessageLen caps chat message bodies.
	MaxChatMessageLen = 2000
)

var htmlPolicy = bluemonday.StrictPolicy()

// DisplayName sanitizes a user-visible name: HTML is stripped, entities
// decoded, control characters removed, and the result trimmed and truncated.
// Returns "" when nothing printable remains.
func DisplayName(s string) string {
	return clean(s, MaxDisplayNameLen)
}

// ChatMessage sanitizes a chat message body the same way as DisplayName but
// with the larger chat length cap.
func ChatMessage(s string) string {
	return clean(s, MaxChatMessageLen)
}

func clean(s string, maxRunes int) string {
	// Strip HTML tags.
	s = htmlPolicy.Sanitize(s)

	// Decode HTML entities (bluemonday may encode special chars).
	s = html.UnescapeString(s)

	// Trim whitespace, strip control characters.
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	if runes := []rune(s); len(runes) > maxRunes {
		s = string(runes[:maxRunes])
	}
	return s
}
