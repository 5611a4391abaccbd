package conversation

import "strings"

const titleEllipsis = "..."

// DeriveTitle names a conversation after its first user message: whitespace is
// collapsed and anything past limit runes is cut and marked with an ellipsis.
func DeriveTitle(message string, limit int) string {
	if limit <= 0 {
		limit = DefaultTitleLimit
	}
	text := strings.Join(strings.Fields(message), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + titleEllipsis
}
