package chat

import "strings"

const (
	maxTitleLength = 20
	defaultTitle   = "New Chat"
)

// Filler words commonly opening a question; at most one leading match is
// stripped when deriving a title.
var fillerPrefixes = []string{
	"what ", "how ", "why ", "can ", "could ", "would ", "should ",
	"tell ", "explain ", "help ", "show ", "do ",
}

// DeriveTitle produces a session title from the first user message. It is
// computed exactly once per session and never recomputed afterwards.
func DeriveTitle(firstMessage string) string {
	title := strings.TrimSpace(firstMessage)

	lower := strings.ToLower(title)
	for _, prefix := range fillerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			title = title[len(prefix):]
			break
		}
	}

	title = strings.TrimRight(title, "?!.,")

	// Truncation counts runes, not bytes, so multi-byte text is never cut
	// mid-character.
	if runes := []rune(title); len(runes) > maxTitleLength {
		cut := string(runes[:maxTitleLength])
		if idx := strings.LastIndex(cut, " "); idx > 0 {
			cut = cut[:idx]
		}
		title = cut + "..."
	}

	if title == "" {
		return defaultTitle
	}
	return title
}
