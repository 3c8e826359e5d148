package services

import "gua-backend/internal/models"

const (
	titleMaxRunes = 30
	titleEllipsis = "..."
)

// DeriveTitle turns the first message of a conversation into its title:
// the text itself when it has at most 30 characters, otherwise the first 30
// followed by "...".
func DeriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleMaxRunes {
		return text
	}
	return string(runes[:titleMaxRunes]) + titleEllipsis
}

func hasPlaceholderTitle(c models.Conversation) bool {
	return c.Title == models.PlaceholderTitle
}
