package synthesis

import (
	"strings"

	"encore.app/pkg/models"
)

// MaxThemes caps the key-theme list on every synthesis result.
const MaxThemes = 5

// themeVocabulary is the fixed keyword set scanned for in narrative text.
// Order fixes the priority when the cap truncates.
var themeVocabulary = []string{
	"energy",
	"rest",
	"creativity",
	"relationships",
	"decision",
	"physical",
	"mental",
	"emotional",
}

// ExtractThemes derives the key-theme list for a narrative:
// vocabulary keywords found in the text, then AI-proposed themes, then
// themes tagged by individual readings; deduplicated, capped at MaxThemes.
//
// Matching is case-insensitive substring search: narratives are short and
// the vocabulary is fixed, so a tokenizer would be overkill.
func ExtractThemes(narrative string, readings []models.Reading, proposed []string) []string {
	lower := strings.ToLower(narrative)

	themes := make([]string, 0, MaxThemes)
	seen := make(map[string]bool)

	add := func(theme string) {
		theme = strings.ToLower(strings.TrimSpace(theme))
		if theme == "" || seen[theme] || len(themes) >= MaxThemes {
			return
		}
		seen[theme] = true
		themes = append(themes, theme)
	}

	for _, keyword := range themeVocabulary {
		if strings.Contains(lower, keyword) {
			add(keyword)
		}
	}

	for _, theme := range proposed {
		add(theme)
	}

	for _, r := range readings {
		for _, theme := range r.Themes {
			add(theme)
		}
	}

	return themes
}
