package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.Und)

// Capitalize upper-cases the first character of s when it is lowercase.
// The rest of the string is left untouched.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsLower(r) {
		return s
	}
	return upper.String(s[:size]) + s[size:]
}

// ScriptLine renders one turn as "speaker: text".
func ScriptLine(t Turn) string {
	return t.Speaker + ": " + t.Text
}

// FormatScript renders the human-readable script: one "speaker: text" line per
// turn, separated by blank lines.
func FormatScript(turns []Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = ScriptLine(t)
	}
	return strings.Join(lines, "\n\n")
}

// FullText joins the turn texts with single spaces.
func FullText(turns []Turn) string {
	texts := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Text != "" {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, " ")
}

// Speakers returns the distinct speaker labels in order of first appearance.
func Speakers(turns []Turn) []string {
	seen := make(map[string]bool)
	speakers := make([]string, 0)
	for _, t := range turns {
		if !seen[t.Speaker] {
			seen[t.Speaker] = true
			speakers = append(speakers, t.Speaker)
		}
	}
	return speakers
}
