package speech

import (
	"regexp"
	"strings"
	"unicode"
)

// stripPatterns run in order before the rune scan. Code spans go first so
// their contents never leak into the link and URL passes.
var stripPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
}

// SanitizeForSpeech reduces model output to text worth reading out loud.
// Markdown structure, URLs, emoji and stray symbols all disappear; spoken
// punctuation survives.
func SanitizeForSpeech(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	for _, p := range stripPatterns {
		text = p.re.ReplaceAllString(text, p.repl)
	}

	var b strings.Builder
	b.Grow(len(text))
	wroteSpace := true

	space := func() {
		if !wroteSpace {
			b.WriteByte(' ')
			wroteSpace = true
		}
	}

	for _, r := range text {
		switch {
		case isInvisibleJoiner(r):
			continue
		case isMarkupRune(r):
			// Word separators in markdown, silence in speech.
			space()
		case unicode.IsSpace(r):
			space()
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Emoji and symbol glyphs have no spoken form.
			continue
		case isSpeechSafePunctuation(r):
			b.WriteRune(r)
			wroteSpace = false
		case unicode.IsPunct(r):
			space()
		default:
			b.WriteRune(r)
			wroteSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

// isInvisibleJoiner reports combining marks that ride along with emoji:
// the zero-width joiner, the emoji variation selector and the keycap mark.
func isInvisibleJoiner(r rune) bool {
	switch r {
	case '‍', '️', '⃣':
		return true
	default:
		return false
	}
}

// isMarkupRune matches characters markdown uses structurally. The math
// symbols among them would otherwise vanish in the symbol branch and glue
// their neighbors together.
func isMarkupRune(r rune) bool {
	switch r {
	case '*', '_', '\\', '/', '|', '#', '~', '<', '>':
		return true
	default:
		return false
	}
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}
