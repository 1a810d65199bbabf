package speech

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mstanisz/clara/internal/audio"
)

// canonicalGreetings maps locale to the fixed welcome line whose audio is
// pre-recorded. Synthesis is bypassed only on an exact text match.
var canonicalGreetings = map[string]string{
	"en": "Hi! I'm Clara. How can I help you today?",
	"de": "Hallo! Ich bin Clara. Wie kann ich dir heute helfen?",
	"es": "¡Hola! Soy Clara. ¿En qué puedo ayudarte hoy?",
	"fr": "Bonjour ! Je suis Clara. Comment puis-je t'aider aujourd'hui ?",
	"pl": "Cześć! Jestem Clara. W czym mogę ci dzisiaj pomóc?",
}

// GreetingLibrary holds one pre-recorded clip per locale, loaded once at
// startup from <dir>/<locale>.wav.
type GreetingLibrary struct {
	defaultLocale string
	clips         map[string][]byte
}

// LoadGreetingLibrary reads and validates every canonical locale clip
// present in dir. Missing clips are tolerated; those locales simply fall
// back to network synthesis. A present but malformed clip is a startup
// error.
func LoadGreetingLibrary(dir, defaultLocale string) (*GreetingLibrary, error) {
	lib := &GreetingLibrary{
		defaultLocale: normalizeLocale(defaultLocale),
		clips:         make(map[string][]byte),
	}
	if lib.defaultLocale == "" {
		lib.defaultLocale = "en"
	}
	if strings.TrimSpace(dir) == "" {
		return lib, nil
	}

	for locale := range canonicalGreetings {
		path := filepath.Join(dir, locale+".wav")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read greeting clip %s: %w", path, err)
		}
		if _, err := audio.ParseWAVInfo(data); err != nil {
			return nil, fmt.Errorf("invalid greeting clip %s: %w", path, err)
		}
		lib.clips[locale] = data
	}
	return lib, nil
}

// GreetingText returns the canonical greeting line for a locale.
func (l *GreetingLibrary) GreetingText(locale string) string {
	if text, ok := canonicalGreetings[l.resolve(locale)]; ok {
		return text
	}
	return canonicalGreetings["en"]
}

// Lookup returns the pre-recorded clip when text exactly equals the
// locale's canonical greeting and a clip exists. This is a fixed
// optimization for the canned welcome line, not a general cache.
func (l *GreetingLibrary) Lookup(locale, text string) ([]byte, bool) {
	loc := l.resolve(locale)
	canonical, ok := canonicalGreetings[loc]
	if !ok || strings.TrimSpace(text) != canonical {
		return nil, false
	}
	clip, ok := l.clips[loc]
	return clip, ok
}

func (l *GreetingLibrary) resolve(locale string) string {
	loc := normalizeLocale(locale)
	if loc == "" {
		loc = l.defaultLocale
	}
	if _, ok := canonicalGreetings[loc]; !ok {
		return l.defaultLocale
	}
	return loc
}

func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	return locale
}
