package speech

import (
	"strings"
	"unicode"
)

// Segmenter scans a growing token stream and decides where speakable
// segments end. Before the first boundary it waits for a sentence
// terminator once enough text has accumulated; afterwards it cuts on
// paragraph breaks. It carries no ordering metadata; indices are assigned
// by the dispatcher.
type Segmenter struct {
	minChars           int
	buf                strings.Builder
	firstBoundaryFound bool
	flushed            bool
}

func NewSegmenter(minChars int) *Segmenter {
	if minChars <= 0 {
		minChars = 20
	}
	return &Segmenter{minChars: minChars}
}

// Feed appends one text delta and reports at most one finalized segment
// text. The second return is false when no boundary fired.
func (s *Segmenter) Feed(delta string) (string, BoundaryRule, bool) {
	if s.flushed || delta == "" {
		return "", "", false
	}
	s.buf.WriteString(delta)
	text := s.buf.String()

	if !s.firstBoundaryFound {
		if len(text) > s.minChars && endsAtSentenceBoundary(text) {
			s.firstBoundaryFound = true
			s.buf.Reset()
			return text, RuleFirstSentence, true
		}
		return "", "", false
	}

	// Whitespace-only buffers keep accumulating so a lone paragraph break
	// never becomes a silent segment slot.
	if strings.Contains(text, "\n\n") && strings.TrimSpace(text) != "" {
		s.buf.Reset()
		return text, RuleParagraphBreak, true
	}
	return "", "", false
}

// Flush emits the residual buffer, empty or not, exactly once at stream
// end. Every turn gets a terminal flush segment so trailing text missed
// by boundary rules is still spoken.
func (s *Segmenter) Flush() (string, BoundaryRule, bool) {
	if s.flushed {
		return "", "", false
	}
	s.flushed = true
	text := s.buf.String()
	s.buf.Reset()
	return text, RuleFinalFlush, true
}

// endsAtSentenceBoundary reports whether the buffer currently ends on a
// sentence terminator. A '.' directly after a digit is not a boundary so
// numbers like 3.14 survive intact.
func endsAtSentenceBoundary(text string) bool {
	runes := []rune(strings.TrimRight(text, " \t\"')"))
	if len(runes) == 0 {
		return false
	}
	last := runes[len(runes)-1]
	switch last {
	case '.', '!', '?', '…':
	default:
		return false
	}
	if len(runes) >= 2 && last == '.' && unicode.IsDigit(runes[len(runes)-2]) {
		return false
	}
	return true
}
