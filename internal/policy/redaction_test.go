package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Write to clara@example.com or call +1 (555) 123-9876, card 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIIPassthrough(t *testing.T) {
	input := "Nothing sensitive here, just a chat about the weather."
	out, changed := RedactPII(input)
	if changed || out != input {
		t.Fatalf("RedactPII() = (%q, %v), want unchanged input", out, changed)
	}
}
