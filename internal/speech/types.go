package speech

// BoundaryRule names the heuristic that closed a segment.
type BoundaryRule string

const (
	RuleFirstSentence  BoundaryRule = "first_sentence"
	RuleParagraphBreak BoundaryRule = "paragraph_break"
	RuleFinalFlush     BoundaryRule = "final_flush"
	RuleStaticGreeting BoundaryRule = "static_greeting"
)

// Segment is a contiguous span of turn text chosen for independent
// synthesis. Immutable once emitted; the index is assigned by the
// dispatcher, not the segmenter.
type Segment struct {
	TurnID string
	Index  int
	Text   string
	Rule   BoundaryRule
}

// SourceKind distinguishes pre-recorded assets from synthesized audio.
type SourceKind string

const (
	SourceStatic      SourceKind = "static"
	SourceSynthesized SourceKind = "synthesized"
)

// AudioHandle is a playable resource bound to one segment slot.
type AudioHandle struct {
	TurnID string
	Index  int
	Source SourceKind
	Rule   BoundaryRule
	Audio  []byte
	Format string
}
