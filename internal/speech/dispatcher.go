package speech

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mstanisz/clara/internal/observability"
)

// ResultSink receives synthesis outcomes. Results may arrive in any
// order; ordering is entirely the sequencer's business.
type ResultSink interface {
	OnResolved(turnID string, index int, handle *AudioHandle)
	OnFailed(turnID string, index int, err error)
}

// Dispatcher turns finalized segments into asynchronous synthesis
// requests keyed by (turnID, index). It owns the per-turn index counter
// so slot numbers form a contiguous sequence starting at zero no matter
// which boundary rule produced each segment.
type Dispatcher struct {
	synth     Synthesizer
	greetings *GreetingLibrary
	sink      ResultSink
	metrics   *observability.Metrics
	logger    *log.Logger

	mu       sync.Mutex
	counters map[string]int
	wg       sync.WaitGroup
}

func NewDispatcher(synth Synthesizer, greetings *GreetingLibrary, sink ResultSink, metrics *observability.Metrics, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		synth:     synth,
		greetings: greetings,
		sink:      sink,
		metrics:   metrics,
		logger:    logger,
		counters:  make(map[string]int),
	}
}

// Submit assigns the next slot index for the turn and issues the
// synthesis request in the background. The returned segment carries the
// assigned index. Multiple submissions for one turn run concurrently.
func (d *Dispatcher) Submit(ctx context.Context, turnID, locale, voice, text string, rule BoundaryRule) Segment {
	d.mu.Lock()
	index := d.counters[turnID]
	d.counters[turnID] = index + 1
	d.mu.Unlock()

	seg := Segment{TurnID: turnID, Index: index, Text: text, Rule: rule}
	if d.metrics != nil {
		d.metrics.SegmentsEmitted.WithLabelValues(string(rule)).Inc()
	}

	if d.greetings != nil {
		if clip, ok := d.greetings.Lookup(locale, text); ok {
			seg.Rule = RuleStaticGreeting
			d.resolveStatic(seg, clip)
			return seg
		}
	}

	spoken := SanitizeForSpeech(text)
	if spoken == "" {
		// Nothing audible in this span. Resolve an empty handle so the
		// slot sequence stays gapless and successors are not stalled.
		d.sink.OnResolved(seg.TurnID, seg.Index, &AudioHandle{
			TurnID: seg.TurnID,
			Index:  seg.Index,
			Source: SourceSynthesized,
			Rule:   seg.Rule,
		})
		return seg
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		start := time.Now()
		result, err := d.synth.Synthesize(ctx, SynthesisRequest{
			Text:          spoken,
			TurnContextID: seg.TurnID,
			PositionLabel: positionLabel(seg),
			Voice:         voice,
		})
		if err != nil {
			if d.metrics != nil {
				d.metrics.SynthesisResults.WithLabelValues(string(SourceSynthesized), "error").Inc()
			}
			d.logger.Printf("speech: synthesis failed for %s: %v", positionLabel(seg), err)
			d.sink.OnFailed(seg.TurnID, seg.Index, err)
			return
		}
		if d.metrics != nil {
			d.metrics.SynthesisResults.WithLabelValues(string(SourceSynthesized), "ok").Inc()
			d.metrics.ObserveTurnStage("segment_synthesis", time.Since(start))
		}
		d.sink.OnResolved(seg.TurnID, seg.Index, &AudioHandle{
			TurnID: seg.TurnID,
			Index:  seg.Index,
			Source: SourceSynthesized,
			Rule:   seg.Rule,
			Audio:  result.Audio,
			Format: result.Format,
		})
	}()
	return seg
}

// FinishTurn releases the turn's index counter and reports how many
// slots were issued.
func (d *Dispatcher) FinishTurn(turnID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := d.counters[turnID]
	delete(d.counters, turnID)
	return count
}

// Wait blocks until every in-flight synthesis goroutine has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) resolveStatic(seg Segment, clip []byte) {
	if d.metrics != nil {
		d.metrics.SynthesisResults.WithLabelValues(string(SourceStatic), "ok").Inc()
	}
	d.sink.OnResolved(seg.TurnID, seg.Index, &AudioHandle{
		TurnID: seg.TurnID,
		Index:  seg.Index,
		Source: SourceStatic,
		Rule:   RuleStaticGreeting,
		Audio:  clip,
		Format: "audio/wav",
	})
}

func positionLabel(seg Segment) string {
	return fmt.Sprintf("turn %s segment %d (%s)", seg.TurnID, seg.Index, seg.Rule)
}
