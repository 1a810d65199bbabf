package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu       sync.Mutex
	resolved []*AudioHandle
	failed   []int
	notify   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 64)}
}

func (s *recordingSink) OnResolved(turnID string, index int, handle *AudioHandle) {
	s.mu.Lock()
	s.resolved = append(s.resolved, handle)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *recordingSink) OnFailed(turnID string, index int, err error) {
	s.mu.Lock()
	s.failed = append(s.failed, index)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *recordingSink) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for synthesis result %d of %d", i+1, n)
		}
	}
}

type stubSynth struct {
	mu   sync.Mutex
	reqs []SynthesisRequest
	err  error
}

func (s *stubSynth) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.err != nil {
		return SynthesisResult{}, s.err
	}
	return SynthesisResult{Audio: []byte{0x0a}, Format: "audio/wav"}, nil
}

func TestDispatcherAssignsContiguousIndices(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(&stubSynth{}, nil, sink, nil, nil)

	texts := []string{"First sentence here.", "Second paragraph follows.", "trailing bits"}
	rules := []BoundaryRule{RuleFirstSentence, RuleParagraphBreak, RuleFinalFlush}
	for i, text := range texts {
		seg := d.Submit(context.Background(), "t1", "en", "nova", text, rules[i])
		if seg.Index != i {
			t.Fatalf("segment %d assigned index %d", i, seg.Index)
		}
	}
	sink.wait(t, 3)

	if total := d.FinishTurn("t1"); total != 3 {
		t.Fatalf("FinishTurn() = %d, want 3", total)
	}
	// Counter resets per turn.
	if seg := d.Submit(context.Background(), "t2", "en", "nova", "Another turn starts.", RuleFirstSentence); seg.Index != 0 {
		t.Fatalf("new turn first index = %d, want 0", seg.Index)
	}
}

func TestDispatcherGreetingBypassesSynthesis(t *testing.T) {
	lib := &GreetingLibrary{
		defaultLocale: "en",
		clips:         map[string][]byte{"en": []byte{0x52, 0x49, 0x46, 0x46}},
	}
	synth := &stubSynth{}
	sink := newRecordingSink()
	d := NewDispatcher(synth, lib, sink, nil, nil)

	d.Submit(context.Background(), "t1", "en", "nova", canonicalGreetings["en"], RuleFinalFlush)
	sink.wait(t, 1)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.resolved) != 1 {
		t.Fatalf("resolved = %d, want 1", len(sink.resolved))
	}
	h := sink.resolved[0]
	if h.Source != SourceStatic {
		t.Fatalf("source = %q, want %q", h.Source, SourceStatic)
	}
	synth.mu.Lock()
	defer synth.mu.Unlock()
	if len(synth.reqs) != 0 {
		t.Fatalf("synthesis requests = %d, want 0", len(synth.reqs))
	}
}

func TestDispatcherNonGreetingTextHitsBackend(t *testing.T) {
	lib := &GreetingLibrary{defaultLocale: "en", clips: map[string][]byte{"en": []byte{0x01}}}
	synth := &stubSynth{}
	sink := newRecordingSink()
	d := NewDispatcher(synth, lib, sink, nil, nil)

	d.Submit(context.Background(), "t1", "en", "nova", "Not the canned greeting at all.", RuleFirstSentence)
	sink.wait(t, 1)
	d.Wait()

	synth.mu.Lock()
	defer synth.mu.Unlock()
	if len(synth.reqs) != 1 {
		t.Fatalf("synthesis requests = %d, want 1", len(synth.reqs))
	}
	if synth.reqs[0].TurnContextID != "t1" {
		t.Fatalf("turn context = %q, want t1", synth.reqs[0].TurnContextID)
	}
	if synth.reqs[0].PositionLabel == "" {
		t.Fatalf("position label missing")
	}
}

func TestDispatcherEmptyTextResolvesSilentSlot(t *testing.T) {
	synth := &stubSynth{}
	sink := newRecordingSink()
	d := NewDispatcher(synth, nil, sink, nil, nil)

	d.Submit(context.Background(), "t1", "en", "nova", "", RuleFinalFlush)
	sink.wait(t, 1)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.resolved) != 1 {
		t.Fatalf("resolved = %d, want 1", len(sink.resolved))
	}
	if len(sink.resolved[0].Audio) != 0 {
		t.Fatalf("silent slot carries %d audio bytes", len(sink.resolved[0].Audio))
	}
	synth.mu.Lock()
	defer synth.mu.Unlock()
	if len(synth.reqs) != 0 {
		t.Fatalf("synthesis requests = %d, want 0", len(synth.reqs))
	}
}

func TestDispatcherBackendFailureReportsFailed(t *testing.T) {
	synth := &stubSynth{err: errors.New("backend down")}
	sink := newRecordingSink()
	d := NewDispatcher(synth, nil, sink, nil, nil)

	seg := d.Submit(context.Background(), "t1", "en", "nova", "This one will not synthesize.", RuleFirstSentence)
	sink.wait(t, 1)
	d.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.failed) != 1 || sink.failed[0] != seg.Index {
		t.Fatalf("failed slots = %v, want [%d]", sink.failed, seg.Index)
	}
	if len(sink.resolved) != 0 {
		t.Fatalf("resolved = %d, want 0", len(sink.resolved))
	}
}
