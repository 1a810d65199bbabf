package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/mstanisz/clara/internal/reliability"
)

// ExecSynthesizer shells out to a local synthesis command. The request is
// written to stdin as one JSON document and stdout is read back as raw
// audio bytes. One invocation at a time; local engines rarely tolerate
// concurrent runs.
type ExecSynthesizer struct {
	cmd    []string
	format string
	mu     sync.Mutex
}

func NewExecSynthesizer(command, format string) (*ExecSynthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command empty")
	}
	if strings.TrimSpace(format) == "" {
		format = "audio/wav"
	}
	return &ExecSynthesizer{cmd: args, format: format}, nil
}

func (s *ExecSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return SynthesisResult{}, reliability.Classify(reliability.KindSynthesis, 0, fmt.Errorf("marshal synthesis request: %w", err))
	}

	base := s.cmd[0]
	args := append([]string{}, s.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return SynthesisResult{}, reliability.Classify(reliability.KindSynthesis, 0, fmt.Errorf("synthesis command: %w: %s", err, detail))
		}
		return SynthesisResult{}, reliability.Classify(reliability.KindSynthesis, 0, fmt.Errorf("synthesis command: %w", err))
	}
	if out.Len() == 0 {
		return SynthesisResult{}, reliability.Classify(reliability.KindSynthesis, 0, fmt.Errorf("synthesis command produced no audio"))
	}
	return SynthesisResult{Audio: out.Bytes(), Format: s.format}, nil
}
