package orchestrator

import (
	"context"

	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/progress"
)

// ProgressReporter maps a progress log line to a goal phase. An empty phase
// leaves the current phase unchanged.
type ProgressReporter func(line string) string

// phaseLog passes writes through to its delegate and reports the phase of
// every complete line. Flush and Close leave the delegate to its owner's
// lifecycle.
type phaseLog struct {
	progress.Log
	lines *progress.DelimitedLog
}

func newPhaseLog(delegate progress.Log, reporter ProgressReporter, onPhase func(string)) *phaseLog {
	sink := &phaseSink{Log: progress.Discard, reporter: reporter, onPhase: onPhase}
	return &phaseLog{Log: delegate, lines: progress.NewDelimitedLog(sink, "\n")}
}

func (p *phaseLog) Write(b []byte) (int, error) {
	n, err := p.Log.Write(b)
	_, _ = p.lines.Write(b)
	return n, err
}

func (p *phaseLog) Close(context.Context) error { return nil }

// phaseSink receives whole lines and reports phase changes
type phaseSink struct {
	progress.Log
	reporter ProgressReporter
	onPhase  func(phase string)
	last     string
}

func (s *phaseSink) Write(b []byte) (int, error) {
	for _, line := range progress.SplitLines(b) {
		phase := s.reporter(line)
		if phase != "" && phase != s.last {
			s.last = phase
			s.onPhase(phase)
		}
	}
	return len(b), nil
}

// withPhaseReporting wraps the invocation's log when the implementation
// reports phases
func withPhaseReporting(ctx context.Context, inv goal.Invocation, reporter ProgressReporter, t *tracker) goal.Invocation {
	if reporter == nil {
		return inv
	}
	inv.Progress = newPhaseLog(inv.Log(), reporter, func(phase string) {
		t.apply(context.WithoutCancel(ctx), goal.StatusPatch{Phase: phase})
	})
	return inv
}
