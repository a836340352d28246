package dagflow

import "github.com/cheggaaa/pb/v3"

// Progress is the fractional progress indicator external interface from
// spec section 6: init/step/done plus a sub-indicator constructor so the
// executor can compose one bar per phase, each weighted by its nominal
// step count.
type Progress interface {
	Init(totalSteps int64)
	Step(n int64)
	Done()
	Sub(steps int64, name string) Progress
}

// NullProgress discards all progress reporting.
type NullProgress struct{}

func (NullProgress) Init(int64)                    {}
func (NullProgress) Step(int64)                    {}
func (NullProgress) Done()                          {}
func (n NullProgress) Sub(int64, string) Progress { return n }

// TermProgress renders a terminal progress bar via cheggaaa/pb, weighting
// each phase's sub-bar by its nominal step count against the pipeline
// total (EXT-2 domain stack: cheggaaa/pb/v3).
type TermProgress struct {
	bar   *pb.ProgressBar
	total int64
	done  int64
}

// NewTermProgress returns a root Progress backed by a terminal bar.
func NewTermProgress() *TermProgress {
	return &TermProgress{}
}

func (t *TermProgress) Init(totalSteps int64) {
	t.total = totalSteps
	t.bar = pb.StartNew(int(totalSteps))
}

func (t *TermProgress) Step(n int64) {
	t.done += n
	if t.bar != nil {
		t.bar.SetCurrent(t.done)
	}
}

func (t *TermProgress) Done() {
	if t.bar != nil {
		t.bar.Finish()
	}
}

// Sub returns a sub-indicator that forwards its progress to the parent bar
// scaled to steps: once the sub-indicator is Init'ed with its own total,
// each Step(n) advances the parent by n*steps/total.
func (t *TermProgress) Sub(steps int64, name string) Progress {
	return &subProgress{parent: t, weight: steps, name: name}
}

type subProgress struct {
	parent *TermProgress
	weight int64
	total  int64
	done   int64
	name   string
}

func (s *subProgress) Init(totalSteps int64) { s.total = totalSteps }

func (s *subProgress) Step(n int64) {
	s.done += n
	if s.total == 0 {
		return
	}
	// Translate this sub-indicator's progress into the parent's step
	// budget for this phase (s.weight), so the top-level bar advances
	// smoothly as each phase runs instead of jumping phase to phase.
	scaled := n * s.weight / s.total
	if scaled > 0 {
		s.parent.Step(scaled)
	}
}

func (s *subProgress) Done() {}

func (s *subProgress) Sub(steps int64, name string) Progress {
	return &subProgress{parent: s.parent, weight: steps, name: name}
}
