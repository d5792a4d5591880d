package engine

// Phase enumerates the workflow states. The controller owns the current
// phase; every mutator and action validates against it before touching any
// other state.
type Phase string

const (
	// PhaseIdle means no run is active.
	PhaseIdle Phase = "idle"
	// PhaseAnalyzing means the Q&A strategy's weak-item analysis call is in
	// flight.
	PhaseAnalyzing Phase = "analyzing"
	// PhaseQuestions means clarifying questions are presented and answers
	// are being collected.
	PhaseQuestions Phase = "questions"
	// PhaseSelecting means the instruction strategy's item selection is
	// presented.
	PhaseSelecting Phase = "selecting"
	// PhaseInstructing means the free-text instruction is being collected.
	PhaseInstructing Phase = "instructing"
	// PhaseGenerating means a generation (or refinement) call is in flight.
	PhaseGenerating Phase = "generating"
	// PhaseReview means the patch list and review map are live.
	PhaseReview Phase = "review"
	// PhaseApplying means the apply call is in flight.
	PhaseApplying Phase = "applying"
	// PhaseComplete is terminal success.
	PhaseComplete Phase = "complete"
	// PhaseError holds a human-readable failure message.
	PhaseError Phase = "error"
)

// InFlight reports whether an asynchronous call is pending in this phase.
// Review and context mutators are rejected while a call is in flight.
func (p Phase) InFlight() bool {
	return p == PhaseAnalyzing || p == PhaseGenerating || p == PhaseApplying
}

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseIdle
}
