// Package engine implements the revision workflow state machine: it
// sequences context gathering, generation, patch review, optional
// refinement cycles, and the final apply, with explicit idle/error/terminal
// phases and stale-call protection.
//
// The controller is single-threaded by contract: the host calls every
// method from one goroutine (the bubbletea update loop in the shipped TUI).
// Asynchronous adapter work is handed back to the host as a *Call; the host
// runs it wherever it likes and feeds the Outcome into Resolve. Outcomes
// carry the run identity and call sequence that issued them, so a response
// arriving after a reset or back-navigation is discarded instead of being
// merged into state that no longer belongs to its run.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/quillhq/retouch/internal/revision"
)

// Config wires a controller to its collaborators.
type Config struct {
	DocumentID string
	Items      []revision.Item
	Strategy   Strategy
	Adapter    revision.Adapter
	Applier    revision.Applier
	// OnComplete is invoked with the applied patch count when a run
	// finishes successfully. Optional.
	OnComplete func(appliedCount int)
	// Logf receives diagnostic lines. Optional.
	Logf func(format string, args ...any)
}

// Controller owns the authoritative workflow state for one run.
type Controller struct {
	documentID string
	items      []revision.Item
	itemIndex  map[string]revision.Item
	strategy   Strategy
	adapter    revision.Adapter
	applier    revision.Applier
	onComplete func(int)
	logf       func(string, ...any)

	phase   Phase
	runID   string
	callSeq int

	patches    []revision.Patch
	reviews    map[string]revision.PatchReview
	itemErrors []revision.PatchError

	failure   string
	errReturn Phase
	// refineTargets is non-nil while a refinement call is in flight and
	// names the item IDs whose patches may be replaced by its result.
	refineTargets map[string]struct{}
	appliedCount  int
}

// New validates the configuration and returns an idle controller.
func New(cfg Config) (*Controller, error) {
	if strings.TrimSpace(cfg.DocumentID) == "" {
		return nil, fmt.Errorf("engine: document id is required")
	}
	if len(cfg.Items) == 0 {
		return nil, fmt.Errorf("engine: at least one item is required")
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("engine: strategy is required")
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("engine: adapter is required")
	}
	if cfg.Applier == nil {
		return nil, fmt.Errorf("engine: applier is required")
	}
	index := make(map[string]revision.Item, len(cfg.Items))
	for _, item := range cfg.Items {
		if item.ID == "" {
			return nil, fmt.Errorf("engine: item with empty id")
		}
		if _, dup := index[item.ID]; dup {
			return nil, fmt.Errorf("engine: duplicate item id %s", item.ID)
		}
		index[item.ID] = item
	}
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Controller{
		documentID: cfg.DocumentID,
		items:      append([]revision.Item(nil), cfg.Items...),
		itemIndex:  index,
		strategy:   cfg.Strategy,
		adapter:    cfg.Adapter,
		applier:    cfg.Applier,
		onComplete: cfg.OnComplete,
		logf:       logf,
		phase:      PhaseIdle,
		reviews:    map[string]revision.PatchReview{},
	}, nil
}

// callKind distinguishes the three asynchronous operations.
type callKind string

const (
	callAnalyze  callKind = "analyze"
	callGenerate callKind = "generate"
	callApply    callKind = "apply"
)

// Call is a pending asynchronous operation. The host executes Run (in a
// goroutine, a tea.Cmd, or inline in tests) and feeds the result to
// Controller.Resolve.
type Call struct {
	runID string
	seq   int
	kind  callKind
	run   func(context.Context) Outcome
}

// Run executes the call and returns its tagged outcome.
func (c *Call) Run(ctx context.Context) Outcome {
	return c.run(ctx)
}

// Outcome is the result of a Call, tagged with the identity of the call
// that produced it.
type Outcome struct {
	runID    string
	seq      int
	kind     callKind
	analysis revision.Analysis
	batch    revision.Batch
	applied  int
	err      error
}

// Start opens a run. Strategies with an analysis step move to analyzing and
// return the analysis call; the instruction path moves straight to the
// selection phase and returns no call.
func (c *Controller) Start() (*Call, error) {
	if c.phase != PhaseIdle {
		return nil, fmt.Errorf("engine: cannot start from %s", c.phase)
	}
	c.runID = uuid.NewString()
	c.logf("run %s: started (%s)", c.runID, c.strategy.Mode())
	if c.strategy.NeedsAnalysis() {
		c.phase = PhaseAnalyzing
		return c.newAnalysisCall(), nil
	}
	c.phase = PhaseSelecting
	return nil, nil
}

func (c *Controller) newAnalysisCall() *Call {
	c.callSeq++
	call := &Call{runID: c.runID, seq: c.callSeq, kind: callAnalyze}
	adapter := c.adapter
	docID := c.documentID
	items := append([]revision.Item(nil), c.items...)
	call.run = func(ctx context.Context) Outcome {
		analysis, err := adapter.Analyze(ctx, docID, items)
		return Outcome{runID: call.runID, seq: call.seq, kind: callAnalyze, analysis: analysis, err: err}
	}
	return call
}

// ContinueSelection advances the instruction path from the selection phase
// to instruction entry. At least one item must be selected.
func (c *Controller) ContinueSelection() error {
	if c.phase != PhaseSelecting {
		return fmt.Errorf("engine: cannot continue from %s", c.phase)
	}
	strat, ok := c.strategy.(*InstructionStrategy)
	if !ok {
		return fmt.Errorf("engine: selection requires the instruction strategy")
	}
	if strat.SelectedCount() == 0 {
		return fmt.Errorf("engine: select at least one item")
	}
	c.phase = PhaseInstructing
	return nil
}

// SubmitContext validates the gathered material and starts the generation
// call. Gating failures never reach the adapter.
func (c *Controller) SubmitContext() (*Call, error) {
	if c.phase != PhaseQuestions && c.phase != PhaseInstructing {
		return nil, fmt.Errorf("engine: cannot submit from %s", c.phase)
	}
	if !c.strategy.CanSubmit() {
		return nil, fmt.Errorf("engine: context is incomplete")
	}
	req, err := c.strategy.Gather()
	if err != nil {
		return nil, err
	}
	returnTo := c.phase
	c.phase = PhaseGenerating
	c.refineTargets = nil
	return c.newGenerateCall(req, returnTo), nil
}

// RefineRejected re-runs generation for the rejected-with-comment subset,
// carrying each target's current proposed content and the review comment.
// Approved patches are not resubmitted.
func (c *Controller) RefineRejected() (*Call, error) {
	if c.phase != PhaseReview {
		return nil, fmt.Errorf("engine: cannot refine from %s", c.phase)
	}
	if !c.CanRefine() {
		return nil, fmt.Errorf("engine: no rejected patches with comments")
	}
	base, err := c.strategy.Gather()
	if err != nil {
		return nil, err
	}
	targets := map[string]struct{}{}
	entries := make([]revision.ContextEntry, 0, len(base.Entries))
	for _, p := range c.patches {
		review := c.reviews[p.ItemID]
		if !review.RejectedWithComment() {
			continue
		}
		targets[p.ItemID] = struct{}{}
		matched := false
		for _, entry := range base.Entries {
			if entry.ItemID != p.ItemID {
				continue
			}
			entry.PriorPatch = append([]string(nil), p.ProposedContent...)
			entry.ReviewComment = strings.TrimSpace(review.Comment)
			entries = append(entries, entry)
			matched = true
		}
		if !matched {
			entries = append(entries, revision.ContextEntry{
				ItemID:        p.ItemID,
				PriorPatch:    append([]string(nil), p.ProposedContent...),
				ReviewComment: strings.TrimSpace(review.Comment),
			})
		}
	}
	req := revision.Context{
		Mode:        base.Mode,
		DocumentID:  c.documentID,
		Entries:     entries,
		Instruction: base.Instruction,
		Refinement:  true,
	}
	c.phase = PhaseGenerating
	c.refineTargets = targets
	return c.newGenerateCall(req, PhaseReview), nil
}

func (c *Controller) newGenerateCall(req revision.Context, returnTo Phase) *Call {
	c.callSeq++
	c.errReturn = returnTo
	call := &Call{runID: c.runID, seq: c.callSeq, kind: callGenerate}
	adapter := c.adapter
	items := append([]revision.Item(nil), c.items...)
	call.run = func(ctx context.Context) Outcome {
		batch, err := adapter.Generate(ctx, req, items)
		return Outcome{runID: call.runID, seq: call.seq, kind: callGenerate, batch: batch, err: err}
	}
	return call
}

// Apply starts the apply call for the currently-approved patch subset. The
// subset is computed at this moment, not from an earlier snapshot.
func (c *Controller) Apply() (*Call, error) {
	if c.phase != PhaseReview {
		return nil, fmt.Errorf("engine: cannot apply from %s", c.phase)
	}
	if !c.CanApply() {
		return nil, fmt.Errorf("engine: no approved patches")
	}
	approved := make([]revision.Patch, 0, len(c.patches))
	for _, p := range c.patches {
		if c.reviews[p.ItemID].Status == revision.StatusApproved {
			approved = append(approved, revision.ClonePatch(p))
		}
	}
	c.phase = PhaseApplying
	c.errReturn = PhaseReview
	c.callSeq++
	call := &Call{runID: c.runID, seq: c.callSeq, kind: callApply}
	applier := c.applier
	docID := c.documentID
	call.run = func(ctx context.Context) Outcome {
		applied, err := applier.Apply(ctx, docID, approved)
		return Outcome{runID: call.runID, seq: call.seq, kind: callApply, applied: applied, err: err}
	}
	return call, nil
}

// Resolve feeds a call outcome back into the state machine. Outcomes from a
// superseded run or call are discarded without touching state.
func (c *Controller) Resolve(out Outcome) {
	if out.runID != c.runID || out.seq != c.callSeq {
		c.logf("run %s: discarded stale %s outcome", c.runID, out.kind)
		return
	}
	switch out.kind {
	case callAnalyze:
		c.resolveAnalysis(out)
	case callGenerate:
		c.resolveGeneration(out)
	case callApply:
		c.resolveApply(out)
	}
}

func (c *Controller) resolveAnalysis(out Outcome) {
	if c.phase != PhaseAnalyzing {
		return
	}
	if out.err != nil {
		c.fail(fmt.Sprintf("analysis failed: %v", out.err), PhaseAnalyzing)
		return
	}
	if err := c.strategy.AbsorbAnalysis(out.analysis); err != nil {
		c.fail(err.Error(), PhaseAnalyzing)
		return
	}
	c.phase = PhaseQuestions
	c.logf("run %s: analysis produced %d questions", c.runID, len(out.analysis.Questions))
}

func (c *Controller) resolveGeneration(out Outcome) {
	if c.phase != PhaseGenerating {
		return
	}
	returnTo := c.errReturn
	if out.err != nil {
		c.refineTargets = nil
		c.fail(fmt.Sprintf("generation failed: %v", out.err), returnTo)
		return
	}
	if len(out.batch.Patches) == 0 {
		c.refineTargets = nil
		if n := len(out.batch.Errors); n > 0 {
			c.fail(fmt.Sprintf("generation failed for all %d items", n), returnTo)
		} else {
			c.fail("generation returned no patches", returnTo)
		}
		return
	}
	if c.refineTargets != nil {
		c.mergeRefinement(out.batch)
		return
	}
	patches := make([]revision.Patch, 0, len(out.batch.Patches))
	for _, p := range out.batch.Patches {
		patch := revision.ClonePatch(p)
		if item, ok := c.itemIndex[patch.ItemID]; ok {
			// The original snapshot always comes from the item itself, not
			// from whatever the adapter echoed back.
			patch.OriginalContent = append([]string(nil), item.Content...)
			if patch.ItemType == "" {
				patch.ItemType = item.Type
			}
			if patch.Title == "" {
				patch.Title = item.Title
			}
			if patch.Subtitle == "" {
				patch.Subtitle = item.Subtitle
			}
		}
		patches = append(patches, patch)
	}
	if err := revision.ValidatePatchSet(patches, c.itemIndex); err != nil {
		c.fail(err.Error(), returnTo)
		return
	}
	c.patches = patches
	c.reviews = revision.Reconcile(patches, nil)
	c.itemErrors = append([]revision.PatchError(nil), out.batch.Errors...)
	c.phase = PhaseReview
	c.logf("run %s: generated %d patches, %d per-item errors", c.runID, len(patches), len(out.batch.Errors))
}

// mergeRefinement replaces refined patches in place and leaves everything
// outside the target set untouched, identity included. Reviews for refined
// items reset to approved with an empty comment; all others are preserved
// exactly.
func (c *Controller) mergeRefinement(batch revision.Batch) {
	targets := c.refineTargets
	c.refineTargets = nil
	refreshed := map[string]struct{}{}
	byID := make(map[string]revision.Patch, len(batch.Patches))
	for _, p := range batch.Patches {
		if _, ok := targets[p.ItemID]; !ok {
			c.logf("run %s: refinement returned patch for untargeted item %s, ignored", c.runID, p.ItemID)
			continue
		}
		byID[p.ItemID] = p
	}
	for i, existing := range c.patches {
		next, ok := byID[existing.ItemID]
		if !ok {
			continue
		}
		existing.ProposedContent = append([]string(nil), next.ProposedContent...)
		existing.Summary = next.Summary
		c.patches[i] = existing
		refreshed[existing.ItemID] = struct{}{}
	}
	errs := make([]revision.PatchError, 0, len(batch.Errors))
	for _, e := range batch.Errors {
		if _, ok := targets[e.ItemID]; ok {
			errs = append(errs, e)
		}
	}
	for id := range refreshed {
		c.reviews[id] = revision.PatchReview{Status: revision.StatusApproved}
	}
	c.reviews = revision.Reconcile(c.patches, c.reviews)
	c.itemErrors = errs
	c.phase = PhaseReview
	c.logf("run %s: refined %d patches, %d per-item errors", c.runID, len(refreshed), len(errs))
}

func (c *Controller) resolveApply(out Outcome) {
	if c.phase != PhaseApplying {
		return
	}
	if out.err != nil {
		// Review state is preserved so the user can retry without redoing
		// generation.
		c.fail(fmt.Sprintf("apply failed: %v", out.err), PhaseReview)
		return
	}
	c.appliedCount = out.applied
	c.phase = PhaseComplete
	c.logf("run %s: applied %d patches", c.runID, out.applied)
	if c.onComplete != nil {
		c.onComplete(out.applied)
	}
}

func (c *Controller) fail(message string, returnTo Phase) {
	c.failure = message
	c.errReturn = returnTo
	c.phase = PhaseError
	c.logf("run %s: error: %s", c.runID, message)
}

// Back navigates toward the prior interactive state. From the error phase
// it re-enters the phase whose call failed, preserving answers, selections,
// instruction text, and review decisions; an analysis failure re-enters
// analyzing and returns a fresh analysis call. From an in-flight phase it
// cancels the pending call (its outcome will be discarded). From review and
// the gathering phases it cancels the run back to idle.
func (c *Controller) Back() (*Call, error) {
	switch c.phase {
	case PhaseError:
		target := c.errReturn
		c.failure = ""
		if target == PhaseAnalyzing {
			c.phase = PhaseAnalyzing
			return c.newAnalysisCall(), nil
		}
		if target == "" {
			target = PhaseIdle
		}
		c.phase = target
		return nil, nil
	case PhaseAnalyzing:
		c.callSeq++ // invalidate the in-flight call
		c.toIdle()
		return nil, nil
	case PhaseGenerating:
		c.callSeq++
		c.refineTargets = nil
		c.phase = c.errReturn
		return nil, nil
	case PhaseApplying:
		c.callSeq++
		c.phase = PhaseReview
		return nil, nil
	case PhaseQuestions, PhaseSelecting, PhaseInstructing, PhaseReview:
		c.toIdle()
		return nil, nil
	case PhaseComplete:
		c.toIdle()
		return nil, nil
	default:
		return nil, fmt.Errorf("engine: cannot go back from %s", c.phase)
	}
}

// Reset abandons the run from any state and returns to idle. Any in-flight
// call outcome is discarded when it eventually arrives.
func (c *Controller) Reset() {
	c.callSeq++
	c.toIdle()
}

func (c *Controller) toIdle() {
	c.phase = PhaseIdle
	c.runID = ""
	c.patches = nil
	c.reviews = map[string]revision.PatchReview{}
	c.itemErrors = nil
	c.failure = ""
	c.errReturn = ""
	c.refineTargets = nil
	c.appliedCount = 0
}
