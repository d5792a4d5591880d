package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/quillhq/retouch/internal/revision"
)

type stubAdapter struct {
	analysis    revision.Analysis
	analysisErr error

	batch       revision.Batch
	generateErr error

	analyzeCalls  int
	generateCalls int
	lastRequest   revision.Context
}

func (s *stubAdapter) Analyze(ctx context.Context, documentID string, items []revision.Item) (revision.Analysis, error) {
	s.analyzeCalls++
	return s.analysis, s.analysisErr
}

func (s *stubAdapter) Generate(ctx context.Context, req revision.Context, items []revision.Item) (revision.Batch, error) {
	s.generateCalls++
	s.lastRequest = req
	return s.batch, s.generateErr
}

type stubApplier struct {
	applied  []revision.Patch
	applyErr error
	calls    int
}

func (s *stubApplier) Apply(ctx context.Context, documentID string, approved []revision.Patch) (int, error) {
	s.calls++
	s.applied = approved
	if s.applyErr != nil {
		return 0, s.applyErr
	}
	return len(approved), nil
}

func testItems() []revision.Item {
	return []revision.Item{
		{ID: "experience-1", Type: revision.ItemExperience, Title: "Senior Engineer", Subtitle: "Acme", Content: []string{"did things"}},
		{ID: "experience-2", Type: revision.ItemExperience, Title: "Engineer", Subtitle: "Initech", Content: []string{"built stuff"}},
		{ID: "project-1", Type: revision.ItemProject, Title: "Side Project", Content: []string{"wrote code"}},
	}
}

func proposedPatch(id string, bullets ...string) revision.Patch {
	return revision.Patch{ItemID: id, ProposedContent: bullets, Summary: "rewrote " + id}
}

// resolve executes a pending call inline and feeds the outcome back.
func resolve(t *testing.T, ctrl *Controller, call *Call) {
	t.Helper()
	if call == nil {
		t.Fatal("expected a pending call")
	}
	ctrl.Resolve(call.Run(context.Background()))
}

func newInstructionHarness(t *testing.T) (*Controller, *stubAdapter, *stubApplier) {
	t.Helper()
	adapter := &stubAdapter{}
	applier := &stubApplier{}
	items := testItems()
	strat := NewInstructionStrategy("resume.md", items, nil)
	ctrl, err := New(Config{
		DocumentID: "resume.md",
		Items:      items,
		Strategy:   strat,
		Adapter:    adapter,
		Applier:    applier,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return ctrl, adapter, applier
}

func newQAHarness(t *testing.T, onComplete func(int)) (*Controller, *stubAdapter, *stubApplier) {
	t.Helper()
	adapter := &stubAdapter{}
	applier := &stubApplier{}
	ctrl, err := New(Config{
		DocumentID: "resume.md",
		Items:      testItems(),
		Strategy:   NewQAStrategy("resume.md"),
		Adapter:    adapter,
		Applier:    applier,
		OnComplete: onComplete,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return ctrl, adapter, applier
}

// startInstructionReview drives an instruction-mode run into the review
// phase with the given batch.
func startInstructionReview(t *testing.T, ctrl *Controller, adapter *stubAdapter, batch revision.Batch, ids ...string) {
	t.Helper()
	if _, err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, id := range ids {
		if err := ctrl.ToggleItemSelection(id); err != nil {
			t.Fatalf("toggle %s: %v", id, err)
		}
	}
	if err := ctrl.ContinueSelection(); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if err := ctrl.SetInstruction("make every bullet quantify its impact"); err != nil {
		t.Fatalf("set instruction: %v", err)
	}
	adapter.batch = batch
	call, err := ctrl.SubmitContext()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	resolve(t, ctrl, call)
}

func TestQAWorkflowEndToEnd(t *testing.T) {
	completed := -1
	ctrl, adapter, applier := newQAHarness(t, func(n int) { completed = n })
	adapter.analysis = revision.Analysis{
		WeakItems: []revision.WeakItem{{ItemID: "experience-1", Reason: "no metrics"}},
		Questions: []revision.Question{{ID: "q1", ItemID: "experience-1", Prompt: "What was the impact?"}},
	}

	call, err := ctrl.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if ctrl.Phase() != PhaseAnalyzing {
		t.Fatalf("phase = %s, want analyzing", ctrl.Phase())
	}
	resolve(t, ctrl, call)
	if ctrl.Phase() != PhaseQuestions {
		t.Fatalf("phase = %s, want questions", ctrl.Phase())
	}

	if ctrl.CanSubmitContext() {
		t.Fatal("submit should be gated until every question is answered")
	}
	if err := ctrl.SetAnswer("q1", "cut deploy time by 40%"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if !ctrl.CanSubmitContext() {
		t.Fatal("submit should be allowed once all questions are answered")
	}

	adapter.batch = revision.Batch{Patches: []revision.Patch{proposedPatch("experience-1", "Cut deploy time by 40%")}}
	call, err = ctrl.SubmitContext()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ctrl.Phase() != PhaseGenerating {
		t.Fatalf("phase = %s, want generating", ctrl.Phase())
	}
	resolve(t, ctrl, call)
	if ctrl.Phase() != PhaseReview {
		t.Fatalf("phase = %s, want review", ctrl.Phase())
	}
	if got := adapter.lastRequest; got.Mode != revision.ModeEnrich || len(got.Entries) != 1 {
		t.Fatalf("unexpected generation request: %+v", got)
	}
	if got := adapter.lastRequest.Entries[0]; got.Question != "What was the impact?" || got.Answer != "cut deploy time by 40%" {
		t.Fatalf("entry missing Q&A context: %+v", got)
	}

	reviews := ctrl.Reviews()
	if review := reviews["experience-1"]; review.Status != revision.StatusApproved {
		t.Fatalf("new patch review = %+v, want approved default", review)
	}
	patches := ctrl.Patches()
	if len(patches) != 1 || patches[0].OriginalContent[0] != "did things" {
		t.Fatalf("patch original content not snapshotted from item: %+v", patches)
	}

	call, err = ctrl.Apply()
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	resolve(t, ctrl, call)
	if ctrl.Phase() != PhaseComplete {
		t.Fatalf("phase = %s, want complete", ctrl.Phase())
	}
	if len(applier.applied) != 1 || applier.applied[0].ItemID != "experience-1" {
		t.Fatalf("applier received %+v", applier.applied)
	}
	if completed != 1 {
		t.Fatalf("on_complete reported %d, want 1", completed)
	}
	if ctrl.AppliedCount() != 1 {
		t.Fatalf("applied count = %d, want 1", ctrl.AppliedCount())
	}
}

func TestPartialSuccessEntersReviewWithErrors(t *testing.T) {
	ctrl, adapter, _ := newInstructionHarness(t)
	batch := revision.Batch{
		Patches: []revision.Patch{
			proposedPatch("experience-1", "Led migration, saving $200k/yr"),
			proposedPatch("experience-2", "Shipped billing revamp"),
		},
		Errors: []revision.PatchError{{ItemID: "project-1", Message: "model declined"}},
	}
	startInstructionReview(t, ctrl, adapter, batch, "experience-1", "experience-2", "project-1")

	if ctrl.Phase() != PhaseReview {
		t.Fatalf("phase = %s, want review", ctrl.Phase())
	}
	if len(ctrl.Patches()) != 2 {
		t.Fatalf("patches = %d, want 2", len(ctrl.Patches()))
	}
	if errs := ctrl.ItemErrors(); len(errs) != 1 || errs[0].ItemID != "project-1" {
		t.Fatalf("item errors = %+v", errs)
	}
	counts := ctrl.Counts()
	if counts.Approved != 2 || counts.RejectedWithComment != 0 {
		t.Fatalf("counts = %+v", counts)
	}
	if !ctrl.CanApply() || ctrl.CanRefine() {
		t.Fatalf("gating wrong: canApply=%v canRefine=%v", ctrl.CanApply(), ctrl.CanRefine())
	}
}

func TestAllItemsFailedRoutesToError(t *testing.T) {
	ctrl, adapter, _ := newInstructionHarness(t)
	batch := revision.Batch{Errors: []revision.PatchError{
		{ItemID: "experience-1", Message: "timeout"},
		{ItemID: "experience-2", Message: "timeout"},
	}}
	startInstructionReview(t, ctrl, adapter, batch, "experience-1", "experience-2")

	if ctrl.Phase() != PhaseError {
		t.Fatalf("phase = %s, want error", ctrl.Phase())
	}
	if !strings.Contains(ctrl.FailureMessage(), "all 2 items") {
		t.Fatalf("failure message %q should name the all-items case", ctrl.FailureMessage())
	}
	// Back returns to the instruction phase with everything intact.
	if _, err := ctrl.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if ctrl.Phase() != PhaseInstructing {
		t.Fatalf("phase = %s, want instructing", ctrl.Phase())
	}
	strat, _ := ctrl.Instruction()
	if strat.SelectedCount() != 2 || strat.Instruction() == "" {
		t.Fatal("instruction state was not preserved across the failure")
	}
}

func TestEmptyGenerationBatchRoutesToError(t *testing.T) {
	ctrl, adapter, _ := newInstructionHarness(t)
	startInstructionReview(t, ctrl, adapter, revision.Batch{}, "experience-1")

	if ctrl.Phase() != PhaseError {
		t.Fatalf("phase = %s, want error", ctrl.Phase())
	}
	if !strings.Contains(ctrl.FailureMessage(), "no patches") {
		t.Fatalf("failure message %q should name the empty-batch case", ctrl.FailureMessage())
	}
	if len(ctrl.Patches()) != 0 {
		t.Fatalf("empty batch produced patches: %+v", ctrl.Patches())
	}
	// Back returns to the instruction phase, same as the all-errors case.
	if _, err := ctrl.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if ctrl.Phase() != PhaseInstructing {
		t.Fatalf("phase = %s, want instructing", ctrl.Phase())
	}
}

func TestRefineRejectedTargetsOnlyCommentedPatches(t *testing.T) {
	ctrl, adapter, _ := newInstructionHarness(t)
	batch := revision.Batch{Patches: []revision.Patch{
		proposedPatch("experience-1", "Led migration"),
		proposedPatch("experience-2", "Shipped billing revamp"),
	}}
	startInstructionReview(t, ctrl, adapter, batch, "experience-1", "experience-2")

	if err := ctrl.SetPatchStatus("experience-2", revision.StatusRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := ctrl.SetPatchComment("experience-2", "add metrics"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if !ctrl.CanRefine() || !ctrl.CanApply() {
		t.Fatalf("gating wrong: canRefine=%v canApply=%v", ctrl.CanRefine(), ctrl.CanApply())
	}
	before := ctrl.Patches()

	adapter.batch = revision.Batch{Patches: []revision.Patch{
		proposedPatch("experience-2", "Shipped billing revamp processing $3M/mo"),
	}}
	call, err := ctrl.RefineRejected()
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	resolve(t, ctrl, call)

	req := adapter.lastRequest
	if !req.Refinement {
		t.Fatal("refinement flag not set on request")
	}
	if targets := req.Targets(); len(targets) != 1 || targets[0] != "experience-2" {
		t.Fatalf("refinement targets = %v, want only experience-2", targets)
	}
	entry := req.Entries[0]
	if entry.ReviewComment != "add metrics" || len(entry.PriorPatch) == 0 {
		t.Fatalf("refinement entry missing prior patch or comment: %+v", entry)
	}

	after := ctrl.Patches()
	if !reflect.DeepEqual(before[0], after[0]) {
		t.Fatalf("approved patch changed across refinement: %+v vs %+v", before[0], after[0])
	}
	if after[1].ProposedContent[0] != "Shipped billing revamp processing $3M/mo" {
		t.Fatalf("rejected patch not replaced: %+v", after[1])
	}
	if !reflect.DeepEqual(after[1].OriginalContent, before[1].OriginalContent) {
		t.Fatal("refinement changed original content")
	}
	reviews := ctrl.Reviews()
	if reviews["experience-1"].Status != revision.StatusApproved {
		t.Fatal("untouched review changed")
	}
	if review := reviews["experience-2"]; review.Status != revision.StatusApproved || review.Comment != "" {
		t.Fatalf("refined review not reset: %+v", review)
	}
}

func TestRefineFailurePreservesReviewState(t *testing.T) {
	ctrl, adapter, _ := newInstructionHarness(t)
	batch := revision.Batch{Patches: []revision.Patch{
		proposedPatch("experience-1", "Led migration"),
		proposedPatch("experience-2", "Shipped billing revamp"),
	}}
	startInstructionReview(t, ctrl, adapter, batch, "experience-1", "experience-2")
	if err := ctrl.SetPatchStatus("experience-2", revision.StatusRejected); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.SetPatchComment("experience-2", "add metrics"); err != nil {
		t.Fatal(err)
	}
	beforePatches := ctrl.Patches()
	beforeReviews := ctrl.Reviews()

	adapter.generateErr = errors.New("network down")
	call, err := ctrl.RefineRejected()
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	resolve(t, ctrl, call)
	if ctrl.Phase() != PhaseError {
		t.Fatalf("phase = %s, want error", ctrl.Phase())
	}
	if _, err := ctrl.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if ctrl.Phase() != PhaseReview {
		t.Fatalf("phase = %s, want review", ctrl.Phase())
	}
	if !reflect.DeepEqual(beforePatches, ctrl.Patches()) {
		t.Fatal("patch list changed across failed refinement")
	}
	if !reflect.DeepEqual(beforeReviews, ctrl.Reviews()) {
		t.Fatal("review map changed across failed refinement")
	}
}

func TestInstructionLengthBoundBlocksSubmission(t *testing.T) {
	ctrl, adapter, _ := newInstructionHarness(t)
	if _, err := ctrl.Start(); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.ToggleItemSelection("experience-1"); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.ContinueSelection(); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.SetInstruction(strings.Repeat("x", InstructionLimit+1)); err != nil {
		t.Fatal(err)
	}
	strat, _ := ctrl.Instruction()
	if got := strat.InstructionRemaining(); got != -1 {
		t.Fatalf("remaining = %d, want -1", got)
	}
	if ctrl.CanSubmitContext() {
		t.Fatal("overlong instruction must block submission")
	}
	if _, err := ctrl.SubmitContext(); err == nil {
		t.Fatal("submit accepted an overlong instruction")
	}
	if adapter.generateCalls != 0 {
		t.Fatalf("adapter was called %d times, want 0", adapter.generateCalls)
	}
}

func TestApplyFailureReturnsToReview(t *testing.T) {
	ctrl, adapter, applier := newInstructionHarness(t)
	startInstructionReview(t, ctrl, adapter, revision.Batch{Patches: []revision.Patch{
		proposedPatch("experience-1", "Led migration"),
	}}, "experience-1")

	applier.applyErr = errors.New("disk full")
	call, err := ctrl.Apply()
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	resolve(t, ctrl, call)
	if ctrl.Phase() != PhaseError {
		t.Fatalf("phase = %s, want error", ctrl.Phase())
	}
	if _, err := ctrl.Back(); err != nil {
		t.Fatal(err)
	}
	if ctrl.Phase() != PhaseReview {
		t.Fatalf("phase = %s, want review so the user can retry", ctrl.Phase())
	}
	if len(ctrl.Patches()) != 1 {
		t.Fatal("patches lost across failed apply")
	}
}

func TestStaleOutcomeIsDiscardedAfterReset(t *testing.T) {
	ctrl, adapter, _ := newInstructionHarness(t)
	if _, err := ctrl.Start(); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.ToggleItemSelection("experience-1"); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.ContinueSelection(); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.SetInstruction("tighten wording"); err != nil {
		t.Fatal(err)
	}
	adapter.batch = revision.Batch{Patches: []revision.Patch{proposedPatch("experience-1", "Tightened")}}
	call, err := ctrl.SubmitContext()
	if err != nil {
		t.Fatal(err)
	}
	outcome := call.Run(context.Background())

	ctrl.Reset()
	if ctrl.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want idle", ctrl.Phase())
	}
	ctrl.Resolve(outcome)
	if ctrl.Phase() != PhaseIdle {
		t.Fatalf("stale outcome advanced the machine to %s", ctrl.Phase())
	}
	if len(ctrl.Patches()) != 0 {
		t.Fatal("stale outcome merged patches into a dead run")
	}
}

func TestBackDuringGenerationCancels(t *testing.T) {
	ctrl, adapter, _ := newInstructionHarness(t)
	if _, err := ctrl.Start(); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.ToggleItemSelection("experience-1"); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.ContinueSelection(); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.SetInstruction("tighten wording"); err != nil {
		t.Fatal(err)
	}
	adapter.batch = revision.Batch{Patches: []revision.Patch{proposedPatch("experience-1", "Tightened")}}
	call, err := ctrl.SubmitContext()
	if err != nil {
		t.Fatal(err)
	}
	outcome := call.Run(context.Background())

	if _, err := ctrl.Back(); err != nil {
		t.Fatal(err)
	}
	if ctrl.Phase() != PhaseInstructing {
		t.Fatalf("phase = %s, want instructing after cancel", ctrl.Phase())
	}
	ctrl.Resolve(outcome)
	if ctrl.Phase() != PhaseInstructing {
		t.Fatalf("cancelled outcome advanced the machine to %s", ctrl.Phase())
	}
}

func TestAnalysisFailureBackRetriesAnalysis(t *testing.T) {
	ctrl, adapter, _ := newQAHarness(t, nil)
	adapter.analysisErr = fmt.Errorf("upstream 500")
	call, err := ctrl.Start()
	if err != nil {
		t.Fatal(err)
	}
	resolve(t, ctrl, call)
	if ctrl.Phase() != PhaseError {
		t.Fatalf("phase = %s, want error", ctrl.Phase())
	}

	adapter.analysisErr = nil
	adapter.analysis = revision.Analysis{
		WeakItems: []revision.WeakItem{{ItemID: "project-1", Reason: "vague"}},
		Questions: []revision.Question{{ID: "q1", ItemID: "project-1", Prompt: "What did it do?"}},
	}
	retry, err := ctrl.Back()
	if err != nil {
		t.Fatal(err)
	}
	if ctrl.Phase() != PhaseAnalyzing {
		t.Fatalf("phase = %s, want analyzing on direct retry", ctrl.Phase())
	}
	resolve(t, ctrl, retry)
	if ctrl.Phase() != PhaseQuestions {
		t.Fatalf("phase = %s, want questions after retry", ctrl.Phase())
	}
	if adapter.analyzeCalls != 2 {
		t.Fatalf("analyze calls = %d, want 2", adapter.analyzeCalls)
	}
}

func TestApproveAllAndReviewGating(t *testing.T) {
	ctrl, adapter, _ := newInstructionHarness(t)
	startInstructionReview(t, ctrl, adapter, revision.Batch{Patches: []revision.Patch{
		proposedPatch("experience-1", "a"),
		proposedPatch("experience-2", "b"),
	}}, "experience-1", "experience-2")

	if err := ctrl.SetPatchStatus("experience-1", revision.StatusRejected); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.SetPatchStatus("experience-2", revision.StatusRejected); err != nil {
		t.Fatal(err)
	}
	if ctrl.CanApply() {
		t.Fatal("apply must be gated with zero approved patches")
	}
	if ctrl.CanRefine() {
		t.Fatal("refine must be gated with no comments")
	}
	if _, err := ctrl.Apply(); err == nil {
		t.Fatal("apply accepted with zero approved patches")
	}
	if _, err := ctrl.RefineRejected(); err == nil {
		t.Fatal("refine accepted with zero commented rejections")
	}
	if err := ctrl.ApproveAll(); err != nil {
		t.Fatal(err)
	}
	counts := ctrl.Counts()
	if counts.Approved != 2 || counts.RejectedWithComment != 0 {
		t.Fatalf("counts after approve-all = %+v", counts)
	}
	if !ctrl.CanApply() {
		t.Fatal("apply should be allowed after approve-all")
	}
}

func TestMutatorsRejectedWhileCallInFlight(t *testing.T) {
	ctrl, adapter, _ := newInstructionHarness(t)
	if _, err := ctrl.Start(); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.ToggleItemSelection("experience-1"); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.ContinueSelection(); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.SetInstruction("tighten"); err != nil {
		t.Fatal(err)
	}
	adapter.batch = revision.Batch{Patches: []revision.Patch{proposedPatch("experience-1", "x")}}
	if _, err := ctrl.SubmitContext(); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.SetInstruction("changed mid-flight"); err == nil {
		t.Fatal("instruction edit accepted while generating")
	}
	if err := ctrl.SetPatchStatus("experience-1", revision.StatusRejected); err == nil {
		t.Fatal("review mutation accepted while generating")
	}
}
