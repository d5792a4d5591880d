package engine

import (
	"fmt"

	"github.com/quillhq/retouch/internal/revision"
)

// Mutators in this file are only legal in the phase that matches them;
// everything here is synchronous and never touches the adapter.

// SetAnswer records the answer to one clarifying question.
func (c *Controller) SetAnswer(questionID, text string) error {
	if c.phase != PhaseQuestions {
		return fmt.Errorf("engine: cannot answer questions in %s", c.phase)
	}
	strat, ok := c.strategy.(*QAStrategy)
	if !ok {
		return fmt.Errorf("engine: answers require the Q&A strategy")
	}
	return strat.SetAnswer(questionID, text)
}

// ToggleItemSelection flips one item in the instruction strategy's
// selection set.
func (c *Controller) ToggleItemSelection(itemID string) error {
	strat, err := c.instructionStrategy()
	if err != nil {
		return err
	}
	return strat.Toggle(itemID)
}

// SelectAllItems selects every eligible item.
func (c *Controller) SelectAllItems() error {
	strat, err := c.instructionStrategy()
	if err != nil {
		return err
	}
	strat.SelectAll()
	return nil
}

// DeselectAllItems clears the selection set.
func (c *Controller) DeselectAllItems() error {
	strat, err := c.instructionStrategy()
	if err != nil {
		return err
	}
	strat.DeselectAll()
	return nil
}

// SetInstruction stores the free-text instruction.
func (c *Controller) SetInstruction(text string) error {
	strat, err := c.instructionStrategy()
	if err != nil {
		return err
	}
	strat.SetInstruction(text)
	return nil
}

func (c *Controller) instructionStrategy() (*InstructionStrategy, error) {
	if c.phase != PhaseSelecting && c.phase != PhaseInstructing {
		return nil, fmt.Errorf("engine: cannot edit selection in %s", c.phase)
	}
	strat, ok := c.strategy.(*InstructionStrategy)
	if !ok {
		return nil, fmt.Errorf("engine: selection requires the instruction strategy")
	}
	return strat, nil
}

// SetPatchStatus records the approve/reject decision for one patch.
func (c *Controller) SetPatchStatus(itemID string, status revision.ReviewStatus) error {
	review, err := c.reviewFor(itemID)
	if err != nil {
		return err
	}
	if status != revision.StatusApproved && status != revision.StatusRejected {
		return fmt.Errorf("engine: invalid review status %q", status)
	}
	review.Status = status
	c.reviews[itemID] = review
	return nil
}

// SetPatchComment records the correction comment for one patch.
func (c *Controller) SetPatchComment(itemID, text string) error {
	review, err := c.reviewFor(itemID)
	if err != nil {
		return err
	}
	review.Comment = text
	c.reviews[itemID] = review
	return nil
}

// ApproveAll marks every patch approved. Comments are kept.
func (c *Controller) ApproveAll() error {
	if c.phase != PhaseReview {
		return fmt.Errorf("engine: cannot review in %s", c.phase)
	}
	for id, review := range c.reviews {
		review.Status = revision.StatusApproved
		c.reviews[id] = review
	}
	return nil
}

func (c *Controller) reviewFor(itemID string) (revision.PatchReview, error) {
	if c.phase != PhaseReview {
		return revision.PatchReview{}, fmt.Errorf("engine: cannot review in %s", c.phase)
	}
	review, ok := c.reviews[itemID]
	if !ok {
		return revision.PatchReview{}, fmt.Errorf("engine: no patch for item %s", itemID)
	}
	return review, nil
}

// Observers. All return copies; the controller's internal state is never
// shared.

// Phase returns the current workflow phase.
func (c *Controller) Phase() Phase { return c.phase }

// RunID returns the identity of the active run, empty when idle.
func (c *Controller) RunID() string { return c.runID }

// Mode returns the active strategy's mode.
func (c *Controller) Mode() revision.Mode { return c.strategy.Mode() }

// Items returns the read-only item set supplied at open.
func (c *Controller) Items() []revision.Item {
	return append([]revision.Item(nil), c.items...)
}

// Item looks up one item by ID.
func (c *Controller) Item(id string) (revision.Item, bool) {
	item, ok := c.itemIndex[id]
	return item, ok
}

// Patches returns the current patch list.
func (c *Controller) Patches() []revision.Patch {
	out := make([]revision.Patch, len(c.patches))
	for i, p := range c.patches {
		out[i] = revision.ClonePatch(p)
	}
	return out
}

// Reviews returns the current review map.
func (c *Controller) Reviews() map[string]revision.PatchReview {
	out := make(map[string]revision.PatchReview, len(c.reviews))
	for id, review := range c.reviews {
		out[id] = review
	}
	return out
}

// ItemErrors returns the per-item failures from the latest generation or
// refinement call. They never block review or apply.
func (c *Controller) ItemErrors() []revision.PatchError {
	return append([]revision.PatchError(nil), c.itemErrors...)
}

// FailureMessage returns the message held by the error phase.
func (c *Controller) FailureMessage() string { return c.failure }

// AppliedCount returns the number of patches applied by a completed run.
func (c *Controller) AppliedCount() int { return c.appliedCount }

// Counts derives the review totals that gate apply and refine.
func (c *Controller) Counts() revision.ReviewCounts {
	return revision.Counts(c.reviews)
}

// CanSubmitContext reports whether the gathered context is submittable
// right now.
func (c *Controller) CanSubmitContext() bool {
	if c.phase != PhaseQuestions && c.phase != PhaseInstructing {
		return false
	}
	return c.strategy.CanSubmit()
}

// CanRefine reports whether at least one patch is rejected with a comment.
func (c *Controller) CanRefine() bool {
	return c.phase == PhaseReview && c.Counts().RejectedWithComment > 0
}

// CanApply reports whether at least one patch is approved.
func (c *Controller) CanApply() bool {
	return c.phase == PhaseReview && c.Counts().Approved > 0
}

// QA returns the Q&A strategy when the run uses it.
func (c *Controller) QA() (*QAStrategy, bool) {
	strat, ok := c.strategy.(*QAStrategy)
	return strat, ok
}

// Instruction returns the instruction strategy when the run uses it.
func (c *Controller) Instruction() (*InstructionStrategy, bool) {
	strat, ok := c.strategy.(*InstructionStrategy)
	return strat, ok
}
