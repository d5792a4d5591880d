package engine

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/quillhq/retouch/internal/revision"
)

// InstructionLimit bounds the free-text instruction length in runes.
// Exceeding it blocks submission; nothing is silently truncated.
const InstructionLimit = 2000

// Strategy turns user-supplied material into a generation request. The
// controller drives whichever strategy it was opened with; the two
// implementations below are the Q&A ("enrich") and instruction
// ("regenerate") front-ends to the same engine.
type Strategy interface {
	Mode() revision.Mode
	// NeedsAnalysis reports whether the strategy's first step is an
	// asynchronous analysis call. When false the controller starts directly
	// in the interactive selection phase.
	NeedsAnalysis() bool
	// AbsorbAnalysis stores the analysis result. Only meaningful when
	// NeedsAnalysis is true.
	AbsorbAnalysis(a revision.Analysis) error
	// CanSubmit reports whether the gathered material is complete enough to
	// send to the generation adapter.
	CanSubmit() bool
	// Gather assembles the generation context for one batch.
	Gather() (revision.Context, error)
}

// QAStrategy collects one free-text answer per clarifying question produced
// by the analysis step.
type QAStrategy struct {
	documentID string
	weakness   map[string]string
	questions  []revision.Question
	answers    map[string]string
}

// NewQAStrategy builds the enrich-mode strategy for a document.
func NewQAStrategy(documentID string) *QAStrategy {
	return &QAStrategy{
		documentID: documentID,
		weakness:   map[string]string{},
		answers:    map[string]string{},
	}
}

// Mode implements Strategy.
func (s *QAStrategy) Mode() revision.Mode { return revision.ModeEnrich }

// NeedsAnalysis implements Strategy.
func (s *QAStrategy) NeedsAnalysis() bool { return true }

// AbsorbAnalysis stores weak items and their clarifying questions. An
// analysis with no questions means there is nothing to enrich and is
// reported as an error so the controller can surface it.
func (s *QAStrategy) AbsorbAnalysis(a revision.Analysis) error {
	if len(a.Questions) == 0 {
		return fmt.Errorf("engine: analysis found no items to enrich")
	}
	weakness := make(map[string]string, len(a.WeakItems))
	for _, weak := range a.WeakItems {
		weakness[weak.ItemID] = weak.Reason
	}
	for _, q := range a.Questions {
		if q.ID == "" || q.ItemID == "" {
			return fmt.Errorf("engine: analysis returned malformed question")
		}
	}
	s.weakness = weakness
	s.questions = append([]revision.Question(nil), a.Questions...)
	s.answers = map[string]string{}
	return nil
}

// Questions returns the clarifying questions in analysis order.
func (s *QAStrategy) Questions() []revision.Question {
	return append([]revision.Question(nil), s.questions...)
}

// WeaknessReason returns the analysis reason recorded for an item.
func (s *QAStrategy) WeaknessReason(itemID string) string {
	return s.weakness[itemID]
}

// SetAnswer records the answer for one question.
func (s *QAStrategy) SetAnswer(questionID, text string) error {
	for _, q := range s.questions {
		if q.ID == questionID {
			s.answers[questionID] = text
			return nil
		}
	}
	return fmt.Errorf("engine: unknown question %s", questionID)
}

// Answer returns the currently recorded answer for a question.
func (s *QAStrategy) Answer(questionID string) string {
	return s.answers[questionID]
}

// AllAnswered reports whether every question has a non-empty trimmed
// answer. Partial answer sets are not submittable.
func (s *QAStrategy) AllAnswered() bool {
	if len(s.questions) == 0 {
		return false
	}
	for _, q := range s.questions {
		if strings.TrimSpace(s.answers[q.ID]) == "" {
			return false
		}
	}
	return true
}

// CanSubmit implements Strategy.
func (s *QAStrategy) CanSubmit() bool { return s.AllAnswered() }

// Gather assembles one context entry per answered question, grouped by item
// in question order.
func (s *QAStrategy) Gather() (revision.Context, error) {
	if !s.AllAnswered() {
		return revision.Context{}, fmt.Errorf("engine: not all questions answered")
	}
	entries := make([]revision.ContextEntry, 0, len(s.questions))
	for _, q := range s.questions {
		entries = append(entries, revision.ContextEntry{
			ItemID:         q.ItemID,
			WeaknessReason: s.weakness[q.ItemID],
			Question:       q.Prompt,
			Answer:         strings.TrimSpace(s.answers[q.ID]),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ItemID < entries[j].ItemID
	})
	return revision.Context{
		Mode:       revision.ModeEnrich,
		DocumentID: s.documentID,
		Entries:    entries,
	}, nil
}

// InstructionStrategy lets the user pick target items and supply one
// instruction that applies uniformly to every selected item. Per-item
// customization happens later, in the refinement loop.
type InstructionStrategy struct {
	documentID  string
	items       []revision.Item
	selectable  map[string]bool
	selected    map[string]struct{}
	instruction string
}

// NewInstructionStrategy builds the regenerate-mode strategy. The
// selectable predicate lets the host pre-filter which items are eligible;
// nil means every item is.
func NewInstructionStrategy(documentID string, items []revision.Item, selectable func(revision.Item) bool) *InstructionStrategy {
	eligible := make(map[string]bool, len(items))
	for _, item := range items {
		eligible[item.ID] = selectable == nil || selectable(item)
	}
	return &InstructionStrategy{
		documentID: documentID,
		items:      append([]revision.Item(nil), items...),
		selectable: eligible,
		selected:   map[string]struct{}{},
	}
}

// Mode implements Strategy.
func (s *InstructionStrategy) Mode() revision.Mode { return revision.ModeRegenerate }

// NeedsAnalysis implements Strategy.
func (s *InstructionStrategy) NeedsAnalysis() bool { return false }

// AbsorbAnalysis implements Strategy; the instruction path has no analysis
// step.
func (s *InstructionStrategy) AbsorbAnalysis(revision.Analysis) error {
	return fmt.Errorf("engine: instruction strategy has no analysis step")
}

// Selectable reports whether the host allows an item to be targeted.
func (s *InstructionStrategy) Selectable(itemID string) bool {
	return s.selectable[itemID]
}

// Selected reports whether an item is currently targeted.
func (s *InstructionStrategy) Selected(itemID string) bool {
	_, ok := s.selected[itemID]
	return ok
}

// SelectedCount returns the size of the selection set.
func (s *InstructionStrategy) SelectedCount() int { return len(s.selected) }

// Toggle flips one item's membership in the selection set.
func (s *InstructionStrategy) Toggle(itemID string) error {
	eligible, known := s.selectable[itemID]
	if !known {
		return fmt.Errorf("engine: unknown item %s", itemID)
	}
	if !eligible {
		return fmt.Errorf("engine: item %s is not selectable", itemID)
	}
	if _, ok := s.selected[itemID]; ok {
		delete(s.selected, itemID)
	} else {
		s.selected[itemID] = struct{}{}
	}
	return nil
}

// SelectAll selects every eligible item.
func (s *InstructionStrategy) SelectAll() {
	for id, eligible := range s.selectable {
		if eligible {
			s.selected[id] = struct{}{}
		}
	}
}

// DeselectAll empties the selection set.
func (s *InstructionStrategy) DeselectAll() {
	s.selected = map[string]struct{}{}
}

// SetInstruction stores the free-text instruction. Overlong text is kept
// so the user can edit it down; submission stays blocked until it fits.
func (s *InstructionStrategy) SetInstruction(text string) {
	s.instruction = text
}

// Instruction returns the current instruction text.
func (s *InstructionStrategy) Instruction() string { return s.instruction }

// InstructionRemaining returns how many runes remain before the limit;
// negative values mean the text is over the bound.
func (s *InstructionStrategy) InstructionRemaining() int {
	return InstructionLimit - utf8.RuneCountInString(s.instruction)
}

// CanSubmit requires at least one selected item and a non-empty
// instruction within the length bound.
func (s *InstructionStrategy) CanSubmit() bool {
	if len(s.selected) == 0 {
		return false
	}
	if strings.TrimSpace(s.instruction) == "" {
		return false
	}
	return s.InstructionRemaining() >= 0
}

// Gather assembles one context entry per selected item, in document order.
func (s *InstructionStrategy) Gather() (revision.Context, error) {
	if !s.CanSubmit() {
		return revision.Context{}, fmt.Errorf("engine: selection or instruction incomplete")
	}
	entries := make([]revision.ContextEntry, 0, len(s.selected))
	for _, item := range s.items {
		if _, ok := s.selected[item.ID]; ok {
			entries = append(entries, revision.ContextEntry{ItemID: item.ID})
		}
	}
	return revision.Context{
		Mode:        revision.ModeRegenerate,
		DocumentID:  s.documentID,
		Entries:     entries,
		Instruction: strings.TrimSpace(s.instruction),
	}, nil
}
