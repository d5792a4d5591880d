package revision

import "context"

// Mode identifies which context-gathering strategy produced a request.
type Mode string

const (
	// ModeEnrich gathers clarifying answers for weak items (Q&A strategy).
	ModeEnrich Mode = "enrich"
	// ModeRegenerate rewrites selected items under one instruction.
	ModeRegenerate Mode = "regenerate"
)

// Question is one clarifying question produced by analysis, tied to the
// item it concerns.
type Question struct {
	ID          string
	ItemID      string
	Prompt      string
	Placeholder string
}

// WeakItem is one item the analysis call flagged as needing enrichment.
type WeakItem struct {
	ItemID string
	Reason string
}

// Analysis is the result of the Q&A strategy's first step.
type Analysis struct {
	WeakItems []WeakItem
	Questions []Question
	Summary   string
}

// ContextEntry is the per-item portion of a generation request. For the
// Q&A strategy each answered question contributes one entry; for the
// instruction strategy each selected item contributes one entry. During
// refinement an entry additionally carries the prior patch content and the
// user's review comment.
type ContextEntry struct {
	ItemID         string
	WeaknessReason string
	Question       string
	Answer         string
	PriorPatch     []string
	ReviewComment  string
}

// Context is the assembled input for one generation batch.
type Context struct {
	Mode        Mode
	DocumentID  string
	Entries     []ContextEntry
	Instruction string
	// Refinement marks a re-generation restricted to rejected patches.
	Refinement bool
}

// Targets returns the distinct item IDs covered by the context, in entry
// order.
func (c Context) Targets() []string {
	seen := make(map[string]struct{}, len(c.Entries))
	out := make([]string, 0, len(c.Entries))
	for _, entry := range c.Entries {
		if _, ok := seen[entry.ItemID]; ok {
			continue
		}
		seen[entry.ItemID] = struct{}{}
		out = append(out, entry.ItemID)
	}
	return out
}

// Batch is the two-list result of a generation call. A batch may be a
// partial success: some items produced a patch, others failed independently
// and are reported as PatchError values.
type Batch struct {
	Patches []Patch
	Errors  []PatchError
}

// Adapter is the asynchronous generation boundary. Analyze serves the Q&A
// strategy's first step; Generate serves both initial generation and
// refinement, distinguished only by the shape of the context.
type Adapter interface {
	Analyze(ctx context.Context, documentID string, items []Item) (Analysis, error)
	Generate(ctx context.Context, req Context, items []Item) (Batch, error)
}

// Applier persists approved patches to the host document and reports how
// many were applied.
type Applier interface {
	Apply(ctx context.Context, documentID string, approved []Patch) (int, error)
}
