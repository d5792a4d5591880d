package generate

import (
	"fmt"
	"strings"

	"github.com/quillhq/retouch/internal/revision"
)

const analysisSystemPrompt = `You are a résumé reviewer. You receive a résumé broken into
items and identify the items whose content is weak: vague bullets, missing
outcomes, no metrics, unexplained gaps. For each weak item you write one or
two short clarifying questions whose answers would let a writer strengthen
it. Respond with JSON only, using this shape:
{"summary": "...", "weak_items": [{"item_id": "...", "reason": "...",
"questions": [{"question": "...", "placeholder": "..."}]}]}
Use only item_id values that appear in the input.`

const generateSystemPrompt = `You are a résumé writer. You rewrite the bullet lines of one
résumé item. Keep every claim truthful to the source material, prefer
concrete outcomes and metrics, and keep each bullet to one line. Respond
with JSON only: {"bullets": ["..."], "summary": "one sentence describing
what changed"}`

func analysisUserPrompt(items []revision.Item) string {
	var b strings.Builder
	b.WriteString("Résumé items:\n\n")
	for _, item := range items {
		writeItem(&b, item)
	}
	return b.String()
}

func writeItem(b *strings.Builder, item revision.Item) {
	fmt.Fprintf(b, "item_id: %s\ntype: %s\ntitle: %s\n", item.ID, item.Type, item.Title)
	if item.Subtitle != "" {
		fmt.Fprintf(b, "subtitle: %s\n", item.Subtitle)
	}
	for _, line := range item.Content {
		fmt.Fprintf(b, "- %s\n", line)
	}
	b.WriteString("\n")
}

// itemUserPrompt renders one item's generation request: the current
// content, then whichever context the strategy gathered, then any
// refinement feedback.
func itemUserPrompt(req revision.Context, item revision.Item, entries []revision.ContextEntry) string {
	var b strings.Builder
	b.WriteString("Rewrite this résumé item.\n\nCurrent content:\n")
	writeItem(&b, item)
	switch req.Mode {
	case revision.ModeEnrich:
		b.WriteString("The writer answered these clarifying questions; work the answers in:\n")
		for _, entry := range entries {
			if entry.WeaknessReason != "" {
				fmt.Fprintf(&b, "Weakness: %s\n", entry.WeaknessReason)
			}
			if entry.Question != "" {
				fmt.Fprintf(&b, "Q: %s\nA: %s\n", entry.Question, entry.Answer)
			}
		}
		b.WriteString("\n")
	case revision.ModeRegenerate:
		fmt.Fprintf(&b, "Instruction from the writer:\n%s\n\n", req.Instruction)
	}
	if req.Refinement {
		for _, entry := range entries {
			if len(entry.PriorPatch) == 0 && entry.ReviewComment == "" {
				continue
			}
			b.WriteString("A previous draft was rejected. Previous draft:\n")
			for _, line := range entry.PriorPatch {
				fmt.Fprintf(&b, "- %s\n", line)
			}
			fmt.Fprintf(&b, "Reviewer comment: %s\n\n", entry.ReviewComment)
			break
		}
		b.WriteString("Produce a new draft that addresses the reviewer comment while keeping what was already good.\n")
	}
	return b.String()
}
