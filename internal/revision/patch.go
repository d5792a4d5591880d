// Package revision defines the data model for AI-assisted résumé revision:
// the revisable items supplied by the host document, the patches proposed by
// the generation backend, and the per-patch review state the user drives.
// The package is pure data plus the two invariant-keeping helpers every
// state transition must route through (Reconcile and Counts).
package revision

import (
	"fmt"
	"strings"
)

// ItemType classifies a revisable unit of the résumé.
type ItemType string

const (
	ItemExperience    ItemType = "experience"
	ItemProject       ItemType = "project"
	ItemSkills        ItemType = "skills"
	ItemPublication   ItemType = "publication"
	ItemPosition      ItemType = "position"
	ItemCertification ItemType = "certification"
	ItemAchievement   ItemType = "achievement"
	ItemEducation     ItemType = "education"
)

// Item references one revisable unit of the host document. Items are
// supplied once at workflow open and are read-only to the engine.
type Item struct {
	ID       string
	Type     ItemType
	Title    string
	Subtitle string
	// Content holds the document's current rendering of the item,
	// typically one bullet line per entry.
	Content []string
}

// Patch is one proposed revision for a single item. OriginalContent is
// copied from the item at patch creation time and is never mutated; a
// refinement replaces ProposedContent and Summary only.
type Patch struct {
	ItemID          string
	ItemType        ItemType
	Title           string
	Subtitle        string
	OriginalContent []string
	ProposedContent []string
	Summary         string
}

// PatchError reports a per-item generation failure inside an otherwise
// successful batch. It never aborts the batch.
type PatchError struct {
	ItemID   string
	ItemType ItemType
	Title    string
	Subtitle string
	Message  string
}

// ReviewStatus is the binary approve/reject decision for a patch.
type ReviewStatus string

const (
	StatusApproved ReviewStatus = "approved"
	StatusRejected ReviewStatus = "rejected"
)

// PatchReview holds the user's decision and optional correction comment for
// one patch. New reviews default to approved with an empty comment: the user
// opts out of a patch, not into it.
type PatchReview struct {
	Status  ReviewStatus
	Comment string
}

// RejectedWithComment reports whether this review makes its patch a
// refinement target.
func (r PatchReview) RejectedWithComment() bool {
	return r.Status == StatusRejected && strings.TrimSpace(r.Comment) != ""
}

// ReviewCounts carries the two numbers that gate Apply and Refine.
type ReviewCounts struct {
	Approved            int
	RejectedWithComment int
}

// Reconcile returns a review map containing exactly one entry per patch:
// existing reviews survive for item IDs that still have a patch, new item
// IDs default to approved with an empty comment, and reviews whose item ID
// no longer has a patch are dropped. Every mutation of the patch list must
// pass its result through here to keep the two collections in lock-step.
func Reconcile(patches []Patch, reviews map[string]PatchReview) map[string]PatchReview {
	next := make(map[string]PatchReview, len(patches))
	for _, p := range patches {
		if prev, ok := reviews[p.ItemID]; ok {
			next[p.ItemID] = prev
			continue
		}
		next[p.ItemID] = PatchReview{Status: StatusApproved}
	}
	return next
}

// Counts derives the gating numbers from a review map.
func Counts(reviews map[string]PatchReview) ReviewCounts {
	var c ReviewCounts
	for _, r := range reviews {
		if r.Status == StatusApproved {
			c.Approved++
		}
		if r.RejectedWithComment() {
			c.RejectedWithComment++
		}
	}
	return c
}

// ValidatePatchSet checks the patch-set invariants: every patch must target
// exactly one known item, and no two patches may target the same item.
func ValidatePatchSet(patches []Patch, items map[string]Item) error {
	seen := make(map[string]struct{}, len(patches))
	for _, p := range patches {
		if p.ItemID == "" {
			return fmt.Errorf("revision: patch missing item id")
		}
		if _, ok := items[p.ItemID]; !ok {
			return fmt.Errorf("revision: patch targets unknown item %s", p.ItemID)
		}
		if _, dup := seen[p.ItemID]; dup {
			return fmt.Errorf("revision: duplicate patch for item %s", p.ItemID)
		}
		seen[p.ItemID] = struct{}{}
	}
	return nil
}

// ClonePatch returns a value copy with its own content slices.
func ClonePatch(p Patch) Patch {
	clone := p
	clone.OriginalContent = cloneStrings(p.OriginalContent)
	clone.ProposedContent = cloneStrings(p.ProposedContent)
	return clone
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
