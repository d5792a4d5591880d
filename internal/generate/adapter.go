// Package generate implements the revision.Adapter boundary against the
// OpenAI chat-completions API. Analysis is a single structured-JSON call;
// generation fans out one call per target item so that individual items can
// fail without aborting the batch.
package generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quillhq/retouch/internal/revision"
)

// analysisPayload is the JSON shape requested from the analysis call.
type analysisPayload struct {
	Summary   string `json:"summary"`
	WeakItems []struct {
		ItemID    string `json:"item_id"`
		Reason    string `json:"reason"`
		Questions []struct {
			Question    string `json:"question"`
			Placeholder string `json:"placeholder"`
		} `json:"questions"`
	} `json:"weak_items"`
}

// patchPayload is the JSON shape requested from each per-item generation
// call.
type patchPayload struct {
	Bullets []string `json:"bullets"`
	Summary string   `json:"summary"`
}

func decodeJSON[T any](raw string, out *T) error {
	trimmed := extractJSON(raw)
	if trimmed == "" {
		return fmt.Errorf("generate: empty model response")
	}
	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return fmt.Errorf("generate: parse model response: %w", err)
	}
	return nil
}

// extractJSON strips markdown code fences the model sometimes wraps around
// its JSON output.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func decodePatch(raw string, item revision.Item) (revision.Patch, error) {
	var payload patchPayload
	if err := decodeJSON(raw, &payload); err != nil {
		return revision.Patch{}, err
	}
	bullets := make([]string, 0, len(payload.Bullets))
	for _, b := range payload.Bullets {
		if line := strings.TrimSpace(b); line != "" {
			bullets = append(bullets, line)
		}
	}
	if len(bullets) == 0 {
		return revision.Patch{}, fmt.Errorf("generate: model returned no content for %s", item.ID)
	}
	return revision.Patch{
		ItemID:          item.ID,
		ItemType:        item.Type,
		Title:           item.Title,
		Subtitle:        item.Subtitle,
		OriginalContent: append([]string(nil), item.Content...),
		ProposedContent: bullets,
		Summary:         strings.TrimSpace(payload.Summary),
	}, nil
}

func decodeAnalysis(raw string, items map[string]revision.Item, newID func() string) (revision.Analysis, error) {
	var payload analysisPayload
	if err := decodeJSON(raw, &payload); err != nil {
		return revision.Analysis{}, err
	}
	analysis := revision.Analysis{Summary: strings.TrimSpace(payload.Summary)}
	for _, weak := range payload.WeakItems {
		if _, ok := items[weak.ItemID]; !ok {
			// The model occasionally invents item IDs; drop them rather
			// than poisoning the run.
			continue
		}
		analysis.WeakItems = append(analysis.WeakItems, revision.WeakItem{
			ItemID: weak.ItemID,
			Reason: strings.TrimSpace(weak.Reason),
		})
		for _, q := range weak.Questions {
			prompt := strings.TrimSpace(q.Question)
			if prompt == "" {
				continue
			}
			analysis.Questions = append(analysis.Questions, revision.Question{
				ID:          newID(),
				ItemID:      weak.ItemID,
				Prompt:      prompt,
				Placeholder: strings.TrimSpace(q.Placeholder),
			})
		}
	}
	if len(analysis.Questions) == 0 {
		return revision.Analysis{}, fmt.Errorf("generate: analysis produced no usable questions")
	}
	return analysis, nil
}

func indexItems(items []revision.Item) map[string]revision.Item {
	index := make(map[string]revision.Item, len(items))
	for _, item := range items {
		index[item.ID] = item
	}
	return index
}
