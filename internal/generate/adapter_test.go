package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/quillhq/retouch/internal/revision"
)

func sampleItems() []revision.Item {
	return []revision.Item{
		{ID: "experience-1", Type: revision.ItemExperience, Title: "Senior Engineer", Subtitle: "Acme", Content: []string{"did things"}},
		{ID: "experience-2", Type: revision.ItemExperience, Title: "Engineer", Subtitle: "Initech", Content: []string{"built stuff"}},
	}
}

// fakeAdapter returns an adapter whose completion calls are served by fn
// instead of the API.
func fakeAdapter(t *testing.T, fn func(system, user string) (string, error)) *OpenAI {
	t.Helper()
	adapter, err := NewOpenAI(Settings{APIKey: "test-key", MaxParallel: 2})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	seq := 0
	adapter.newID = func() string {
		seq++
		return fmt.Sprintf("q-%d", seq)
	}
	adapter.complete = func(ctx context.Context, system, user string) (string, error) {
		return fn(system, user)
	}
	return adapter
}

func TestAnalyzeDecodesQuestions(t *testing.T) {
	response := "```json\n" + `{
		"summary": "solid but vague",
		"weak_items": [
			{"item_id": "experience-1", "reason": "no metrics", "questions": [
				{"question": "What scale?", "placeholder": "e.g. 10k req/s"},
				{"question": "  ", "placeholder": "dropped"}
			]},
			{"item_id": "invented-9", "reason": "hallucinated", "questions": [
				{"question": "Should never appear"}
			]}
		]
	}` + "\n```"
	adapter := fakeAdapter(t, func(system, user string) (string, error) {
		if !strings.Contains(user, "experience-1") || !strings.Contains(user, "did things") {
			t.Fatalf("analysis prompt missing item content:\n%s", user)
		}
		return response, nil
	})

	analysis, err := adapter.Analyze(context.Background(), "resume.md", sampleItems())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.Summary != "solid but vague" {
		t.Fatalf("summary = %q", analysis.Summary)
	}
	if len(analysis.WeakItems) != 1 || analysis.WeakItems[0].ItemID != "experience-1" {
		t.Fatalf("weak items = %+v, want only the real item", analysis.WeakItems)
	}
	if len(analysis.Questions) != 1 {
		t.Fatalf("questions = %+v, want 1 (blank and hallucinated dropped)", analysis.Questions)
	}
	q := analysis.Questions[0]
	if q.ID != "q-1" || q.Prompt != "What scale?" || q.Placeholder != "e.g. 10k req/s" {
		t.Fatalf("question = %+v", q)
	}
}

func TestAnalyzeRejectsUnusableResponse(t *testing.T) {
	adapter := fakeAdapter(t, func(system, user string) (string, error) {
		return `{"summary": "fine", "weak_items": []}`, nil
	})
	if _, err := adapter.Analyze(context.Background(), "resume.md", sampleItems()); err == nil {
		t.Fatal("analysis without questions accepted")
	}

	adapter = fakeAdapter(t, func(system, user string) (string, error) {
		return "I cannot respond in JSON", nil
	})
	if _, err := adapter.Analyze(context.Background(), "resume.md", sampleItems()); err == nil {
		t.Fatal("non-JSON response accepted")
	}
}

func TestGeneratePartialFailure(t *testing.T) {
	adapter := fakeAdapter(t, func(system, user string) (string, error) {
		if strings.Contains(user, "experience-2") {
			return "", errors.New("rate limited")
		}
		return `{"bullets": ["Shipped the thing", ""], "summary": "tightened"}`, nil
	})
	req := revision.Context{
		Mode:       revision.ModeRegenerate,
		DocumentID: "resume.md",
		Entries: []revision.ContextEntry{
			{ItemID: "experience-1"},
			{ItemID: "experience-2"},
		},
		Instruction: "tighten",
	}
	batch, err := adapter.Generate(context.Background(), req, sampleItems())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Patches) != 1 {
		t.Fatalf("patches = %+v", batch.Patches)
	}
	patch := batch.Patches[0]
	if patch.ItemID != "experience-1" || len(patch.ProposedContent) != 1 {
		t.Fatalf("patch = %+v, want one bullet with blanks dropped", patch)
	}
	if patch.OriginalContent[0] != "did things" || patch.Summary != "tightened" {
		t.Fatalf("patch = %+v", patch)
	}
	if len(batch.Errors) != 1 || batch.Errors[0].ItemID != "experience-2" {
		t.Fatalf("errors = %+v", batch.Errors)
	}
	if !strings.Contains(batch.Errors[0].Message, "rate limited") {
		t.Fatalf("error message = %q", batch.Errors[0].Message)
	}
}

func TestGenerateUnknownTargetBecomesItemError(t *testing.T) {
	adapter := fakeAdapter(t, func(system, user string) (string, error) {
		return `{"bullets": ["x"], "summary": ""}`, nil
	})
	req := revision.Context{
		Mode:        revision.ModeRegenerate,
		Entries:     []revision.ContextEntry{{ItemID: "ghost-1"}},
		Instruction: "tighten",
	}
	batch, err := adapter.Generate(context.Background(), req, sampleItems())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Patches) != 0 || len(batch.Errors) != 1 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Errors[0].Message != "unknown item" {
		t.Fatalf("error = %+v", batch.Errors[0])
	}
}

func TestGenerateEmptyContextErrors(t *testing.T) {
	called := false
	adapter := fakeAdapter(t, func(system, user string) (string, error) {
		called = true
		return "", nil
	})
	if _, err := adapter.Generate(context.Background(), revision.Context{}, sampleItems()); err == nil {
		t.Fatal("empty context accepted")
	}
	if called {
		t.Fatal("completion called with empty context")
	}
}

func TestGenerateOrderFollowsTargets(t *testing.T) {
	adapter := fakeAdapter(t, func(system, user string) (string, error) {
		return `{"bullets": ["rewritten"], "summary": ""}`, nil
	})
	req := revision.Context{
		Mode: revision.ModeRegenerate,
		Entries: []revision.ContextEntry{
			{ItemID: "experience-2"},
			{ItemID: "experience-1"},
		},
		Instruction: "tighten",
	}
	batch, err := adapter.Generate(context.Background(), req, sampleItems())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Patches) != 2 {
		t.Fatalf("patches = %d", len(batch.Patches))
	}
	if batch.Patches[0].ItemID != "experience-2" || batch.Patches[1].ItemID != "experience-1" {
		t.Fatalf("order = [%s %s], want target order", batch.Patches[0].ItemID, batch.Patches[1].ItemID)
	}
}

func TestEnrichPromptCarriesAnswers(t *testing.T) {
	var captured string
	adapter := fakeAdapter(t, func(system, user string) (string, error) {
		captured = user
		return `{"bullets": ["better"], "summary": ""}`, nil
	})
	req := revision.Context{
		Mode: revision.ModeEnrich,
		Entries: []revision.ContextEntry{{
			ItemID:         "experience-1",
			WeaknessReason: "no metrics",
			Question:       "What scale?",
			Answer:         "10k req/s",
		}},
	}
	if _, err := adapter.Generate(context.Background(), req, sampleItems()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, want := range []string{"no metrics", "What scale?", "10k req/s"} {
		if !strings.Contains(captured, want) {
			t.Fatalf("prompt missing %q:\n%s", want, captured)
		}
	}
}

func TestRefinementPromptCarriesPriorDraft(t *testing.T) {
	var captured string
	adapter := fakeAdapter(t, func(system, user string) (string, error) {
		captured = user
		return `{"bullets": ["better"], "summary": ""}`, nil
	})
	req := revision.Context{
		Mode: revision.ModeRegenerate,
		Entries: []revision.ContextEntry{{
			ItemID:        "experience-1",
			PriorPatch:    []string{"Shipped the thing"},
			ReviewComment: "add metrics",
		}},
		Instruction: "tighten",
		Refinement:  true,
	}
	if _, err := adapter.Generate(context.Background(), req, sampleItems()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, want := range []string{"Shipped the thing", "add metrics", "Previous draft"} {
		if !strings.Contains(captured, want) {
			t.Fatalf("refinement prompt missing %q:\n%s", want, captured)
		}
	}
}

func TestExtractJSONFenceVariants(t *testing.T) {
	inputs := []string{
		`{"a":1}`,
		"```json\n{\"a\":1}\n```",
		"```\n{\"a\":1}\n```",
		"  ```json\n{\"a\":1}\n```  ",
	}
	for _, in := range inputs {
		if got := extractJSON(in); got != `{"a":1}` {
			t.Fatalf("extractJSON(%q) = %q", in, got)
		}
	}
}
