package generate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/quillhq/retouch/internal/revision"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultMaxParallel = 4
	defaultMaxRetries  = 2
	retryBaseDelay     = 500 * time.Millisecond
)

// Settings configures the OpenAI-backed adapter.
type Settings struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxParallel int
}

// OpenAI implements revision.Adapter against the chat-completions API.
type OpenAI struct {
	model       string
	opts        []option.RequestOption
	maxParallel int
	newID       func() string
	// complete is swapped out by tests; production uses the SDK call.
	complete func(ctx context.Context, system, user string) (string, error)
}

// NewOpenAI validates settings and builds the adapter.
func NewOpenAI(cfg Settings) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generate: openai api key missing")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	parallel := cfg.MaxParallel
	if parallel <= 0 {
		parallel = defaultMaxParallel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	adapter := &OpenAI{
		model:       model,
		opts:        opts,
		maxParallel: parallel,
		newID:       uuid.NewString,
	}
	adapter.complete = adapter.completeChat
	return adapter, nil
}

func (o *OpenAI) completeChat(ctx context.Context, system, user string) (string, error) {
	client := openai.NewClient(o.opts...)
	var content string
	backoff := retry.WithMaxRetries(defaultMaxRetries, retry.NewExponential(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(o.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		if len(resp.Choices) == 0 {
			return retry.RetryableError(fmt.Errorf("generate: empty choices"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Analyze implements revision.Adapter.
func (o *OpenAI) Analyze(ctx context.Context, documentID string, items []revision.Item) (revision.Analysis, error) {
	if len(items) == 0 {
		return revision.Analysis{}, fmt.Errorf("generate: no items to analyze")
	}
	raw, err := o.complete(ctx, analysisSystemPrompt, analysisUserPrompt(items))
	if err != nil {
		return revision.Analysis{}, fmt.Errorf("generate: analyze %s: %w", documentID, err)
	}
	return decodeAnalysis(raw, indexItems(items), o.newID)
}

// Generate implements revision.Adapter. Each target item is rewritten by
// its own completion; item failures become PatchError entries instead of
// aborting the batch. Only a context-level failure (cancellation) aborts
// the whole call.
func (o *OpenAI) Generate(ctx context.Context, req revision.Context, items []revision.Item) (revision.Batch, error) {
	index := indexItems(items)
	targets := req.Targets()
	if len(targets) == 0 {
		return revision.Batch{}, fmt.Errorf("generate: empty generation context")
	}
	entriesByItem := make(map[string][]revision.ContextEntry, len(targets))
	for _, entry := range req.Entries {
		entriesByItem[entry.ItemID] = append(entriesByItem[entry.ItemID], entry)
	}

	var mu sync.Mutex
	order := make(map[string]int, len(targets))
	var batch revision.Batch

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.maxParallel)
	for i, id := range targets {
		order[id] = i
		item, ok := index[id]
		if !ok {
			mu.Lock()
			batch.Errors = append(batch.Errors, revision.PatchError{
				ItemID:  id,
				Message: "unknown item",
			})
			mu.Unlock()
			continue
		}
		group.Go(func() error {
			patch, err := o.generateItem(groupCtx, req, item, entriesByItem[item.ID])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.Errors = append(batch.Errors, revision.PatchError{
					ItemID:   item.ID,
					ItemType: item.Type,
					Title:    item.Title,
					Subtitle: item.Subtitle,
					Message:  err.Error(),
				})
				return nil
			}
			batch.Patches = append(batch.Patches, patch)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return revision.Batch{}, err
	}
	if err := ctx.Err(); err != nil {
		return revision.Batch{}, fmt.Errorf("generate: %w", err)
	}
	sort.Slice(batch.Patches, func(i, j int) bool {
		return order[batch.Patches[i].ItemID] < order[batch.Patches[j].ItemID]
	})
	sort.Slice(batch.Errors, func(i, j int) bool {
		return order[batch.Errors[i].ItemID] < order[batch.Errors[j].ItemID]
	})
	return batch, nil
}

func (o *OpenAI) generateItem(ctx context.Context, req revision.Context, item revision.Item, entries []revision.ContextEntry) (revision.Patch, error) {
	raw, err := o.complete(ctx, generateSystemPrompt, itemUserPrompt(req, item, entries))
	if err != nil {
		return revision.Patch{}, err
	}
	return decodePatch(raw, item)
}
