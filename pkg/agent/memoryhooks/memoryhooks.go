// Package memoryhooks implements pre_run_once/post_run_once hooks that
// recall and record episodic memory around a task run, grounded on
// tasking/hook/memory/episode.py: before a run, relevant past episodes are
// retrieved by similarity search and folded into the task's context; after
// a run, the transcript is compressed by a model call and stored as a new
// episode.
package memoryhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/Koko12137/tasking-community-sub000/pkg/agent"
	"github.com/Koko12137/tasking-community-sub000/pkg/memory"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
)

// DefaultTopK bounds how many past episodes pre_run_once retrieves when a
// Hooks value does not override it.
const DefaultTopK = 5

const episodeTemplate = "<episode>\n<order>%d</order>\n<memory_id>%s</memory_id>\n<timestamp>%s</timestamp>\n<content>%s</content>\n</episode>"

// CompressPrompt is appended as a final USER turn before the post-run
// compression call, asking the model to summarize the run.
const CompressPrompt = "Summarize the preceding conversation as a single concise paragraph capturing what was attempted and the outcome, for storage as episodic memory."

// Hooks bundles the episodic-memory pre/post hooks. Store answers
// similarity search and persists new episodes; LLM both embeds the search
// query and compresses the transcript into a storable summary.
type Hooks struct {
	Store memory.VectorStore
	LLM   model.Client

	// AgentType scopes both search and storage to one agent kind, so a
	// single store can serve multiple agent roles without cross-talk.
	AgentType string
	// TopK bounds how many episodes pre_run_once retrieves. Defaults to
	// DefaultTopK when zero.
	TopK int
	// EmbedDimensions is forwarded to LLM.Embed. Zero means the
	// provider's default dimensionality.
	EmbedDimensions int
}

// PreRunOnce returns an agent.Hook that retrieves episodes similar to the
// task's current context plus input, and appends one context message per
// result summarizing it.
func (h Hooks) PreRunOnce() agent.Hook {
	return agent.HookFunc(func(ctx context.Context, args agent.HookArgs) (agent.HookOutcome, error) {
		role := message.RoleUser
		existing := args.Task.GetContext().Messages()
		if len(existing) == 0 || existing[len(existing)-1].Role == message.RoleSystem {
			role = message.RoleSystem
		}

		queryText := collectText(existing) + "\n" + message.Message{Content: args.Task.GetInput()}.Text()
		queryVec, err := h.LLM.Embed(ctx, []message.Block{message.TextBlock{Text: queryText}}, h.EmbedDimensions)
		if err != nil {
			return agent.HookOutcome{}, fmt.Errorf("memoryhooks: embed query: %w", err)
		}

		topK := h.TopK
		if topK == 0 {
			topK = DefaultTopK
		}
		results, err := h.Store.Search(ctx, memory.VectorSearchOptions{
			Query:     queryVec,
			AgentType: h.AgentType,
			Limit:     topK,
		})
		if err != nil {
			return agent.HookOutcome{}, fmt.Errorf("memoryhooks: search: %w", err)
		}

		for i, scored := range results {
			summary := fmt.Sprintf(episodeTemplate, i, scored.Episode.ID, scored.Episode.CreatedAt.Format(time.RFC3339), scored.Episode.Summary)
			msg := message.Message{Role: role, Content: []message.Block{message.TextBlock{Text: summary}}}
			if err := args.Task.AppendContext(msg); err != nil {
				return agent.HookOutcome{}, fmt.Errorf("memoryhooks: append recalled episode: %w", err)
			}
		}
		return agent.Continue(), nil
	})
}

// PostRunOnce returns an agent.Hook that compresses the task's transcript
// via one extra completion call and stores the result as a new episode.
func (h Hooks) PostRunOnce() agent.Hook {
	return agent.HookFunc(func(ctx context.Context, args agent.HookArgs) (agent.HookOutcome, error) {
		messages := args.Task.GetContext().Messages()
		if len(messages) == 0 {
			return agent.Continue(), nil
		}

		compressReq := model.Request{
			Messages:         appendCompressPrompt(messages),
			CompletionConfig: message.NewCompletionConfig(),
		}
		compressed, err := h.LLM.Complete(ctx, compressReq)
		if err != nil {
			return agent.HookOutcome{}, fmt.Errorf("memoryhooks: compress: %w", err)
		}
		summary := compressed.Text()
		if summary == "" {
			return agent.HookOutcome{}, fmt.Errorf("memoryhooks: compressed summary must contain text")
		}

		embedding, err := h.LLM.Embed(ctx, []message.Block{message.TextBlock{Text: summary}}, h.EmbedDimensions)
		if err != nil {
			return agent.HookOutcome{}, fmt.Errorf("memoryhooks: embed summary: %w", err)
		}

		episode := memory.Episode{
			ID:        args.Task.GetUID(),
			AgentType: h.AgentType,
			Input:     message.Message{Content: args.Task.GetInput()}.Text(),
			Outcome:   message.Message{Content: args.Task.GetOutput()}.Text(),
			Summary:   summary,
		}
		if _, err := h.Store.UpsertEpisode(ctx, episode, embedding); err != nil {
			return agent.HookOutcome{}, fmt.Errorf("memoryhooks: upsert episode: %w", err)
		}
		return agent.Continue(), nil
	})
}

func collectText(messages []message.Message) string {
	var out string
	for _, m := range messages {
		out += m.Text()
	}
	return out
}

func appendCompressPrompt(messages []message.Message) []message.Message {
	out := make([]message.Message, len(messages), len(messages)+1)
	copy(out, messages)
	return append(out, message.Message{
		Role:    message.RoleUser,
		Content: []message.Block{message.TextBlock{Text: CompressPrompt}},
	})
}
