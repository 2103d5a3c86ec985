// Package humanhook implements the human-in-the-loop middleware grounded on
// tasking/core/middleware/human.py: a pre-hook that tells the model it may
// request human review by emitting a labeled block, and a post-hook that
// watches for that label, forwards the request to a human client, and
// folds a non-approved reply back into the run as an agent.Interfere
// outcome instead of raising an exception.
package humanhook

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Koko12137/tasking-community-sub000/pkg/agent"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

// InterferePrompt is injected by the PreAct hook to tell the model how
// to request human review.
const InterferePrompt = "If this task requires a human decision before continuing, include a <human_interfere>reason</human_interfere> block in your reply explaining what you need reviewed. Omit the block to continue normally."

// Client is the human-in-the-loop transport: something that can decide
// whether human review applies to the current run, and that can forward a
// message to a human and wait for their reply.
type Client interface {
	// IsValid reports whether human review applies to this run. A false
	// result makes both hooks a no-op, mirroring a disabled feature flag.
	IsValid(ctx context.Context, t HookTarget) bool
	// AskHuman sends msg to a human via q and blocks for their reply.
	AskHuman(ctx context.Context, q *queue.Queue[message.Message], msg message.Message) (message.Message, error)
}

// HookTarget carries the identifying information a Client needs to route a
// review request (e.g. to a specific user's inbox).
type HookTarget struct {
	TaskUID string
	AgentID string
}

// Hooks bundles the human-interfere pre/post hooks. ApprovedResponses is the
// set of human replies (after trimming and case-folding) that approve
// continuation without triggering an Interfere outcome; an empty reply
// always approves.
type Hooks struct {
	Client            Client
	ApprovedResponses map[string]struct{}
}

// PreAct returns the hook that advertises the human-interfere protocol to
// the model before it acts.
func (h Hooks) PreAct() agent.Hook {
	return agent.HookFunc(func(ctx context.Context, args agent.HookArgs) (agent.HookOutcome, error) {
		if !h.Client.IsValid(ctx, targetFor(args)) {
			return agent.Continue(), nil
		}
		msg := message.Message{Role: message.RoleUser, Content: []message.Block{message.TextBlock{Text: InterferePrompt}}}
		if err := args.Task.AppendContext(msg); err != nil {
			return agent.HookOutcome{}, fmt.Errorf("humanhook: append interfere prompt: %w", err)
		}
		return agent.Continue(), nil
	})
}

// PostThink returns the hook that inspects the model's latest reply for a
// human_interfere block, and when present asks a human and converts a
// non-approved reply into an Interfere outcome.
func (h Hooks) PostThink() agent.Hook {
	return agent.HookFunc(func(ctx context.Context, args agent.HookArgs) (agent.HookOutcome, error) {
		if !h.Client.IsValid(ctx, targetFor(args)) {
			return agent.Continue(), nil
		}

		msgs := args.Task.GetContext().Messages()
		if len(msgs) == 0 {
			return agent.Continue(), nil
		}
		last := msgs[len(msgs)-1]
		if last.Role != message.RoleAssistant {
			return agent.Continue(), nil
		}

		reason := extractByLabel(last.Text(), "human_interfere")
		if strings.TrimSpace(reason) == "" {
			return agent.Continue(), nil
		}

		ask := message.Message{Role: message.RoleAssistant, Content: []message.Block{message.TextBlock{Text: reason}}}
		reply, err := h.Client.AskHuman(ctx, args.Queue, ask)
		if err != nil {
			return agent.HookOutcome{}, fmt.Errorf("humanhook: ask human: %w", err)
		}

		text := strings.TrimSpace(reply.Text())
		if text == "" {
			return agent.Continue(), nil
		}
		if _, approved := h.ApprovedResponses[strings.ToLower(text)]; approved {
			return agent.Continue(), nil
		}
		return agent.Interfere(text), nil
	})
}

func targetFor(args agent.HookArgs) HookTarget {
	return HookTarget{TaskUID: args.Task.GetUID()}
}

// extractByLabel returns the trimmed text between the first <label ...>...
// </label> pair found for any of labels, checked in order, tolerating
// attributes on the opening tag and surrounding newlines. It returns "" when
// none of labels appear.
func extractByLabel(content string, labels ...string) string {
	for _, label := range labels {
		pattern := regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(label) + `(?:\s[^>]*)?>(.*?)</` + regexp.QuoteMeta(label) + `>`)
		if m := pattern.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
