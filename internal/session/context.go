package session

import (
	"fmt"
	"strings"

	"github.com/agentvault/agentvaultd/pkg/types"
)

// DefaultTokenBudget is the approximate token budget (4 chars/token) for
// context-injection history.
const DefaultTokenBudget = 50_000

const charsPerToken = 4

// BuiltPrompt is the result of deciding how to continue a conversation:
// the (possibly rewritten) prompt to send, any LLM-client options, and a
// diagnostic resume-info record.
type BuiltPrompt struct {
	Prompt  string
	Options LLMOptions
	Resume  types.ResumeInfo
}

// LLMOptions carries the execution-mode-specific options passed to the
// LLM client: a resume handle, or nothing.
type LLMOptions struct {
	Resume string
}

// Build decides, for a single outgoing message, one of three execution
// modes: upstream resume, context injection, or fresh.
func Build(upstreamHandle string, history []types.Message, userMessage string, tokenBudget int) BuiltPrompt {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}

	if ValidUpstreamHandle(upstreamHandle) {
		return BuiltPrompt{
			Prompt:  userMessage,
			Options: LLMOptions{Resume: upstreamHandle},
			Resume: types.ResumeInfo{
				Method:               types.ResumeSDKResume,
				PreviousMessageCount: len(history),
			},
		}
	}

	if len(history) == 0 {
		return BuiltPrompt{
			Prompt: userMessage,
			Resume: types.ResumeInfo{
				Method: types.ResumeNew,
			},
		}
	}

	formatted, injected, omitted, tokens := formatHistory(history, tokenBudget)

	var sb strings.Builder
	sb.WriteString("## Previous Conversation\n\n")
	if omitted > 0 {
		fmt.Fprintf(&sb, "[%d earlier messages omitted for context limits]\n\n", omitted)
	}
	sb.WriteString(formatted)
	sb.WriteString("\n\n---\n\n## Current Message\n\n")
	sb.WriteString(userMessage)

	return BuiltPrompt{
		Prompt: sb.String(),
		Resume: types.ResumeInfo{
			Method:               types.ResumeContextInjection,
			MessagesInjected:     injected,
			TokenEstimate:        tokens,
			PreviousMessageCount: len(history),
		},
	}
}

// formatHistory walks messages newest-first, skipping system messages,
// accumulating until tokenBudget would be exceeded, then returns the
// result in chronological order.
func formatHistory(history []types.Message, tokenBudget int) (formatted string, injected, omitted, tokenEstimate int) {
	var kept []types.Message
	budgetUsed := 0

	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role == types.RoleSystem {
			continue
		}
		cost := len(m.Content) / charsPerToken
		if budgetUsed+cost > tokenBudget && len(kept) > 0 {
			break
		}
		kept = append(kept, m)
		budgetUsed += cost
	}

	// kept is newest-first; reverse to chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	var sb strings.Builder
	for i, m := range kept {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s: %s", capitalizeRole(m.Role), m.Content)
	}

	nonSystem := 0
	for _, m := range history {
		if m.Role != types.RoleSystem {
			nonSystem++
		}
	}
	omitted = nonSystem - len(kept)
	if omitted < 0 {
		omitted = 0
	}

	return sb.String(), len(kept), omitted, budgetUsed
}
