package orchestrator

import (
	"fmt"
	"strings"

	"github.com/agentvault/agentvaultd/internal/logging"
	"github.com/agentvault/agentvaultd/internal/session"
	"github.com/agentvault/agentvaultd/pkg/types"
)

// preparedExecution is the variant-resolved plan for one execution: the
// prompt and system prompt to send, the session bookkeeping needed
// afterward (if any), and diagnostic resume info for the final result.
type preparedExecution struct {
	sessionID            string
	sessionKey           string // lock key, empty for standalone/document-bound
	sessionKeyForPersist string // key to append the assistant reply under, empty if no session
	systemPrompt         string
	prompt               string
	resume               types.ResumeInfo
	options              session.LLMOptions
	messageCount         int
}

// prepare builds the variant-specific execution context: chatbot agents
// carry conversational history through the session store, document-bound
// agents prepend the target document as one-shot context, standalone
// agents carry neither.
func (o *Orchestrator) prepare(a *types.Agent, ec types.ExecutionContext) (preparedExecution, error) {
	systemPrompt := o.buildSystemPrompt(a)

	switch a.Variant {
	case types.VariantChatbot:
		return o.prepareChatbot(a, ec, systemPrompt)
	case types.VariantDocumentBound:
		return o.prepareDocumentBound(a, ec, systemPrompt)
	default:
		return preparedExecution{
			sessionID:    newEphemeralID(),
			systemPrompt: systemPrompt,
			prompt:       ec.Message,
			resume:       types.ResumeInfo{Method: types.ResumeNew},
			messageCount: 1,
		}, nil
	}
}

func (o *Orchestrator) prepareChatbot(a *types.Agent, ec types.ExecutionContext, systemPrompt string) (preparedExecution, error) {
	key := session.MakeKey(a.Path, ec.SessionID)
	sess, _, err := o.sessions.GetOrCreate(a.Path, a.Name, key)
	if err != nil {
		return preparedExecution{}, fmt.Errorf("orchestrator: session: %w", err)
	}

	built := session.Build(sess.UpstreamHandle, sess.Messages, ec.Message, session.DefaultTokenBudget)

	if err := o.sessions.AddMessage(key, types.RoleUser, ec.Message); err != nil {
		logging.Warn().Err(err).Str("session", key).Msg("orchestrator: persist user message failed")
	}

	return preparedExecution{
		sessionID:            sess.ID,
		sessionKey:           key,
		sessionKeyForPersist: key,
		systemPrompt:         systemPrompt,
		prompt:               built.Prompt,
		resume:               built.Resume,
		options:              built.Options,
		messageCount:         len(sess.Messages) + 1,
	}, nil
}

func (o *Orchestrator) prepareDocumentBound(a *types.Agent, ec types.ExecutionContext, systemPrompt string) (preparedExecution, error) {
	if ec.DocumentPath == "" {
		return preparedExecution{}, fmt.Errorf("orchestrator: %s is document-bound but no documentPath was given", a.Path)
	}
	doc, err := o.vault.Read(ec.DocumentPath)
	if err != nil {
		return preparedExecution{}, fmt.Errorf("orchestrator: read document %s: %w", ec.DocumentPath, err)
	}

	message := ec.Message
	if message == "" {
		message = "Review the document and act per your instructions."
	}

	var sb strings.Builder
	sb.WriteString("## Document: ")
	sb.WriteString(ec.DocumentPath)
	sb.WriteString("\n\n")
	sb.WriteString(doc.Body)
	sb.WriteString("\n\n---\n\n")
	sb.WriteString(message)

	return preparedExecution{
		sessionID:    newEphemeralID(),
		systemPrompt: systemPrompt,
		prompt:       sb.String(),
		resume:       types.ResumeInfo{Method: types.ResumeNew},
		messageCount: 1,
	}, nil
}

// buildSystemPrompt combines an agent's inlined system prompt with the
// body of its context-reference document, if it names one, capped at
// DefaultTokenBudget so a large context file can't starve the message
// budget.
func (o *Orchestrator) buildSystemPrompt(a *types.Agent) string {
	if a.ContextRef == "" {
		return a.SystemPrompt
	}
	doc, err := o.vault.Read(a.ContextRef)
	if err != nil {
		logging.Warn().Err(err).Str("contextRef", a.ContextRef).Msg("orchestrator: context reference unreadable, continuing without it")
		return a.SystemPrompt
	}

	body := doc.Body
	const charsPerToken = 4
	maxChars := session.DefaultTokenBudget * charsPerToken
	if len(body) > maxChars {
		body = body[:maxChars]
	}

	var sb strings.Builder
	sb.WriteString(a.SystemPrompt)
	sb.WriteString("\n\n## Reference: ")
	sb.WriteString(a.ContextRef)
	sb.WriteString("\n\n")
	sb.WriteString(body)
	return sb.String()
}
