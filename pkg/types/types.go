// Package types holds the wire and domain records shared across
// agentvaultd's internal packages: agents, queue items, sessions, messages,
// and permission requests.
package types

import "time"

// AgentVariant determines which orchestrator execution path an agent uses.
type AgentVariant string

const (
	VariantChatbot       AgentVariant = "chatbot"
	VariantDocumentBound AgentVariant = "document-bound"
	VariantStandalone    AgentVariant = "standalone"
)

// PermissionSet holds the glob patterns (and allowed tool names) that gate
// an agent's filesystem reach and spawn authority.
type PermissionSet struct {
	Read  []string `yaml:"read,omitempty" json:"read,omitempty"`
	Write []string `yaml:"write,omitempty" json:"write,omitempty"`
	Spawn []string `yaml:"spawn,omitempty" json:"spawn,omitempty"`
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// Agent is a declarative role loaded from a vault document: name,
// description, variant, model, permissions, and spawn-depth cap.
type Agent struct {
	Path        string        `json:"path"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Variant     AgentVariant  `json:"variant"`
	Model       string        `json:"model,omitempty"`
	Tools       []string      `json:"tools,omitempty"`
	Permissions PermissionSet `json:"permissions"`
	MaxDepth    int           `json:"maxDepth"`
	ContextRef  string        `json:"contextRef,omitempty"`
	Services    []string      `json:"services,omitempty"`
	SystemPrompt string       `json:"-"`
}

// Priority is a small ordered enum for queue scheduling.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// ParsePriority maps a wire string to a Priority, defaulting to Normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// QueueStatus is the lifecycle state of a QueueItem.
type QueueStatus string

const (
	StatusPending   QueueStatus = "pending"
	StatusRunning   QueueStatus = "running"
	StatusCompleted QueueStatus = "completed"
	StatusFailed    QueueStatus = "failed"
)

// ExecutionContext carries the inputs to a single orchestrator run.
type ExecutionContext struct {
	Message        string         `json:"message,omitempty"`
	DocumentPath   string         `json:"documentPath,omitempty"`
	SessionID      string         `json:"sessionId,omitempty"`
	InitialContext map[string]any `json:"initialContext,omitempty"`
	SpawnedBy      *SpawnedBy     `json:"spawnedBy,omitempty"`
}

// SpawnedBy back-links a queue item to the item whose spawn directive
// created it.
type SpawnedBy struct {
	QueueID   string `json:"queueId"`
	AgentPath string `json:"agentPath"`
}

// QueueItem is a unit of work awaiting or undergoing orchestrator
// execution.
type QueueItem struct {
	ID            string            `json:"id"`
	AgentPath     string            `json:"agentPath"`
	Agent         *Agent            `json:"agent,omitempty"`
	Context       ExecutionContext  `json:"context"`
	Priority      Priority          `json:"priority"`
	Depth         int               `json:"depth"`
	ScheduledFor  *time.Time        `json:"scheduledFor,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
	Status        QueueStatus       `json:"status"`
	Result        *ChatResult       `json:"result,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a session's conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a persistent conversational context for one
// (agent, discriminator) pair.
type Session struct {
	ID             string         `json:"id"`
	Key            string         `json:"key"`
	AgentPath      string         `json:"agentPath"`
	AgentName      string         `json:"agentName"`
	Title          string         `json:"title,omitempty"`
	Messages       []Message      `json:"messages"`
	UpstreamHandle string         `json:"sdkSessionId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastAccessed   time.Time      `json:"lastAccessed"`
	Archived       bool           `json:"archived"`
	Path           string         `json:"-"`
	Context        map[string]any `json:"context,omitempty"`
}

// SessionSummary is the lightweight, boot-time-indexed view of a session
// used for listing without a full load.
type SessionSummary struct {
	ID             string    `json:"id"`
	Key            string    `json:"key"`
	AgentPath      string    `json:"agentPath"`
	AgentName      string    `json:"agentName"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessed   time.Time `json:"lastAccessed"`
	Archived       bool      `json:"archived"`
	UpstreamHandle string    `json:"sdkSessionId,omitempty"`
	MessageCount   int       `json:"messageCount"`
}

// ResumeMethod names how the Session Context Builder decided to continue a
// conversation.
type ResumeMethod string

const (
	ResumeNew              ResumeMethod = "new"
	ResumeSDKResume        ResumeMethod = "sdk_resume"
	ResumeContextInjection ResumeMethod = "context_injection"
)

// ResumeInfo is the diagnostic record the Session Context Builder produces
// describing how it assembled the prompt for a turn.
type ResumeInfo struct {
	Method                ResumeMethod `json:"method"`
	MessagesInjected      int          `json:"messagesInjected,omitempty"`
	TokenEstimate         int          `json:"tokenEstimate,omitempty"`
	PreviousMessageCount  int          `json:"previousMessageCount,omitempty"`
}

// ToolCall records one tool invocation observed during an execution.
type ToolCall struct {
	Name      string `json:"name"`
	Input     any    `json:"input,omitempty"`
	Result    any    `json:"result,omitempty"`
}

// PermissionDenial records a denied or timed-out write-class tool call for
// inclusion in a chat response.
type PermissionDenial struct {
	Path   string `json:"path"`
	Reason string `json:"reason"` // "denied" or "timeout"
}

// ChatResult is the unary response body for /api/chat and the payload of
// the streaming `done` event.
type ChatResult struct {
	Success           bool               `json:"success"`
	Response          string             `json:"response,omitempty"`
	Error             string             `json:"error,omitempty"`
	Spawned           []string           `json:"spawned,omitempty"`
	DurationMs        int64              `json:"durationMs"`
	SessionID         string             `json:"sessionId,omitempty"`
	MessageCount      int                `json:"messageCount,omitempty"`
	ToolCalls         []ToolCall         `json:"toolCalls,omitempty"`
	PermissionDenials []PermissionDenial `json:"permissionDenials,omitempty"`
	SessionResume     *ResumeInfo        `json:"sessionResume,omitempty"`
	Debug             map[string]any     `json:"debug,omitempty"`
}

// DocAgentStatus is the lifecycle state of a per-document agent entry.
type DocAgentStatus string

const (
	DocStatusPending   DocAgentStatus = "pending"
	DocStatusNeedsRun  DocAgentStatus = "needs_run"
	DocStatusRunning   DocAgentStatus = "running"
	DocStatusCompleted DocAgentStatus = "completed"
	DocStatusError     DocAgentStatus = "error"
)

// DocumentAgentEntry is one agent assignment recorded in a document's front
// matter.
type DocumentAgentEntry struct {
	AgentPath  string         `yaml:"agent" json:"agentPath"`
	Status     DocAgentStatus `yaml:"status" json:"status"`
	Trigger    string         `yaml:"trigger" json:"trigger"`
	LastRun    string         `yaml:"last_run,omitempty" json:"lastRun,omitempty"`
	Enabled    bool           `yaml:"enabled" json:"enabled"`
	LastResult string         `yaml:"last_result,omitempty" json:"lastResult,omitempty"`
	LastError  string         `yaml:"last_error,omitempty" json:"lastError,omitempty"`
}

// PermissionState is the lifecycle state of a PermissionRequest.
type PermissionState string

const (
	PermissionPending PermissionState = "pending"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionTimeout PermissionState = "timeout"
)

// PermissionRequest is a pending approval for a write-class tool call
// outside an agent's configured write globs.
type PermissionRequest struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"sessionId"`
	ToolName        string          `json:"toolName"`
	Subject         string          `json:"subject"`
	Input           any             `json:"input"`
	AgentName       string          `json:"agentName"`
	AgentPath       string          `json:"agentPath"`
	AllowedPatterns []string        `json:"allowedPatterns,omitempty"`
	IssuedAt        time.Time       `json:"issuedAt"`
	State           PermissionState `json:"state"`
}
