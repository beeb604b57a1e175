package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/agentvault/agentvaultd/internal/agent"
	"github.com/agentvault/agentvaultd/internal/logging"
	"github.com/agentvault/agentvaultd/pkg/types"
)

// spawnFence matches a fenced ```spawn block containing one JSON object.
var spawnFence = regexp.MustCompile("(?s)```spawn\\s*\\n(.*?)\\n```")

// spawnDirective is the JSON payload inside a ```spawn fence.
type spawnDirective struct {
	Agent    string         `json:"agent"`
	Message  string         `json:"message"`
	Priority string         `json:"priority,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// dispatchSpawns scans text for spawn directives and enqueues each one
// that passes the parent agent's spawn-permission glob and the depth cap.
// Malformed JSON or a denied directive is logged and skipped, never fatal
// to the parent execution.
func (o *Orchestrator) dispatchSpawns(parent *types.Agent, queueItemID string, depth int, text string) []string {
	matches := spawnFence.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	childDepth := depth + 1
	maxDepth := parent.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}

	var spawned []string
	for _, m := range matches {
		var dir spawnDirective
		if err := json.Unmarshal([]byte(m[1]), &dir); err != nil {
			logging.Warn().Err(err).Str("agent", parent.Path).Msg("orchestrator: malformed spawn directive, skipping")
			continue
		}
		if dir.Agent == "" {
			logging.Warn().Str("agent", parent.Path).Msg("orchestrator: spawn directive missing agent path, skipping")
			continue
		}

		if childDepth >= maxDepth {
			logging.Warn().Str("agent", parent.Path).Str("target", dir.Agent).Int("depth", childDepth).Msg("orchestrator: spawn depth cap exceeded, skipping")
			continue
		}

		if !agent.MatchAny(parent.Permissions.Spawn, dir.Agent) {
			logging.Warn().Str("agent", parent.Path).Str("target", dir.Agent).Msg("orchestrator: spawn denied by permission policy, skipping")
			continue
		}

		if !o.agents.Exists(dir.Agent) {
			if suggestion, ok := o.suggestAgentPath(dir.Agent); ok {
				logging.Warn().Str("agent", parent.Path).Str("target", dir.Agent).Str("suggestion", suggestion).Msg("orchestrator: spawned agent not found, did you mean this?")
			} else {
				logging.Warn().Str("agent", parent.Path).Str("target", dir.Agent).Msg("orchestrator: spawned agent not found, skipping")
			}
			continue
		}

		item := &types.QueueItem{
			AgentPath: dir.Agent,
			Context: types.ExecutionContext{
				Message:        dir.Message,
				InitialContext: dir.Context,
				SpawnedBy: &types.SpawnedBy{
					QueueID:   queueItemID,
					AgentPath: parent.Path,
				},
			},
			Priority: parsePriority(dir.Priority),
			Depth:    childDepth,
		}
		enqueued, err := o.Enqueue(item)
		if err != nil {
			logging.Warn().Err(err).Str("agent", parent.Path).Str("target", dir.Agent).Msg("orchestrator: spawn enqueue failed, skipping")
			continue
		}
		spawned = append(spawned, enqueued.ID)
	}
	return spawned
}

func parsePriority(s string) types.Priority {
	switch strings.ToLower(s) {
	case "high":
		return types.PriorityHigh
	case "low":
		return types.PriorityLow
	default:
		return types.PriorityNormal
	}
}

// suggestAgentPath finds the closest known agent path to target by
// Levenshtein distance, for a did-you-mean diagnostic when a spawn
// directive names an agent that doesn't exist. Returns ok=false if no
// agent is known at all, or nothing is reasonably close.
func (o *Orchestrator) suggestAgentPath(target string) (string, bool) {
	known, err := o.agents.List()
	if err != nil || len(known) == 0 {
		return "", false
	}

	best := ""
	bestDist := -1
	for _, a := range known {
		d := levenshtein.ComputeDistance(target, a.Path)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = a.Path
		}
	}

	threshold := len(target)/2 + 1
	if bestDist < 0 || bestDist > threshold {
		return "", false
	}
	return best, true
}
