package session

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agentvault/agentvaultd/pkg/types"
)

// messageHeaderPattern matches "### Role | ISO-8601 timestamp", fractional
// seconds optional.
var messageHeaderPattern = regexp.MustCompile(`^### (User|Assistant|System) \| (.+)$`)

// ValidUpstreamHandle rejects any candidate that is not a non-empty string,
// or that is the literal "[object Object]" or begins with "[object",
// guarding against a known class of corrupted values written by a
// misbehaving upstream client.
func ValidUpstreamHandle(s string) bool {
	if s == "" {
		return false
	}
	if s == "[object Object]" || strings.HasPrefix(s, "[object") {
		return false
	}
	return true
}

// NormalizeUpstreamHandle returns s if it validates, else "".
func NormalizeUpstreamHandle(s string) string {
	if ValidUpstreamHandle(s) {
		return s
	}
	return ""
}

// Encode renders a Session to its on-disk text form: a front-matter block
// of simple key/value pairs followed by a "## Conversation" section of
// "### Role | timestamp" message blocks.
func Encode(s *types.Session) []byte {
	var sb strings.Builder

	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "session_id: %s\n", s.ID)
	fmt.Fprintf(&sb, "session_key: %s\n", quoteIfNeeded(s.Key))
	fmt.Fprintf(&sb, "agent: %s\n", s.AgentPath)
	fmt.Fprintf(&sb, "agent_name: %s\n", s.AgentName)
	if s.Title != "" {
		fmt.Fprintf(&sb, "title: %q\n", s.Title)
	}
	sb.WriteString("type: chat\n")
	fmt.Fprintf(&sb, "created_at: %s\n", s.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "last_accessed: %s\n", s.LastAccessed.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "sdk_session_id: %s\n", NormalizeUpstreamHandle(s.UpstreamHandle))
	fmt.Fprintf(&sb, "archived: %t\n", s.Archived)
	if len(s.Context) > 0 {
		fmt.Fprintf(&sb, "context: %s\n", encodeInlineContext(s.Context))
	}
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# %s\n\n", titleOrDefault(s))
	if docPath, ok := s.Context["documentPath"].(string); ok && docPath != "" {
		fmt.Fprintf(&sb, "> Context: %s\n\n", docPath)
	}
	sb.WriteString("## Conversation\n\n")

	for _, m := range s.Messages {
		role := capitalizeRole(m.Role)
		fmt.Fprintf(&sb, "### %s | %s\n\n%s\n\n", role, m.Timestamp.UTC().Format(time.RFC3339Nano), strings.TrimRight(m.Content, "\n"))
	}

	return []byte(sb.String())
}

// Decode parses a session's on-disk text form back into a Session. Extra
// context fields and the stable id/key survive unmodified across an
// Encode/Decode round trip.
func Decode(raw []byte) (*types.Session, error) {
	content := string(raw)
	lines := strings.Split(content, "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, fmt.Errorf("session: missing front-matter delimiter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, fmt.Errorf("session: unterminated front matter")
	}

	s := &types.Session{Context: map[string]any{}}
	for _, line := range lines[1:end] {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := unquote(strings.TrimSpace(parts[1]))

		switch key {
		case "session_id":
			s.ID = value
		case "session_key":
			s.Key = value
		case "agent":
			s.AgentPath = value
		case "agent_name":
			s.AgentName = value
		case "title":
			s.Title = value
		case "created_at":
			s.CreatedAt = parseTimestampOrZero(value)
		case "last_accessed":
			s.LastAccessed = parseTimestampOrZero(value)
		case "sdk_session_id":
			s.UpstreamHandle = NormalizeUpstreamHandle(value)
		case "archived":
			s.Archived = value == "true"
		case "context":
			s.Context = decodeInlineContext(value)
		}
	}

	body := strings.Join(lines[end+1:], "\n")
	s.Messages = parseMessages(body)

	return s, nil
}

func parseMessages(body string) []types.Message {
	lines := strings.Split(body, "\n")

	var messages []types.Message
	var curRole types.Role
	var curTS time.Time
	var curContent []string
	haveCurrent := false

	flush := func() {
		if haveCurrent {
			messages = append(messages, types.Message{
				Role:      curRole,
				Content:   strings.TrimSpace(strings.Join(curContent, "\n")),
				Timestamp: curTS,
			})
		}
	}

	for _, line := range lines {
		if m := messageHeaderPattern.FindStringSubmatch(line); m != nil {
			flush()
			curRole = types.Role(strings.ToLower(m[1]))
			curTS = parseTimestampOrZero(strings.TrimSpace(m[2]))
			curContent = nil
			haveCurrent = true
			continue
		}
		if haveCurrent {
			curContent = append(curContent, line)
		}
	}
	flush()

	return messages
}

func capitalizeRole(r types.Role) string {
	switch r {
	case types.RoleUser:
		return "User"
	case types.RoleAssistant:
		return "Assistant"
	case types.RoleSystem:
		return "System"
	default:
		return "User"
	}
}

func titleOrDefault(s *types.Session) string {
	if s.Title != "" {
		return s.Title
	}
	return s.AgentName
}

func parseTimestampOrZero(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " :\"'") {
		return strconv.Quote(s)
	}
	return s
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// encodeInlineContext renders the opaque context map as a single-line JSON
// object, so a value containing a comma or equals sign still round-trips.
func encodeInlineContext(ctx map[string]any) string {
	raw, err := json.Marshal(ctx)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decodeInlineContext(s string) map[string]any {
	ctx := map[string]any{}
	if s == "" {
		return ctx
	}
	if err := json.Unmarshal([]byte(s), &ctx); err != nil {
		return map[string]any{}
	}
	return ctx
}
