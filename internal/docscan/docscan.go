// Package docscan enumerates vault documents carrying agent assignments,
// evaluates their triggers, and atomically rewrites their front-matter
// agent list while leaving the rest of the document untouched.
package docscan

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentvault/agentvaultd/internal/vault"
	"github.com/agentvault/agentvaultd/pkg/types"
)

// Scanner enumerates documents under a glob pattern and manages their
// `agents:` front-matter list.
type Scanner struct {
	store   *vault.Store
	pattern string
	now     func() time.Time
}

// New creates a Scanner backed by store, discovering candidate documents
// under the given glob (default "**/*.md").
func New(store *vault.Store, pattern string) *Scanner {
	if pattern == "" {
		pattern = "**/*.md"
	}
	return &Scanner{store: store, pattern: pattern, now: time.Now}
}

// Due is one (document, agent entry) pair whose trigger fired.
type Due struct {
	DocPath string
	Entry   types.DocumentAgentEntry
}

// GetDocumentAgents returns the parsed agent-entry list for a document. A
// document with no "agents" front-matter key has no entries.
func (s *Scanner) GetDocumentAgents(docPath string) ([]types.DocumentAgentEntry, error) {
	doc, err := s.store.Read(docPath)
	if err != nil {
		return nil, err
	}
	return entriesFromFrontMatter(doc.FrontMatter), nil
}

// enumerate walks every candidate document and returns it alongside its
// parsed agent entries, skipping documents with none.
func (s *Scanner) enumerate() (map[string][]types.DocumentAgentEntry, error) {
	paths, err := s.store.Glob(s.pattern)
	if err != nil {
		return nil, fmt.Errorf("docscan: glob: %w", err)
	}

	out := make(map[string][]types.DocumentAgentEntry)
	for _, path := range paths {
		doc, readErr := s.store.Read(path)
		if readErr != nil {
			continue
		}
		entries := entriesFromFrontMatter(doc.FrontMatter)
		if len(entries) > 0 {
			out[path] = entries
		}
	}
	return out, nil
}

// FindTriggered returns every (document, agent) pair whose trigger fires
// as of now, among entries currently in "pending" status.
func (s *Scanner) FindTriggered() ([]Due, error) {
	docs, err := s.enumerate()
	if err != nil {
		return nil, err
	}

	var due []Due
	now := s.now()
	for path, entries := range docs {
		for _, entry := range entries {
			if !entry.Enabled || entry.Status != types.DocStatusPending {
				continue
			}
			if Fires(entry.Trigger, entry.LastRun, now) {
				due = append(due, Due{DocPath: path, Entry: entry})
			}
		}
	}
	return due, nil
}

// FindNeedsRun returns every (document, agent) pair currently in the
// needs_run status.
func (s *Scanner) FindNeedsRun() ([]Due, error) {
	docs, err := s.enumerate()
	if err != nil {
		return nil, err
	}

	var pending []Due
	for path, entries := range docs {
		for _, entry := range entries {
			if entry.Status == types.DocStatusNeedsRun {
				pending = append(pending, Due{DocPath: path, Entry: entry})
			}
		}
	}
	return pending, nil
}

// GetPending returns the agent entries for a single document that are in
// the pending status.
func (s *Scanner) GetPending(docPath string) ([]types.DocumentAgentEntry, error) {
	entries, err := s.GetDocumentAgents(docPath)
	if err != nil {
		return nil, err
	}
	var pending []types.DocumentAgentEntry
	for _, e := range entries {
		if e.Status == types.DocStatusPending {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// UpdateStatus rewrites a single agent entry's status (and optional
// last_run/last_result/last_error fields) within a document's front
// matter, preserving everything else byte-for-byte.
func (s *Scanner) UpdateStatus(docPath, agentPath string, newStatus types.DocAgentStatus, lastRun, lastResult, lastError string) error {
	return s.mutate(docPath, func(entries []types.DocumentAgentEntry) ([]types.DocumentAgentEntry, error) {
		found := false
		for i := range entries {
			if entries[i].AgentPath == agentPath {
				entries[i].Status = newStatus
				if lastRun != "" {
					entries[i].LastRun = lastRun
				}
				if lastResult != "" {
					entries[i].LastResult = lastResult
				}
				if lastError != "" {
					entries[i].LastError = lastError
				}
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("docscan: %s has no agent entry %s", docPath, agentPath)
		}
		return entries, nil
	})
}

// Reset reverts the named agents (or all, if agents is empty) back to
// pending status for a document.
func (s *Scanner) Reset(docPath string, agents []string) error {
	return s.mutate(docPath, func(entries []types.DocumentAgentEntry) ([]types.DocumentAgentEntry, error) {
		for i := range entries {
			if len(agents) == 0 || containsStr(agents, entries[i].AgentPath) {
				entries[i].Status = types.DocStatusPending
			}
		}
		return entries, nil
	})
}

// TriggerAll forces every enabled agent entry on a document into
// needs_run, regardless of its trigger schedule.
func (s *Scanner) TriggerAll(docPath string) error {
	return s.mutate(docPath, func(entries []types.DocumentAgentEntry) ([]types.DocumentAgentEntry, error) {
		for i := range entries {
			if entries[i].Enabled {
				entries[i].Status = types.DocStatusNeedsRun
			}
		}
		return entries, nil
	})
}

// Trigger forces the named agent entries on a document into needs_run.
func (s *Scanner) Trigger(docPath string, agents []string) error {
	return s.mutate(docPath, func(entries []types.DocumentAgentEntry) ([]types.DocumentAgentEntry, error) {
		for i := range entries {
			if containsStr(agents, entries[i].AgentPath) && entries[i].Enabled {
				entries[i].Status = types.DocStatusNeedsRun
			}
		}
		return entries, nil
	})
}

// UpdateDocumentAgents replaces a document's entire agent-entry list.
func (s *Scanner) UpdateDocumentAgents(docPath string, entries []types.DocumentAgentEntry) error {
	return s.mutate(docPath, func([]types.DocumentAgentEntry) ([]types.DocumentAgentEntry, error) {
		return entries, nil
	})
}

// mutate loads a document, applies fn to its parsed agent entries, and
// rewrites only the "agents" front-matter key, leaving every other front
// matter line and the entire document body untouched.
func (s *Scanner) mutate(docPath string, fn func([]types.DocumentAgentEntry) ([]types.DocumentAgentEntry, error)) error {
	raw, err := s.store.ReadRaw(docPath)
	if err != nil {
		return err
	}

	front, frontRaw, body, err := vault.ParseFrontMatter(raw)
	if err != nil {
		return fmt.Errorf("docscan: parse %s: %w", docPath, err)
	}
	if front == nil {
		return fmt.Errorf("docscan: %s has no front matter", docPath)
	}

	entries := entriesFromFrontMatter(front)
	updated, err := fn(entries)
	if err != nil {
		return err
	}

	newFrontRaw, err := spliceAgentsKey(frontRaw, updated)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.WriteString(newFrontRaw)
	if !strings.HasSuffix(newFrontRaw, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("---\n")
	if body != "" {
		sb.WriteString("\n")
		sb.WriteString(body)
	}

	return s.store.WriteRaw(docPath, []byte(sb.String()))
}

// spliceAgentsKey replaces the "agents:" block within a front-matter raw
// text blob with a freshly rendered one, leaving every other line intact
// and in its original position.
func spliceAgentsKey(frontRaw string, entries []types.DocumentAgentEntry) (string, error) {
	lines := strings.Split(frontRaw, "\n")

	encoded, err := yaml.Marshal(map[string]any{"agents": entriesToAny(entries)})
	if err != nil {
		return "", err
	}
	newBlock := strings.TrimRight(string(encoded), "\n")

	start, end := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " ")
		if start == -1 {
			if trimmed == "agents:" || strings.HasPrefix(trimmed, "agents:") {
				start = i
				continue
			}
		} else {
			// A line back at column 0 (not indented, not a list item) ends
			// the agents block.
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "-") {
				end = i
				break
			}
		}
	}
	if start == -1 {
		// No existing agents key: append the new block.
		if strings.TrimSpace(frontRaw) == "" {
			return newBlock, nil
		}
		return strings.TrimRight(frontRaw, "\n") + "\n" + newBlock, nil
	}
	if end == -1 {
		end = len(lines)
	}

	var out []string
	out = append(out, lines[:start]...)
	out = append(out, newBlock)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n"), nil
}

func entriesToAny(entries []types.DocumentAgentEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		m := map[string]any{
			"agent":   e.AgentPath,
			"status":  string(e.Status),
			"trigger": e.Trigger,
			"enabled": e.Enabled,
		}
		if e.LastRun != "" {
			m["last_run"] = e.LastRun
		}
		if e.LastResult != "" {
			m["last_result"] = e.LastResult
		}
		if e.LastError != "" {
			m["last_error"] = e.LastError
		}
		out = append(out, m)
	}
	return out
}

func entriesFromFrontMatter(front map[string]any) []types.DocumentAgentEntry {
	if front == nil {
		return nil
	}
	raw, ok := front["agents"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}

	entries := make([]types.DocumentAgentEntry, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entries = append(entries, types.DocumentAgentEntry{
			AgentPath:  strVal(m["agent"]),
			Status:     types.DocAgentStatus(strValOr(m["status"], string(types.DocStatusPending))),
			Trigger:    strVal(m["trigger"]),
			LastRun:    strVal(m["last_run"]),
			Enabled:    boolValOr(m["enabled"], true),
			LastResult: strVal(m["last_result"]),
			LastError:  strVal(m["last_error"]),
		})
	}
	return entries
}

func strVal(v any) string {
	s, _ := v.(string)
	return s
}

func strValOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func boolValOr(v any, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

func containsStr(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Fires evaluates a trigger string against the last-run timestamp
// (ISO-8601, or empty for never-run) and the current time. Every trigger
// kind is evaluated in the server's local time zone (see SPEC_FULL.md's
// Open Question decisions).
func Fires(trigger, lastRun string, now time.Time) bool {
	now = now.Local()

	switch {
	case trigger == "manual", trigger == "on_save":
		return false
	case trigger == "hourly":
		last, ok := parseTimestamp(lastRun)
		if !ok {
			return true
		}
		last = last.Local()
		return now.Truncate(time.Hour).After(last.Truncate(time.Hour))
	case strings.HasPrefix(trigger, "daily@"):
		hh, mm, ok := parseHHMM(strings.TrimPrefix(trigger, "daily@"))
		if !ok {
			return false
		}
		todayTrigger := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if now.Before(todayTrigger) {
			return false
		}
		last, ok := parseTimestamp(lastRun)
		if !ok {
			return true
		}
		last = last.Local()
		return last.Before(todayTrigger)
	case strings.HasPrefix(trigger, "weekly@"):
		day := strings.TrimPrefix(trigger, "weekly@")
		wd, ok := parseWeekday(day)
		if !ok || now.Weekday() != wd {
			return false
		}
		last, ok := parseTimestamp(lastRun)
		if !ok {
			return true
		}
		last = last.Local()
		return now.Sub(last) >= 7*24*time.Hour-time.Hour
	default:
		return false
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseHHMM(s string) (int, int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, false
	}
	return hh, mm, true
}

func parseWeekday(s string) (time.Weekday, bool) {
	switch strings.ToLower(s) {
	case "sunday":
		return time.Sunday, true
	case "monday":
		return time.Monday, true
	case "tuesday":
		return time.Tuesday, true
	case "wednesday":
		return time.Wednesday, true
	case "thursday":
		return time.Thursday, true
	case "friday":
		return time.Friday, true
	case "saturday":
		return time.Saturday, true
	default:
		return 0, false
	}
}
