// Package session persists chat conversations to human-readable text
// files and reconstructs LLM context when the upstream session state is
// unavailable.
package session

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentvault/agentvaultd/internal/logging"
	"github.com/agentvault/agentvaultd/pkg/types"
)

// ErrNotFound is returned when a session key or stable id is unknown.
var ErrNotFound = errors.New("session: not found")

// legacyDirNames are historical session roots that must still be indexed
// at boot so old sessions remain visible after an upgrade.
var legacyDirNames = []string{"agent-chats", "agent-logs"}

// indexEntry is the lightweight, boot-time-built view of a session file
// kept for every known session without a full load.
type indexEntry struct {
	types.SessionSummary
	path string
}

// Store is the on-disk, text-file-per-session Session Store.
type Store struct {
	root        string   // <vault>/agent-sessions, the only root written to
	legacyRoots []string // additional roots indexed but never written to
	idleWindow  time.Duration

	mu       sync.RWMutex
	byID     map[string]*indexEntry
	keyToID  map[string]string
	loaded   map[string]*types.Session // id -> full session, lazily populated
	accessAt map[string]time.Time      // id -> last time touched while loaded
}

var messageCountPattern = regexp.MustCompile(`(?m)^### (User|Assistant|System) \|`)

// NewStore builds a Store rooted at <vaultRoot>/agent-sessions, indexing
// the legacy "agent-chats" and "agent-logs" directories alongside it for
// migration. Only the new root is ever written to.
func NewStore(vaultRoot string, idleWindow time.Duration) (*Store, error) {
	if idleWindow <= 0 {
		idleWindow = 30 * time.Minute
	}
	root := filepath.Join(vaultRoot, "agent-sessions")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("session: create root: %w", err)
	}

	var legacy []string
	for _, name := range legacyDirNames {
		legacy = append(legacy, filepath.Join(vaultRoot, name))
	}

	s := &Store{
		root:        root,
		legacyRoots: legacy,
		idleWindow:  idleWindow,
		byID:        make(map[string]*indexEntry),
		keyToID:     make(map[string]string),
		loaded:      make(map[string]*types.Session),
		accessAt:    make(map[string]time.Time),
	}
	if err := s.buildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) buildIndex() error {
	roots := append([]string{s.root}, s.legacyRoots...)
	for _, root := range roots {
		if err := s.indexRoot(root); err != nil {
			logging.Warn().Err(err).Str("root", root).Msg("session: index walk failed")
		}
	}
	return nil
}

func (s *Store) indexRoot(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".txt") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		entry, parseErr := indexFromRaw(data, path)
		if parseErr != nil {
			return nil
		}
		s.byID[entry.ID] = entry
		s.keyToID[entry.Key] = entry.ID
		return nil
	})
}

func indexFromRaw(raw []byte, path string) (*indexEntry, error) {
	sess, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return &indexEntry{
		SessionSummary: types.SessionSummary{
			ID:             sess.ID,
			Key:            sess.Key,
			AgentPath:      sess.AgentPath,
			AgentName:      sess.AgentName,
			Title:          sess.Title,
			CreatedAt:      sess.CreatedAt,
			LastAccessed:   sess.LastAccessed,
			Archived:       sess.Archived,
			UpstreamHandle: sess.UpstreamHandle,
			MessageCount:   len(messageCountPattern.FindAllIndex(raw, -1)),
		},
		path: path,
	}, nil
}

// MakeKey derives a session key from an agent path plus a discriminator:
// a client-supplied session id for chatbot agents, a target document path
// for document-bound agents, or the sentinel "default".
func MakeKey(agentPath, discriminator string) string {
	if discriminator == "" {
		discriminator = "default"
	}
	return agentPath + "::" + discriminator
}

// GetOrCreate returns the session for (agentPath, key), creating one if it
// does not exist. The bool result reports whether a new session was
// created.
func (s *Store) GetOrCreate(agentPath, agentName, key string) (*types.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.keyToID[key]; ok {
		sess, err := s.loadLocked(id)
		if err != nil {
			return nil, false, err
		}
		return sess, false, nil
	}

	now := time.Now().UTC()
	sess := &types.Session{
		ID:           newStableID(now),
		Key:          key,
		AgentPath:    agentPath,
		AgentName:    agentName,
		CreatedAt:    now,
		LastAccessed: now,
		Context:      map[string]any{},
	}
	sess.Path = s.pathFor(sess)

	if err := s.persistLocked(sess); err != nil {
		return nil, false, err
	}

	s.byID[sess.ID] = &indexEntry{SessionSummary: summaryOf(sess), path: sess.Path}
	s.keyToID[key] = sess.ID
	s.loaded[sess.ID] = sess
	s.accessAt[sess.ID] = time.Now()

	return sess, true, nil
}

func (s *Store) pathFor(sess *types.Session) string {
	date := sess.CreatedAt.Format("2006-01-02")
	dir := filepath.Join(s.root, sanitizeComponent(sess.AgentName))
	base := date + ".txt"
	if _, err := os.Stat(filepath.Join(dir, base)); err == nil {
		base = fmt.Sprintf("%s-%s.txt", date, sess.ID[len(sess.ID)-6:])
	}
	return filepath.Join(dir, base)
}

// loadLocked returns a full session for id, loading it from disk on first
// access. Caller must hold s.mu.
func (s *Store) loadLocked(id string) (*types.Session, error) {
	if sess, ok := s.loaded[id]; ok {
		s.accessAt[id] = time.Now()
		return sess, nil
	}
	entry, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(entry.path)
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", id, err)
	}
	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	sess.Path = entry.path
	s.loaded[id] = sess
	s.accessAt[id] = time.Now()
	return sess, nil
}

// AddMessage appends a message to the session under key and persists it.
// Appends are visible to subsequent reads in insertion order.
func (s *Store) AddMessage(key string, role types.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keyToID[key]
	if !ok {
		return ErrNotFound
	}
	sess, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	sess.Messages = append(sess.Messages, types.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	sess.LastAccessed = time.Now().UTC()

	if err := s.persistLocked(sess); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("session: persist failed, in-memory record remains authoritative")
	}
	s.byID[id] = &indexEntry{SessionSummary: summaryOf(sess), path: sess.Path}
	return nil
}

// UpdateUpstreamHandle sets (or clears, if invalid) the session's upstream
// LLM handle and persists it.
func (s *Store) UpdateUpstreamHandle(key, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keyToID[key]
	if !ok {
		return ErrNotFound
	}
	sess, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	sess.UpstreamHandle = NormalizeUpstreamHandle(handle)

	if err := s.persistLocked(sess); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("session: persist failed")
	}
	s.byID[id].UpstreamHandle = sess.UpstreamHandle
	return nil
}

// GetMessages returns the message history for key.
func (s *Store) GetMessages(key string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keyToID[key]
	if !ok {
		return nil, ErrNotFound
	}
	sess, err := s.loadLocked(id)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// Clear archives the existing file for (agentPath, discriminator) by
// renaming it with a timestamp suffix, then resets the in-memory record
// to empty under the same key.
func (s *Store) Clear(agentPath, discriminator string) error {
	key := MakeKey(agentPath, discriminator)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keyToID[key]
	if !ok {
		return nil
	}
	sess, err := s.loadLocked(id)
	if err != nil {
		return err
	}

	archivedPath := sess.Path + "." + time.Now().UTC().Format("20060102T150405") + ".archived"
	if renameErr := os.Rename(sess.Path, archivedPath); renameErr != nil && !os.IsNotExist(renameErr) {
		logging.Warn().Err(renameErr).Msg("session: archive rename failed")
	}

	sess.Messages = nil
	sess.Path = s.pathFor(sess)
	if err := s.persistLocked(sess); err != nil {
		logging.Warn().Err(err).Msg("session: persist after clear failed")
	}
	s.byID[id] = &indexEntry{SessionSummary: summaryOf(sess), path: sess.Path}
	return nil
}

// Delete removes the on-disk file for (agentPath, discriminator) and
// evicts it from both in-memory maps.
func (s *Store) Delete(agentPath, discriminator string) error {
	key := MakeKey(agentPath, discriminator)

	s.mu.RLock()
	id, ok := s.keyToID[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.DeleteByID(id)
}

// List returns the full session summary index, newest-first by default.
func (s *Store) List() []types.SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.SessionSummary, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, e.SessionSummary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// GetByID returns the full session for a stable id, loading it on demand.
func (s *Store) GetByID(id string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

// Archive flips the archived flag true for a session by stable id.
func (s *Store) Archive(id string) error { return s.setArchived(id, true) }

// Unarchive flips the archived flag false for a session by stable id.
func (s *Store) Unarchive(id string) error { return s.setArchived(id, false) }

func (s *Store) setArchived(id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	sess.Archived = archived
	if err := s.persistLocked(sess); err != nil {
		logging.Warn().Err(err).Msg("session: persist archive flag failed")
	}
	s.byID[id].Archived = archived
	return nil
}

// DeleteByID removes a session's file and evicts it from both maps.
func (s *Store) DeleteByID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if err := os.Remove(entry.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(s.byID, id)
	delete(s.keyToID, entry.Key)
	delete(s.loaded, id)
	delete(s.accessAt, id)
	return nil
}

// EvictStale drops loaded sessions inactive for longer than the idle
// window from the in-memory map, without touching their files.
func (s *Store) EvictStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.idleWindow)
	evicted := 0
	for id, last := range s.accessAt {
		if last.Before(cutoff) {
			delete(s.loaded, id)
			delete(s.accessAt, id)
			evicted++
		}
	}
	return evicted
}

// Cleanup reports (without deleting) sessions older than maxAgeDays, for
// age-reporting by the session cleanup loop.
func (s *Store) Cleanup(maxAgeDays int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	var old []string
	for id, e := range s.byID {
		if e.CreatedAt.Before(cutoff) {
			old = append(old, id)
		}
	}
	return old
}

// persistLocked writes a session to disk via the codec, atomically via a
// temp file plus rename so a reader never observes a partial write.
// Best-effort: failures log but never propagate into the orchestration
// path.
func (s *Store) persistLocked(sess *types.Session) error {
	if sess.Path == "" {
		sess.Path = s.pathFor(sess)
	}
	dir := filepath.Dir(sess.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".session-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(Encode(sess)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, sess.Path)
}

func summaryOf(sess *types.Session) types.SessionSummary {
	return types.SessionSummary{
		ID:             sess.ID,
		Key:            sess.Key,
		AgentPath:      sess.AgentPath,
		AgentName:      sess.AgentName,
		Title:          sess.Title,
		CreatedAt:      sess.CreatedAt,
		LastAccessed:   sess.LastAccessed,
		Archived:       sess.Archived,
		UpstreamHandle: sess.UpstreamHandle,
		MessageCount:   len(sess.Messages),
	}
}

func newStableID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

func sanitizeComponent(s string) string {
	if s == "" {
		return "default"
	}
	h := sha1.Sum([]byte(s))
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
	if safe == s {
		return s
	}
	return safe + "-" + hex.EncodeToString(h[:4])
}
