// Package queue provides a bounded, priority-ordered FIFO of pending
// agent executions with best-effort disk persistence and a strict
// pending -> running -> (completed | failed) state machine.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentvault/agentvaultd/internal/logging"
	"github.com/agentvault/agentvaultd/pkg/types"
)

// ErrFull is returned by Enqueue when the queue is at capacity.
var ErrFull = errors.New("queue: full")

// ErrInvalidTransition is returned when a status change violates the
// pending -> running -> (completed | failed) state machine.
var ErrInvalidTransition = errors.New("queue: invalid transition")

// ErrNotFound is returned when an operation references an unknown item id.
var ErrNotFound = errors.New("queue: item not found")

// DefaultCapacity is the maximum number of items the queue holds at once
// across all statuses.
const DefaultCapacity = 100

// DefaultRetain is the number of most-recent terminal items kept; older
// ones are pruned from the snapshot.
const DefaultRetain = 50

// Queue is a bounded, priority-ordered, disk-snapshotted store of
// QueueItems.
type Queue struct {
	mu       sync.Mutex
	items    map[string]*types.QueueItem
	order    []string // insertion order, used to break priority ties FIFO
	capacity int
	retain   int
	snapPath string
}

// New creates a Queue with the given capacity and terminal-item retention
// cap. If snapPath is non-empty, every mutation triggers a best-effort save
// and New attempts an initial load from it.
func New(capacity, retain int, snapPath string) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if retain <= 0 {
		retain = DefaultRetain
	}
	q := &Queue{
		items:    make(map[string]*types.QueueItem),
		capacity: capacity,
		retain:   retain,
		snapPath: snapPath,
	}
	if snapPath != "" {
		if err := q.load(); err != nil {
			logging.Warn().Err(err).Str("path", snapPath).Msg("queue: snapshot load failed, starting empty")
		}
	}
	return q
}

// entropySource backs ULID generation; package-level so it isn't
// reallocated on every Enqueue call.
var entropySource = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

// Enqueue adds a new pending item, assigning it an id and creation
// timestamp. Returns ErrFull if the queue is at capacity.
func (q *Queue) Enqueue(item *types.QueueItem) (*types.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return nil, ErrFull
	}

	now := time.Now().UTC()
	item.ID = ulid.MustNew(ulid.Timestamp(now), entropySource).String()
	item.Status = types.StatusPending
	item.CreatedAt = now

	q.items[item.ID] = item
	q.order = append(q.order, item.ID)

	q.saveLocked()
	return item, nil
}

// Next returns the highest-priority pending item that is due (has no
// ScheduledFor, or one that has already passed), ties broken by FIFO
// insertion order. Returns nil if there is no eligible item.
func (q *Queue) Next() *types.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	var best *types.QueueItem
	for _, id := range q.order {
		item := q.items[id]
		if item == nil || item.Status != types.StatusPending {
			continue
		}
		if item.ScheduledFor != nil && item.ScheduledFor.After(now) {
			continue
		}
		if best == nil || item.Priority > best.Priority {
			best = item
		}
	}
	return best
}

// HasPending reports whether any item is pending.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.Status == types.StatusPending {
			return true
		}
	}
	return false
}

// MarkRunning transitions an item from pending to running.
func (q *Queue) MarkRunning(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status != types.StatusPending {
		return fmt.Errorf("%w: %s is %s, not pending", ErrInvalidTransition, id, item.Status)
	}
	item.Status = types.StatusRunning
	t := time.Now().UTC()
	item.StartedAt = &t
	q.saveLocked()
	return nil
}

// MarkCompleted transitions a running item to completed, recording the
// result.
func (q *Queue) MarkCompleted(id string, result *types.ChatResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finishLocked(id, types.StatusCompleted, result, "")
}

// MarkFailed transitions a running item to failed, recording the error.
func (q *Queue) MarkFailed(id string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finishLocked(id, types.StatusFailed, nil, errMsg)
}

func (q *Queue) finishLocked(id string, status types.QueueStatus, result *types.ChatResult, errMsg string) error {
	item, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status != types.StatusRunning {
		return fmt.Errorf("%w: %s is %s, not running", ErrInvalidTransition, id, item.Status)
	}
	item.Status = status
	item.Result = result
	item.Error = errMsg
	t := time.Now().UTC()
	item.CompletedAt = &t

	q.pruneTerminalLocked()
	q.saveLocked()
	return nil
}

// pruneTerminalLocked drops the oldest terminal items beyond the retain cap.
func (q *Queue) pruneTerminalLocked() {
	var terminalIDs []string
	for _, id := range q.order {
		item := q.items[id]
		if item != nil && (item.Status == types.StatusCompleted || item.Status == types.StatusFailed) {
			terminalIDs = append(terminalIDs, id)
		}
	}
	if len(terminalIDs) <= q.retain {
		return
	}
	excess := len(terminalIDs) - q.retain
	drop := make(map[string]bool, excess)
	for _, id := range terminalIDs[:excess] {
		drop[id] = true
		delete(q.items, id)
	}
	kept := q.order[:0]
	for _, id := range q.order {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	q.order = kept
}

// Get returns an item by id.
func (q *Queue) Get(id string) (*types.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	return item, ok
}

// Snapshot is the grouped-by-state view returned by GET /api/queue.
type Snapshot struct {
	Pending   []*types.QueueItem `json:"pending"`
	Running   []*types.QueueItem `json:"running"`
	Completed []*types.QueueItem `json:"completed"`
}

// Snapshot returns items grouped by status, in insertion order.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	var snap Snapshot
	for _, id := range q.order {
		item := q.items[id]
		if item == nil {
			continue
		}
		switch item.Status {
		case types.StatusPending:
			snap.Pending = append(snap.Pending, item)
		case types.StatusRunning:
			snap.Running = append(snap.Running, item)
		case types.StatusCompleted, types.StatusFailed:
			snap.Completed = append(snap.Completed, item)
		}
	}
	return snap
}

// --- persistence ---

type snapshotFile struct {
	Items []*types.QueueItem `json:"items"`
	Order []string           `json:"order"`
}

// saveLocked writes the current queue state to disk. Best-effort: failures
// are logged, never propagated into the orchestration path.
func (q *Queue) saveLocked() {
	if q.snapPath == "" {
		return
	}

	items := make([]*types.QueueItem, 0, len(q.items))
	for _, id := range q.order {
		if item := q.items[id]; item != nil {
			items = append(items, item)
		}
	}
	data, err := json.MarshalIndent(snapshotFile{Items: items, Order: q.order}, "", "  ")
	if err != nil {
		logging.Warn().Err(err).Msg("queue: marshal snapshot failed")
		return
	}

	dir := filepath.Dir(q.snapPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Warn().Err(err).Msg("queue: create snapshot dir failed")
		return
	}
	tmp := q.snapPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logging.Warn().Err(err).Msg("queue: write snapshot failed")
		return
	}
	if err := os.Rename(tmp, q.snapPath); err != nil {
		logging.Warn().Err(err).Msg("queue: rename snapshot failed")
		os.Remove(tmp)
	}
}

// load rebuilds the queue from disk at boot. Any item observed in the
// running state is discarded: the execution that owned it was lost.
func (q *Queue) load() error {
	data, err := os.ReadFile(q.snapPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	for _, item := range snap.Items {
		if item.Status == types.StatusRunning {
			continue
		}
		q.items[item.ID] = item
	}
	for _, id := range snap.Order {
		if _, ok := q.items[id]; ok {
			q.order = append(q.order, id)
		}
	}
	return nil
}
