package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/agentvault/agentvaultd/internal/event"
	"github.com/agentvault/agentvaultd/internal/logging"
	"github.com/agentvault/agentvaultd/pkg/types"
)

const (
	drainPollInterval       = 5 * time.Second
	triggerPollInterval     = 60 * time.Second
	sessionCleanupInterval  = time.Hour
	permissionSweepInterval = 2 * time.Minute

	bootDelay           = 5 * time.Second
	sessionBootDelay    = 30 * time.Second
	permissionBootDelay = 30 * time.Second

	streamCloseDelay = 5 * time.Second
)

// Start launches the four background loops: drain, trigger, session
// cleanup, and permission cleanup. Call Shutdown to stop them and wait out
// the graceful-shutdown window.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(4)
	go o.drainLoop(ctx)
	go o.triggerLoop(ctx)
	go o.sessionCleanupLoop(ctx)
	go o.permissionSweepLoop(ctx)
}

// Shutdown stops accepting new background work and waits up to 30s for
// in-flight loop iterations to notice the closed stop channel and return.
func (o *Orchestrator) Shutdown() {
	close(o.stop)
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logging.Warn().Msg("orchestrator: graceful shutdown window elapsed with loops still running")
	}
}

// drainLoop claims up to maxConcurrent pending queue items and runs them,
// polling every 5s and whenever Enqueue nudges it.
func (o *Orchestrator) drainLoop(ctx context.Context) {
	defer o.wg.Done()

	sem := make(chan struct{}, o.maxConcurrent)
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.drainOnce(ctx, sem)
		case <-o.nudge:
			o.drainOnce(ctx, sem)
		}
	}
}

func (o *Orchestrator) drainOnce(ctx context.Context, sem chan struct{}) {
	for {
		select {
		case sem <- struct{}{}:
		default:
			return // at capacity
		}

		item := o.queue.Next()
		if item == nil {
			<-sem
			return
		}
		if err := o.queue.MarkRunning(item.ID); err != nil {
			logging.Warn().Err(err).Str("item", item.ID).Msg("orchestrator: mark running failed, skipping")
			<-sem
			continue
		}
		o.bus.Publish(queueAdminTopic, event.Event{Type: event.QueueItemStarted, Data: item})

		go func(item *types.QueueItem) {
			defer func() { <-sem }()
			o.runQueued(ctx, item)
		}(item)
	}
}

// runQueued executes one claimed queue item, fanning its events out on the
// per-item event topic, and closes the stream streamCloseDelay after the
// terminal event.
func (o *Orchestrator) runQueued(ctx context.Context, item *types.QueueItem) {
	topic := "queue:" + item.ID
	o.bus.Publish(topic, event.Event{Type: event.RunConnected})

	var done *types.ChatResult
	emit := func(e event.Event) {
		if e.Type == event.RunSession {
			return // the per-queue-item stream uses RunConnected instead
		}
		if e.Type == event.RunDone {
			if r, ok := e.Data.(*types.ChatResult); ok {
				done = r
			}
		}
		o.bus.Publish(topic, e)
	}

	sessionID, err := o.run(ctx, item.AgentPath, item.Context, item.Depth, item.ID, emit)
	_ = sessionID

	docPath := item.Context.DocumentPath
	now := time.Now().UTC().Format(time.RFC3339)

	if err != nil {
		if markErr := o.queue.MarkFailed(item.ID, err.Error()); markErr != nil {
			logging.Warn().Err(markErr).Str("item", item.ID).Msg("orchestrator: mark failed failed")
		}
		o.revertDocumentStatus(docPath, item.AgentPath, now, "", err.Error())
	} else {
		r := done
		if r == nil {
			r = &types.ChatResult{Success: true, SessionID: sessionID}
		}
		if markErr := o.queue.MarkCompleted(item.ID, r); markErr != nil {
			logging.Warn().Err(markErr).Str("item", item.ID).Msg("orchestrator: mark completed failed")
		}
		o.revertDocumentStatus(docPath, item.AgentPath, now, r.Response, "")
	}

	time.AfterFunc(streamCloseDelay, func() {
		o.bus.Publish(topic, event.Event{Type: event.RunClose})
	})
}

// revertDocumentStatus reverts a document-triggered agent entry from
// running back to pending and stamps last_run (plus last_result or
// last_error) once its queued execution finishes. A no-op for queue items
// that didn't originate from a trigger pass (docPath empty) or when no
// Document Scanner is configured.
func (o *Orchestrator) revertDocumentStatus(docPath, agentPath, lastRun, lastResult, lastError string) {
	if docPath == "" || o.scanner == nil {
		return
	}
	if err := o.scanner.UpdateStatus(docPath, agentPath, types.DocStatusPending, lastRun, lastResult, lastError); err != nil {
		logging.Warn().Err(err).Str("doc", docPath).Str("agent", agentPath).Msg("orchestrator: revert document status after run failed")
	}
}

// triggerLoop evaluates document triggers every 60s (plus a one-shot pass
// shortly after boot), promoting documents through needs_run -> running
// and enqueuing their agents.
func (o *Orchestrator) triggerLoop(ctx context.Context) {
	defer o.wg.Done()
	if o.scanner == nil {
		return
	}

	select {
	case <-time.After(bootDelay):
		o.runTriggerPass(ctx)
	case <-o.stop:
		return
	}

	ticker := time.NewTicker(triggerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.runTriggerPass(ctx)
		}
	}
}

// runTriggerPass finds documents whose triggers have fired, promotes them
// to needs_run, then claims anything needs_run and enqueues it. A single
// bad document never aborts the pass: background loops swallow their own
// errors and log instead.
func (o *Orchestrator) runTriggerPass(ctx context.Context) {
	due, err := o.scanner.FindTriggered()
	if err != nil {
		logging.Warn().Err(err).Msg("orchestrator: trigger scan failed")
		return
	}
	for _, d := range due {
		if err := o.scanner.UpdateStatus(d.DocPath, d.Entry.AgentPath, types.DocStatusNeedsRun, "", "", ""); err != nil {
			logging.Warn().Err(err).Str("doc", d.DocPath).Msg("orchestrator: promote to needs_run failed")
		}
	}

	pending, err := o.scanner.FindNeedsRun()
	if err != nil {
		logging.Warn().Err(err).Msg("orchestrator: needs_run scan failed")
		return
	}
	for _, d := range pending {
		if err := o.scanner.UpdateStatus(d.DocPath, d.Entry.AgentPath, types.DocStatusRunning, "", "", ""); err != nil {
			logging.Warn().Err(err).Str("doc", d.DocPath).Msg("orchestrator: promote to running failed")
			continue
		}
		_, err := o.Enqueue(&types.QueueItem{
			AgentPath: d.Entry.AgentPath,
			Context:   types.ExecutionContext{DocumentPath: d.DocPath},
		})
		if err != nil {
			logging.Warn().Err(err).Str("doc", d.DocPath).Msg("orchestrator: trigger enqueue failed")
		}
	}
}

// sessionCleanupLoop evicts stale in-memory session records hourly, plus
// a one-shot pass 30s after boot.
func (o *Orchestrator) sessionCleanupLoop(ctx context.Context) {
	defer o.wg.Done()
	if o.sessions == nil {
		return
	}

	select {
	case <-time.After(sessionBootDelay):
		o.evictStale()
	case <-o.stop:
		return
	}

	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.evictStale()
		}
	}
}

func (o *Orchestrator) evictStale() {
	n := o.sessions.EvictStale()
	if n > 0 {
		logging.Info().Int("count", n).Msg("orchestrator: evicted stale in-memory sessions")
	}
}

// permissionSweepLoop purges overstayed permission requests every 2min,
// plus a one-shot pass 30s after boot.
func (o *Orchestrator) permissionSweepLoop(ctx context.Context) {
	defer o.wg.Done()
	if o.permissions == nil {
		return
	}

	select {
	case <-time.After(permissionBootDelay):
		o.sweepPermissions()
	case <-o.stop:
		return
	}

	ticker := time.NewTicker(permissionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.sweepPermissions()
		}
	}
}

func (o *Orchestrator) sweepPermissions() {
	n := o.permissions.Sweep()
	if n > 0 {
		logging.Info().Int("count", n).Msg("orchestrator: swept overstayed permission requests")
	}
}

// RunTriggerPass forces one trigger-evaluation pass immediately, for
// /api/triggers/check. A no-op if no Document Scanner is configured.
func (o *Orchestrator) RunTriggerPass(ctx context.Context) {
	if o.scanner == nil {
		return
	}
	o.runTriggerPass(ctx)
}

// StreamQueueItem subscribes a caller to a claimed queue item's event
// topic, replaying nothing (the drain loop has already published
// RunConnected by the time a client can discover the item id via
// /api/queue). Returns an error if the item is unknown.
func (o *Orchestrator) StreamQueueItem(itemID string, sub event.Subscriber) (func(), error) {
	if _, ok := o.queue.Get(itemID); !ok {
		return nil, fmt.Errorf("orchestrator: unknown queue item %s", itemID)
	}
	return o.bus.Subscribe("queue:"+itemID, sub), nil
}
