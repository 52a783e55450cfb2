package cloudsync

import (
	"context"
	"fmt"

	"github.com/pixelartvj/officesync/internal/client/bus"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/client/providers"
)

// ProcessQueue replays queued operations in queue order. Each entry is
// removed right after it succeeds; failed entries stay for the next replay.
func (e *Engine) ProcessQueue(ctx context.Context) error {
	if e.disabled() || !e.isInitialized() || !e.IsOnline() {
		return nil
	}
	if u, _ := e.currentUser(); u == nil {
		return nil
	}
	if !e.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer e.draining.Store(false)

	entries, err := e.queue.List(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	var done, failed int
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.apply(ctx, entry); err != nil {
			failed++
			e.logger.Warn(ctx, "queued operation failed",
				"entity", entry.Entity, "op", entry.Operation, "error", err)
			continue
		}
		if err := e.queue.Remove(ctx, entry.ID); err != nil {
			return fmt.Errorf("remove queue entry %s: %w", entry.ID, err)
		}
		done++
	}

	e.logger.Info(ctx, "queue replayed", "done", done, "failed", failed)
	return nil
}

func (e *Engine) apply(ctx context.Context, entry models.QueueEntry) error {
	u, password := e.currentUser()
	if u == nil {
		return fmt.Errorf("no active user")
	}

	switch entry.Operation {
	case models.OpSync:
		return e.syncEntity(ctx, entry.Entity)
	case models.OpCreate, models.OpUpdate:
		if entry.Data == nil {
			return nil
		}
		return e.push(ctx, u.ID, password, entry.Entity, []models.Record{entry.Data})
	case models.OpDelete:
		return e.deleteRemote(ctx, u.ID, entry.Entity, entry.Data.ID())
	default:
		return fmt.Errorf("unknown queued operation %q", entry.Operation)
	}
}

func (e *Engine) deleteRemote(ctx context.Context, userID, entity, id string) error {
	d, ok := e.provider.(providers.Deleter)
	if !ok || id == "" {
		return nil
	}
	return d.DeleteRecord(ctx, userID, entity, id)
}

func (e *Engine) isSynced(entity string) bool {
	for _, s := range e.entities {
		if s == entity {
			return true
		}
	}
	return false
}

// HandleChange reacts to a local mutation: creates and updates sync the
// entity, deletes are propagated remotely or queued with priority.
func (e *Engine) HandleChange(ctx context.Context, ev bus.Event) {
	if e.disabled() || !e.isSynced(ev.Entity) {
		return
	}

	switch ev.Op {
	case models.OpCreate, models.OpUpdate:
		if err := e.SyncEntity(ctx, ev.Entity); err != nil {
			e.logger.Warn(ctx, "failed to schedule sync", "entity", ev.Entity, "error", err)
		}
	case models.OpDelete:
		e.handleDelete(ctx, ev.Entity, ev.RecordID)
	}
}

func (e *Engine) handleDelete(ctx context.Context, entity, id string) {
	u, _ := e.currentUser()
	if u != nil && e.IsOnline() && e.isInitialized() {
		err := e.deleteRemote(ctx, u.ID, entity, id)
		if err == nil {
			return
		}
		e.logger.Warn(ctx, "remote delete failed, queued", "entity", entity, "id", id, "error", err)
	}
	if err := e.enqueue(ctx, entity, models.OpDelete, models.Record{models.FieldID: id}); err != nil {
		e.logger.Error(ctx, "failed to queue delete", "entity", entity, "id", id, "error", err)
	}
}
