package cloudsync

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pixelartvj/officesync/internal/client/models"
)

// FeedSource is implemented by providers that push change notifications
// over a websocket.
type FeedSource interface {
	FeedURL(userID string) string
	FeedHeaders() http.Header
}

// BulkFetcher is implemented by providers that return every collection of a
// user in one request. SyncAll prefers it over one fetch per entity.
type BulkFetcher interface {
	FetchAll(ctx context.Context, userID string) (map[string][]models.Record, error)
}

// FeedMessage announces a remote change to one entity.
type FeedMessage struct {
	Entity string `json:"entity"`
	ItemID string `json:"itemId,omitempty"`
	Op     string `json:"op,omitempty"`
}

// feedLoop keeps a feed connection open for the active user while online
// and syncs every entity it is told about. A dropped connection is retried
// after DefaultFeedRetry, or sooner when the user or connectivity changes.
func (e *Engine) feedLoop(ctx context.Context, src FeedSource) {
	defer e.wg.Done()

	for {
		if u, _ := e.currentUser(); u != nil && e.IsOnline() {
			fctx, cancel := context.WithCancel(ctx)
			e.mu.Lock()
			e.feedCancel = cancel
			e.mu.Unlock()

			err := e.listen(fctx, src, u.ID)
			cancel()
			if ctx.Err() != nil {
				return
			}
			if err != nil && fctx.Err() == nil {
				e.logger.Debug(ctx, "change feed disconnected", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-e.feedWakeup:
		case <-e.clock.After(DefaultFeedRetry):
		}
	}
}

func (e *Engine) listen(ctx context.Context, src FeedSource, userID string) error {
	conn, _, err := websocket.Dial(ctx, src.FeedURL(userID), &websocket.DialOptions{
		HTTPHeader: src.FeedHeaders(),
	})
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	e.logger.Debug(ctx, "change feed connected")
	for {
		var msg FeedMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		if !e.isSynced(msg.Entity) {
			continue
		}
		if err := e.SyncEntity(ctx, msg.Entity); err != nil {
			e.logger.Warn(ctx, "feed-triggered sync failed", "entity", msg.Entity, "error", err)
		}
	}
}

func (e *Engine) stopFeedLocked() {
	if e.feedCancel != nil {
		e.feedCancel()
		e.feedCancel = nil
	}
}

func (e *Engine) wakeFeed() {
	select {
	case e.feedWakeup <- struct{}{}:
	default:
	}
}
