package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPingInterval = 30 * time.Second
)

// handleFeed upgrades to a websocket and streams the user's change events
// until either side closes.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "feed upgrade failed", "user", userID, "error", err)
		return
	}
	defer conn.CloseNow()

	sub := s.hub.Subscribe(userID)
	defer s.hub.Unsubscribe(sub)

	ctx := conn.CloseRead(r.Context())
	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()

	s.logger.Debug(ctx, "feed subscriber connected", "user", userID)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				s.logger.Debug(ctx, "feed write failed", "user", userID, "error", err)
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
