package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// wsHandler streams the recent history followed by live events
func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		history, client, unsubscribe := s.hub.SubscribeWithHistory(streamBuffer)
		defer unsubscribe()

		// Clients only listen; reading detects when they go away
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						s.log.Debug("websocket client error", zap.Error(err))
					}
					return
				}
			}
		}()

		for _, e := range history {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case e, ok := <-client:
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(e); err != nil {
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
