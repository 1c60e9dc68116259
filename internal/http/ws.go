package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-tracking/internal/dispatch"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// handleTripWS streams snapshots for one trip and registers the connection
// as a notification session until the client leaves or the trip finishes.
func (s *Server) handleTripWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	updates, unsubscribe, err := s.Engine.Subscribe(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "trip_id", id, "error", err)
		return
	}
	// the server's read and write timeouts survive the hijack
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	sess := s.WSReg.Add(id, conn)
	defer func() {
		s.WSReg.Remove(id, sess)
		_ = sess.Close()
	}()

	// the reader only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := sess.Send(dispatch.Message{Type: "snapshot", Data: snap}); err != nil {
				return
			}
		}
	}
}
