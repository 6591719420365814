package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wirehome/core/messagebus"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamDrainTimeout = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The hub is a LAN appliance; browsers on any origin may stream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades the connection to a websocket and pushes every bus
// message matching the optional "filter" query parameter (a JSON array of
// filter objects). The stream rides a bounded long-poll queue: registries
// publish while holding their own locks, so socket writes must never run on
// the publisher's stack. A slow client fills its queue and loses the oldest
// messages instead of stalling publishers.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters := messagebus.FilterList{{}}
	if raw := r.URL.Query().Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "filter must be a JSON array of filter objects"})
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	uid := s.deps.Bus.SubscribeQueue(filters, 0)
	defer func() {
		if err := s.deps.Bus.Unsubscribe(uid); err != nil {
			s.logger.Debug("stream subscription already removed", "uid", uid)
		}
	}()

	var once sync.Once
	done := make(chan struct{})
	closeDone := func() { once.Do(func() { close(done) }) }

	// The reader only exists to notice the client going away.
	go func() {
		defer closeDone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		default:
		}

		messages, err := s.deps.Bus.AwaitDrain(r.Context(), uid, streamDrainTimeout)
		if err != nil {
			// Subscription expired or was removed underneath us.
			return
		}
		for _, m := range messages {
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}
