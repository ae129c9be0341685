// Package feed fans accepted changes out to each user's open websocket
// subscriptions.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/metrics"
	"github.com/dmitrijs2005/notesync/internal/server/models"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 10 * time.Second
)

type subscriber struct {
	deviceID string
	frames   chan []byte
}

// Hub keeps subscribers per user. A subscriber that cannot keep up is
// disconnected; the client reconnects and catches up with a pull.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	closed  bool
	log     logging.Logger
	metrics *metrics.Metrics
}

func NewHub(log logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		subs:    make(map[string]map[*subscriber]struct{}),
		log:     log,
		metrics: m,
	}
}

// Publish sends changes to every subscriber of userID.
func (h *Hub) Publish(userID string, changes []models.LoggedChange) {
	if len(changes) == 0 {
		return
	}
	frame, err := json.Marshal(models.FeedMessage{Type: models.FeedTypeChanges, Changes: models.WireChanges(changes)})
	if err != nil {
		h.log.Error(context.Background(), "encode feed frame", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[userID] {
		select {
		case s.frames <- frame:
		default:
			h.log.Warn(context.Background(), "feed subscriber too slow, disconnecting", "user", userID, "device", s.deviceID)
			h.removeLocked(userID, s)
		}
	}
}

func (h *Hub) subscribe(userID, deviceID string) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	s := &subscriber{deviceID: deviceID, frames: make(chan []byte, subscriberBuffer)}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][s] = struct{}{}
	h.metrics.FeedConnected(1)
	return s, true
}

func (h *Hub) unsubscribe(userID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(userID, s)
}

func (h *Hub) removeLocked(userID string, s *subscriber) {
	set, ok := h.subs[userID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, userID)
	}
	close(s.frames)
	h.metrics.FeedConnected(-1)
}

// Count returns the number of open subscriptions of userID.
func (h *Hub) Count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for userID, set := range h.subs {
		for s := range set {
			h.removeLocked(userID, s)
		}
	}
}

// Serve upgrades the request and streams the user's frames until the
// client goes away, the subscriber is dropped or the hub closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "feed upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	s, ok := h.subscribe(userID, deviceID)
	if !ok {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unsubscribe(userID, s)

	// Clients never send; CloseRead handles control frames and cancels
	// ctx once the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	h.log.Info(ctx, "feed subscriber connected", "user", userID, "device", deviceID)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.frames:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				h.log.Warn(ctx, "feed write failed", "user", userID, "err", err)
				return
			}
		}
	}
}
