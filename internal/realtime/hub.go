// Package realtime pushes confirmed events to connected clients,
// scoped to workspace/channel rooms. This path is best-effort: no ack,
// no retry, no redelivery. A client that misses a push catches up
// through history pagination, not through this stream.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/metrics"
	"github.com/relaychat/relay/internal/util"
)

// Event is one push frame. Type is the colon form of the event type
// ("channel:created").
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Session is one connected client. Events arrive on a buffered
// channel; when the buffer is full the push is dropped and counted.
type Session struct {
	ID     string
	UserID string

	ch    chan Event
	rooms []string
}

func (s *Session) Events() <-chan Event { return s.ch }

type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Session]struct{}
	buffer int
	log    *zap.Logger
}

func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		rooms:  make(map[string]map[*Session]struct{}),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe registers a session in every given room.
func (h *Hub) Subscribe(userID string, rooms []string) *Session {
	s := &Session{
		ID:     util.NewULID(),
		UserID: userID,
		ch:     make(chan Event, h.buffer),
		rooms:  rooms,
	}

	h.mu.Lock()
	for _, r := range rooms {
		m, ok := h.rooms[r]
		if !ok {
			m = make(map[*Session]struct{})
			h.rooms[r] = m
		}
		m[s] = struct{}{}
	}
	h.mu.Unlock()

	metrics.RealtimeSessions.Inc()
	return s
}

func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	for _, r := range s.rooms {
		if m, ok := h.rooms[r]; ok {
			delete(m, s)
			if len(m) == 0 {
				delete(h.rooms, r)
			}
		}
	}
	h.mu.Unlock()

	metrics.RealtimeSessions.Dec()
}

// Broadcast sends ev to every session in room. A session with a full
// buffer is skipped; dropping beats blocking the consumer loop behind
// one slow client.
func (h *Hub) Broadcast(room string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.rooms[room] {
		select {
		case s.ch <- ev:
		default:
			metrics.RealtimeDroppedTotal.Inc()
			h.log.Debug("realtime push dropped",
				zap.String("session", s.ID),
				zap.String("room", room),
			)
		}
	}
}
