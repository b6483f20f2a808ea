package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/roomline/roomline/internal/model"
	logger "github.com/roomline/roomline/middleware/log"
)

// Update is one push to viewers: the full reconciled list of a room.
// The UI re-renders from it on every mutation.
type Update struct {
	TopicID  string          `json:"topic_id"`
	Messages []model.Message `json:"messages"`
}

// Hub tracks connected viewers per room and fans reconciled list
// updates out to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Room id -> clients viewing it.
	rooms map[string]map[*Client]bool

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Update

	log *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Update),
		log:        log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if _, ok := h.rooms[client.topicID]; !ok {
				h.rooms[client.topicID] = make(map[*Client]bool)
			}
			h.rooms[client.topicID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				if room, ok := h.rooms[client.topicID]; ok {
					delete(room, client)
					if len(room) == 0 {
						delete(h.rooms, client.topicID)
					}
				}
			}
			h.mu.Unlock()

		case update := <-h.broadcast:
			h.mu.RLock()
			for client := range h.rooms[update.TopicID] {
				select {
				case client.send <- update:
				default:
					// Send buffer full; the client is too slow and the
					// next unregister will clean it up.
					h.log.Warn("dropping update for slow viewer",
						zap.String("topic_id", update.TopicID))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast pushes a room's reconciled list to all of its viewers.
func (h *Hub) Broadcast(topicID string, messages []model.Message) {
	h.broadcast <- &Update{TopicID: topicID, Messages: messages}
}
