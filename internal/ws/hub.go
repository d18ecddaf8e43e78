package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"SportRelay/entity"
)

// Event is one monitoring record pushed to connected dashboard clients.
type Event struct {
	Type string         `json:"type"` // submission_created, photo_added, submission_sent, submission_failed
	Data submissionView `json:"data"`
}

// submissionView is the trimmed projection broadcast over the socket; the
// raw answers stay out of the monitoring stream.
type submissionView struct {
	Id         string            `json:"id"`
	UserId     int64             `json:"user_id"`
	Kind       entity.Kind       `json:"kind"`
	Status     entity.Status     `json:"status"`
	FailReason entity.FailReason `json:"fail_reason,omitempty"`
	Photos     int               `json:"photos"`
	Attempts   int               `json:"attempts"`
}

// Hub maintains the set of connected monitor clients and fans events out
// to them. Slow clients are dropped rather than allowed to block the rest.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// Run starts the hub's event loop. Should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastSubmission pushes a submission lifecycle event to all connected
// monitor clients. Never blocks the caller: a full hub queue drops the
// event.
func (h *Hub) BroadcastSubmission(event string, sub *entity.Submission) {
	e := &Event{
		Type: event,
		Data: submissionView{
			Id:         sub.Id,
			UserId:     sub.UserId,
			Kind:       sub.Kind,
			Status:     sub.Status,
			FailReason: sub.FailReason,
			Photos:     len(sub.Photos),
			Attempts:   sub.Attempts,
		},
	}
	select {
	case h.broadcast <- e:
	default:
		if h.log != nil {
			h.log.Debug("monitor queue full, event dropped", slog.String("type", event))
		}
	}
}
