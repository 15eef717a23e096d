// Package realtime broadcasts order events to websocket subscribers:
// per-order rooms for customers tracking a single order, plus a staff
// channel that receives every event. Delivery is best-effort, at most once.
package realtime

import (
	"encoding/json"
	"sync"

	"tableside/internal/models"
	"tableside/internal/util"

	"go.uber.org/zap"
)

// Hub routes events to subscribed clients.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[int64]map[*Client]struct{}
	staff  map[*Client]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[int64]map[*Client]struct{}),
		staff:  make(map[*Client]struct{}),
		logger: util.GetLogger(),
	}
}

func (h *Hub) joinOrder(orderID int64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[orderID] == nil {
		h.rooms[orderID] = make(map[*Client]struct{})
	}
	h.rooms[orderID][c] = struct{}{}
	util.WebsocketConnections.Inc()
}

func (h *Hub) joinStaff(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staff[c] = struct{}{}
	util.WebsocketConnections.Inc()
}

// leave removes a client from whatever it subscribed to. Called on
// disconnect; subscribers never unsubscribe explicitly.
func (h *Hub) leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.staff {
		if _, ok := h.staff[c]; ok {
			delete(h.staff, c)
			util.WebsocketConnections.Dec()
		}
		return
	}
	if room, ok := h.rooms[c.orderID]; ok {
		if _, ok := room[c]; ok {
			delete(room, c)
			util.WebsocketConnections.Dec()
		}
		if len(room) == 0 {
			delete(h.rooms, c.orderID)
		}
	}
}

// NotifyOrderCreated pushes a new-order alert to the staff channel.
func (h *Hub) NotifyOrderCreated(event *models.OrderCreatedEvent) {
	h.broadcast(event.OrderID, event, false)
}

// NotifyStatusChanged pushes a transition to the order's room and to staff.
func (h *Hub) NotifyStatusChanged(event *models.OrderStatusChangedEvent) {
	h.broadcast(event.OrderID, event, true)
}

func (h *Hub) broadcast(orderID int64, event interface{}, toRoom bool) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal realtime event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.staff {
		c.trySend(payload)
	}
	if !toRoom {
		return
	}
	for c := range h.rooms[orderID] {
		c.trySend(payload)
	}
}
