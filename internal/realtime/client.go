package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// conn is the slice of *websocket.Conn the client uses; tests substitute a
// fake.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Client is one websocket subscriber.
type Client struct {
	hub     *Hub
	conn    conn
	send    chan []byte
	orderID int64
	staff   bool
}

// ServeOrder upgrades the request and subscribes it to one order's room.
func (h *Hub) ServeOrder(w http.ResponseWriter, r *http.Request, orderID int64) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{hub: h, conn: ws, send: make(chan []byte, sendBuffer), orderID: orderID}
	h.joinOrder(orderID, c)
	go c.writePump()
	go c.readPump()
	return nil
}

// ServeStaff upgrades the request and subscribes it to the staff channel.
func (h *Hub) ServeStaff(w http.ResponseWriter, r *http.Request) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{hub: h, conn: ws, send: make(chan []byte, sendBuffer), staff: true}
	h.joinStaff(c)
	go c.writePump()
	go c.readPump()
	return nil
}

// trySend queues a payload without blocking; a slow consumer just misses
// the event.
func (c *Client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("Websocket closed", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
