package ws

import (
	"encoding/json"
	"sync"
	"time"

	"rank-tracker-service/models"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// ProgressHub manages websocket connections subscribed to run progress and
// broadcasts progress updates to them.
type ProgressHub struct {
	clients    map[*Client]bool
	broadcast  chan models.RunProgress
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	stopChan   chan struct{}
}

// Client represents one websocket subscriber, watching a single run.
type Client struct {
	hub   *ProgressHub
	conn  *websocket.Conn
	send  chan []byte
	runID int64
}

// NewProgressHub creates a new progress hub
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan models.RunProgress, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
	}
}

// Start starts the hub loop
func (h *ProgressHub) Start() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Infof("Websocket client registered for run %d", client.runID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			log.Infof("Websocket client unregistered for run %d", client.runID)

		case progress := <-h.broadcast:
			payload, err := json.Marshal(progress)
			if err != nil {
				log.Errorf("Failed to serialize progress message: %v", err)
				continue
			}
			h.mutex.Lock()
			for client := range h.clients {
				if client.runID != progress.RunID {
					continue
				}
				select {
				case client.send <- payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()

		case <-h.stopChan:
			h.mutex.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return
		}
	}
}

// Stop stops the hub loop and disconnects all clients
func (h *ProgressHub) Stop() {
	close(h.stopChan)
}

// BroadcastProgress queues a progress update for delivery to the run's
// subscribers. Non-blocking; slow consumers are dropped, pollers can always
// re-fetch the snapshot.
func (h *ProgressHub) BroadcastProgress(progress models.RunProgress) {
	select {
	case h.broadcast <- progress:
	default:
		log.Warnf("Progress broadcast queue full, dropping update for run %d", progress.RunID)
	}
}

// RegisterClient attaches a websocket connection as a subscriber of a run.
func (h *ProgressHub) RegisterClient(conn *websocket.Conn, runID int64) {
	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, 16),
		runID: runID,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
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

// readPump drains and discards client messages so pongs and closes are
// processed.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
