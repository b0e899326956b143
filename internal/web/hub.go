// Package web serves the run archive over HTTP and streams live records to
// websocket subscribers while a run is in flight.
package web

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/driftlab/driftlab/internal/domain"
	"github.com/driftlab/driftlab/internal/ports"
	"github.com/driftlab/driftlab/pkg/log"
)

// clientSendBuffer is the per-client outbound queue. A subscriber that falls
// this far behind the record stream is dropped rather than backpressuring
// the simulation.
const clientSendBuffer = 256

// Hub fans messages out to connected websocket clients. All client
// bookkeeping happens on the Run goroutine; handlers only touch the
// channels.
type Hub struct {
	logger     log.Logger
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]struct{}
	done       chan struct{}
}

// NewHub returns a hub ready for Run.
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Hub{
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, clientSendBuffer),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run dispatches registrations and broadcasts until ctx is canceled. Call it
// on its own goroutine before serving /ws.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug("websocket client connected", log.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("websocket client disconnected", log.Int("clients", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("dropping slow websocket client")
				}
			}
		}
	}
}

// Broadcast marshals v and queues it for every subscriber. It never blocks;
// when the dispatch loop is backed up the message is dropped. The live
// stream is a view, the jsonl and sqlite sinks stay authoritative.
func (h *Hub) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal broadcast", log.Err(err))
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}

// RecordSink returns a sink that broadcasts every record to subscribers.
// Close is a no-op; the hub outlives individual runs.
func (h *Hub) RecordSink() ports.RecordSink {
	return hubSink{h}
}

type hubSink struct {
	h *Hub
}

func (s hubSink) Append(rec domain.Record) error {
	s.h.Broadcast(rec)
	return nil
}

func (s hubSink) Close() error { return nil }

// client is one websocket subscriber.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// writePump drains the send channel to the connection. It exits when the
// hub closes the channel or the peer goes away.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards inbound frames until the peer disconnects, then
// unregisters. The stream is one-way; reading is only for close detection.
func (c *client) readPump() {
	defer c.conn.Close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}
