// Package handlers is the protocol gateway: it owns the websocket side of
// every connection, demultiplexes inbound frames, and keeps the registry in
// sync with connection lifecycle.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/driftpost/driftpost/config"
	"github.com/driftpost/driftpost/models"
	"github.com/driftpost/driftpost/registry"
	"github.com/driftpost/driftpost/relay"
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// session is one participant connection. All writes to the websocket go
// through a single buffered channel drained by writePump, so events reach the
// client in enqueue order and Send never blocks a caller.
type session struct {
	conn      *websocket.Conn
	out       chan any
	pings     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	writeWait time.Duration
}

func newSession(conn *websocket.Conn, bufferSize int, writeWait time.Duration) *session {
	return &session{
		conn:      conn,
		out:       make(chan any, bufferSize),
		pings:     make(chan struct{}, 1),
		done:      make(chan struct{}),
		writeWait: writeWait,
	}
}

// Send enqueues one event. A full buffer means the client stopped draining
// the connection; report it as dead rather than block the caller.
func (s *session) Send(v any) error {
	select {
	case <-s.done:
		return errConnClosed
	default:
	}
	select {
	case s.out <- v:
		return nil
	case <-s.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

// Ping enqueues a liveness probe. One pending probe is enough; extras are
// dropped.
func (s *session) Ping() error {
	select {
	case <-s.done:
		return errConnClosed
	default:
	}
	select {
	case s.pings <- struct{}{}:
	default:
	}
	return nil
}

// Close tears the connection down and releases writePump. Idempotent:
// eviction, delivery failure, and the read loop can all close the same
// session.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump is the only goroutine that writes to the websocket.
func (s *session) writePump() {
	for {
		select {
		case v := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteJSON(v); err != nil {
				log.Printf("WebSocket write error: %v", err)
				s.Close()
				return
			}
		case <-s.pings:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("WebSocket ping error: %v", err)
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Gateway accepts websocket connections and wires them into the registry and
// the relay.
type Gateway struct {
	cfg *config.Config
	reg *registry.Registry
	svc *relay.Service
}

func NewGateway(cfg *config.Config, reg *registry.Registry, svc *relay.Service) *Gateway {
	return &Gateway{cfg: cfg, reg: reg, svc: svc}
}

// Handle manages the lifecycle of one websocket connection: the connected
// ack, the join/letter demux loop, and registry cleanup on the way out. It
// blocks until the connection dies.
func (g *Gateway) Handle(c *websocket.Conn) {
	sess := newSession(c, g.cfg.SendBuffer, g.cfg.WriteWait)
	joinedID := ""

	defer func() {
		sess.Close()
		if joinedID != "" && g.reg.Unregister(joinedID) {
			log.Printf("Participant %s disconnected", joinedID)
			g.svc.BroadcastOnlineCount()
		}
	}()

	go sess.writePump()

	if err := sess.Send(models.NewConnectedEvent()); err != nil {
		return
	}

	if g.cfg.MaxMessageSize > 0 {
		c.SetReadLimit(g.cfg.MaxMessageSize)
	}
	c.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		if joinedID != "" {
			g.reg.Confirm(joinedID)
		}
		return nil
	})

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
		c.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		if joinedID != "" {
			// Inbound traffic is as good as a pong.
			g.reg.Confirm(joinedID)
		}

		var msg models.Inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			sess.Send(models.NewErrorEvent("Could not parse message."))
			continue
		}

		switch msg.Type {
		case models.TypeJoin:
			if joinedID != "" {
				sess.Send(models.NewErrorEvent("Already joined."))
				continue
			}
			if msg.Name == "" {
				sess.Send(models.NewErrorEvent("A name is required to join."))
				continue
			}
			joinedID = g.reg.Register(msg.Name, sess)
			log.Printf("Participant %s joined as %q", joinedID, msg.Name)
			sess.Send(models.NewJoinedEvent(joinedID, g.reg.Count()))
			g.svc.BroadcastOnlineCount()

		case models.TypeLetter:
			if joinedID == "" {
				sess.Send(models.NewErrorEvent("Join before sending letters."))
				continue
			}
			if msg.Content == "" {
				sess.Send(models.NewErrorEvent("Letter content is empty."))
				continue
			}
			if _, err := g.svc.RouteLetter(joinedID, msg.Content); err != nil {
				if errors.Is(err, relay.ErrNoRecipients) {
					sess.Send(models.NewErrorEvent("No online users available to receive your letter."))
				} else {
					log.Printf("Failed to route letter from %s: %v", joinedID, err)
					sess.Send(models.NewErrorEvent("Could not deliver your letter."))
				}
			}

		default:
			sess.Send(models.NewErrorEvent("Unknown message type."))
		}
	}
}
