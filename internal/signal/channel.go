// Package signal maintains the websocket presence channel to the signaling
// server. It announces the local user, decodes inbound frames into typed
// events, and relays outbound call, chat and SDP/ICE messages.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/proto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrChannelUnavailable is returned by Send after the channel has closed or
// the connection was lost. Callers treat it as "peer unreachable".
var ErrChannelUnavailable = errors.New("signal: channel unavailable")

// Channel is a client connection to the signaling server. Create with New,
// dial with Connect, consume decoded frames from Events. The channel does
// not reconnect; when Done closes, the owner builds a fresh Channel.
type Channel struct {
	url  string
	self proto.User

	conn *websocket.Conn
	send chan []byte

	events chan proto.Event
	done   chan struct{}

	mu        sync.Mutex
	connected bool
	closed    bool
}

func New(serverURL string, self proto.User) *Channel {
	return &Channel{
		url:    serverURL,
		self:   self,
		send:   make(chan []byte, 256),
		events: make(chan proto.Event, 64),
		done:   make(chan struct{}),
	}
}

// Connect dials the server, announces the local user with user:connect and
// starts the read and write pumps. The context bounds the dial only.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelUnavailable
	}
	if c.connected {
		return fmt.Errorf("signal: already connected")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("signal: dial %s: %w", c.url, err)
	}
	c.conn = conn
	c.connected = true

	go c.writePump()
	go c.readPump()

	frame, err := proto.Encode(proto.KindUserConnect, c.self)
	if err != nil {
		return err
	}
	c.send <- frame

	log.Info().Str("url", c.url).Str("user", c.self.ID).Msg("signal: connected")
	return nil
}

// Events delivers decoded inbound frames. The channel is closed when the
// connection is lost or Close is called.
func (c *Channel) Events() <-chan proto.Event {
	return c.events
}

// Done closes when the channel is no longer usable.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Send encodes and queues an outbound frame.
func (c *Channel) Send(kind string, payload any) error {
	c.mu.Lock()
	ok := c.connected && !c.closed
	c.mu.Unlock()
	if !ok {
		return ErrChannelUnavailable
	}

	frame, err := proto.Encode(kind, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrChannelUnavailable
	}
}

// Refresh asks the server to resend the online roster.
func (c *Channel) Refresh() error {
	return c.Send(proto.KindUserRefresh, c.self)
}

// Close shuts the channel down. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	} else {
		// never connected; nothing will close events for us
		close(c.events)
	}
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("signal: write")
				}
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Channel) readPump() {
	defer func() {
		c.conn.Close()
		c.markLost()
		close(c.events)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("signal: read")
			}
			return
		}

		evt, err := proto.DecodeEvent(raw)
		if err != nil {
			log.Warn().Err(err).Msg("signal: dropping frame")
			continue
		}

		select {
		case c.events <- evt:
		default:
			log.Warn().Str("kind", evt.Kind).Msg("signal: event buffer full, dropping")
		}
	}
}

// markLost flips the channel into the unavailable state after connection
// loss, closing done unless Close already did.
func (c *Channel) markLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
