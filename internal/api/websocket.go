package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openhalo/halo-bridge/internal/bridge"
	"github.com/openhalo/halo-bridge/internal/infrastructure/config"
	"github.com/openhalo/halo-bridge/internal/infrastructure/logging"
)

// defaultSendBufferSize is the per-device outbound envelope buffer when
// config leaves it unset.
const defaultSendBufferSize = 256

// errChannelClosed is returned by Send on a torn-down channel.
var errChannelClosed = errors.New("api: device channel closed")

// errSendBufferFull is returned when the device is too slow to drain
// its outbound buffer.
var errSendBufferFull = errors.New("api: device send buffer full")

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// deviceChannel is one device's WebSocket connection wrapped as a
// bridge.Channel. Envelopes are queued on a buffered channel and
// written by a single writer goroutine, so concurrent Send calls never
// interleave writes on the socket.
type deviceChannel struct {
	deviceID string
	conn     *websocket.Conn
	send     chan bridge.Envelope
	logger   *logging.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Send implements bridge.Channel. It never blocks: a full buffer means
// the device has stopped draining and the message is refused.
func (c *deviceChannel) Send(env bridge.Envelope) error {
	select {
	case <-c.closed:
		return errChannelClosed
	default:
	}

	select {
	case c.send <- env:
		return nil
	case <-c.closed:
		return errChannelClosed
	default:
		return errSendBufferFull
	}
}

// shutdown marks the channel closed. The write pump drains out and
// closes the socket; safe to call from any goroutine, repeatedly.
func (c *deviceChannel) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// handleDeviceChannel upgrades the HTTP connection to the persistent
// device channel. Authentication is via single-use ticket (obtained
// from POST /auth/ws-ticket), which also tells us which device is
// connecting.
func (s *Server) handleDeviceChannel(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	deviceID, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	bufSize := s.wsCfg.SendBufferSize
	if bufSize <= 0 {
		bufSize = defaultSendBufferSize
	}

	ch := &deviceChannel{
		deviceID: deviceID,
		conn:     conn,
		send:     make(chan bridge.Envelope, bufSize),
		logger:   s.logger,
		closed:   make(chan struct{}),
	}

	// Registering may replace a previous channel for this device; the
	// old connection's teardown becomes a stale unregister and is
	// ignored by the registry.
	s.bridge.Connect(deviceID, ch, r.UserAgent())

	go ch.writePump(s.wsCfg)
	go s.readPump(ch)
}

// readPump reads envelopes from the device until the connection drops,
// dispatching each into the bridge. Runs once per connection.
func (s *Server) readPump(c *deviceChannel) {
	defer func() {
		c.shutdown()
		// Stale-guarded: a no-op when a newer connection already
		// replaced this one.
		s.bridge.Disconnect(c.deviceID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("device channel read error", "device_id", c.deviceID, "error", err)
			} else {
				s.logger.Debug("device channel closed", "device_id", c.deviceID, "error", err)
			}
			return
		}
		// Any device message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		var env bridge.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.logger.Warn("malformed envelope from device",
				"device_id", c.deviceID,
				"error", err,
			)
			continue
		}

		ack, replyable := s.bridge.HandleEnvelope(context.Background(), c.deviceID, env)
		if !replyable {
			continue
		}

		payload, err := json.Marshal(ack)
		if err != nil {
			continue
		}
		if err := c.Send(bridge.Envelope{
			Type:     bridge.TypeAck,
			ID:       env.ID,
			DeviceID: c.deviceID,
			Payload:  payload,
		}); err != nil {
			s.logger.Debug("ack not delivered", "device_id", c.deviceID, "error", err)
		}
	}
}

// writePump serialises outbound envelopes onto the socket and keeps the
// connection alive with protocol pings. Runs once per connection.
func (c *deviceChannel) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			data, err := json.Marshal(env)
			if err != nil {
				c.logger.Error("marshalling envelope failed",
					"device_id", c.deviceID,
					"type", env.Type,
					"error", err,
				)
				continue
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.closed:
			//nolint:errcheck // Best-effort close message
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}
