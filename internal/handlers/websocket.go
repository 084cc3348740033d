package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/classlive/classroom-rtc/internal/middleware"
	"github.com/classlive/classroom-rtc/internal/protocol"
	"github.com/classlive/classroom-rtc/internal/registry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Generous because SDP bodies
	// with many ICE candidates can run to tens of kilobytes.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by the OriginFilter middleware.
		return true
	},
}

// Client is one websocket connection to the signaling endpoint. It implements
// registry.Session. The participant identity lives in the registry record;
// the client only knows its transport session id.
type Client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan *protocol.Envelope
	relay     *Relay

	closeOnce sync.Once
}

// ID returns the transport session identifier.
func (c *Client) ID() string { return c.sessionID }

// Deliver queues an outbound envelope without blocking. Messages to a client
// whose buffer is full are dropped; signaling is best-effort and the peer
// connection layer recovers via renegotiation.
func (c *Client) Deliver(env *protocol.Envelope) {
	select {
	case c.send <- env:
	default:
		slog.Warn("send buffer full, dropping message", "session", c.sessionID, "type", env.Type)
	}
}

// Close tears the connection down. The read pump then exits and runs the
// shared disconnect cleanup, which is a no-op if the session was already
// unregistered (explicit leave or displacement).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// HandleSignaling upgrades the connection and runs the signaling session.
// The join token is passed via the "token" query parameter because browsers
// cannot set headers on websocket dials. When a token is present its claims
// override the client-supplied name and role at join time; requireToken
// rejects tokenless connections and is enabled in production.
func HandleSignaling(relay *Relay, jwtSecret string, requireToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var claims *middleware.Claims
		token := c.Query("token")
		if token == "" && requireToken {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
			return
		}
		if token != "" {
			var err error
			claims, err = middleware.ParseToken(token, jwtSecret)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade connection", "error", err)
			return
		}

		client := &Client{
			sessionID: uuid.New().String(),
			conn:      conn,
			send:      make(chan *protocol.Envelope, sendBufferSize),
			relay:     relay,
		}

		slog.Info("session connected", "session", client.sessionID, "remote", conn.RemoteAddr())

		go client.writePump()
		go client.readPump(claims)
	}
}

// readPump reads inbound envelopes and dispatches them to the relay. It is
// the only reader on the connection, and all relay handling for this session
// happens on this goroutine, so inbound messages are processed in order.
func (c *Client) readPump(claims *middleware.Claims) {
	defer func() {
		c.relay.Disconnect(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var joined *registry.Participant
	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "session", c.sessionID, "error", err)
			}
			return
		}

		switch env.Type {
		case protocol.TypeJoinRoom:
			joined = c.relay.Join(c, &env, claims)
		case protocol.TypeLeaveRoom:
			c.relay.Disconnect(c)
			joined = nil
		default:
			if joined == nil {
				slog.Warn("message before join, dropping", "session", c.sessionID, "type", env.Type)
				continue
			}
			c.relay.Dispatch(joined, &env)
		}
	}
}

// writePump writes queued envelopes and keeps the connection alive with
// pings. It is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				slog.Warn("websocket write error", "session", c.sessionID, "error", err)
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
