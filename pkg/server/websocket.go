package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/antibyte/flail/pkg/auth"
	"github.com/antibyte/flail/pkg/configuration"
	"github.com/antibyte/flail/pkg/logger"

	"github.com/gorilla/websocket"
)

// WebSocket settings are read from the [Network] section.
func getWriteWait() time.Duration {
	return configuration.GetDuration("Network", "write_wait_timeout", 10*time.Second)
}

func getPongWait() time.Duration {
	return configuration.GetDuration("Network", "pong_timeout", 60*time.Second)
}

func getPingPeriod() time.Duration {
	return (getPongWait() * 9) / 10
}

func getMaxMessageSize() int64 {
	return int64(configuration.GetInt("Network", "max_message_size_kb", 64) * 1024)
}

func getMaxChannelBuffer() int {
	return configuration.GetInt("Network", "max_channel_buffer", 64)
}

// Message types of the simulator channel
const (
	MessageCompile = "compile"
	MessageProgram = "program"
	MessageError   = "error"
	MessagePing    = "ping"
	MessagePong    = "pong"
)

// Request is a message sent by a simulator client.
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Script string `json:"script,omitempty"`
}

// Response is a message sent to a simulator client.
type Response struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	Program *CompileResponse `json:"program,omitempty"`
	Error   *ErrorResponse   `json:"error,omitempty"`
}

// client is one simulator connection.
type client struct {
	server   *Server
	conn     *websocket.Conn
	send     chan []byte
	addr     string
	operator string
	session  string
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WebSocketError("Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	c := &client{
		server:   s,
		conn:     conn,
		send:     make(chan []byte, getMaxChannelBuffer()),
		addr:     remoteHost(r),
		operator: auth.OperatorFromContext(r.Context()),
		session:  auth.SessionIDFromContext(r.Context()),
	}
	if err := s.clients.add(c); err != nil {
		logger.WebSocketError("Rejecting %s: %v", conn.RemoteAddr(), err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(getWriteWait()))
		conn.Close()
		return
	}
	logger.WebSocketInfo("Simulator connected: %s (operator %s, session %s)", conn.RemoteAddr(), c.operator, c.session)

	go c.writePump()
	c.readPump()
}

// readPump handles incoming requests until the connection fails. Requests
// are served one after another, each with its own compiler.
func (c *client) readPump() {
	defer func() {
		c.server.clients.remove(c)
		close(c.send)
		logger.WebSocketInfo("Simulator disconnected: %s", c.conn.RemoteAddr())
	}()

	c.conn.SetReadLimit(getMaxMessageSize())
	c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.WebSocketError("Unexpected close for %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		logger.WebSocketDebug("Message from %s: %d bytes", c.conn.RemoteAddr(), len(message))

		c.queue(c.handle(message))
	}
}

func (c *client) handle(message []byte) Response {
	var req Request
	if err := json.Unmarshal(message, &req); err != nil {
		return Response{Type: MessageError, Error: &ErrorResponse{Error: "invalid JSON message"}}
	}

	switch req.Type {
	case MessagePing:
		return Response{Type: MessagePong, ID: req.ID}
	case MessageCompile:
		if err := c.server.clients.allow(c.addr); err != nil {
			return Response{Type: MessageError, ID: req.ID, Error: &ErrorResponse{Error: err.Error()}}
		}
		ctx, cancel := context.WithTimeout(context.Background(), getWriteWait())
		defer cancel()
		resp, err := c.server.Compile(ctx, []byte(req.Script), c.operator)
		if err != nil {
			e := errorResponse(err)
			return Response{Type: MessageError, ID: req.ID, Error: &e}
		}
		return Response{Type: MessageProgram, ID: req.ID, Program: resp}
	default:
		return Response{Type: MessageError, ID: req.ID, Error: &ErrorResponse{Error: "unknown message type " + req.Type}}
	}
}

// queue hands a response to the write pump. A client that stops reading
// loses messages instead of blocking the read loop.
func (c *client) queue(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.WebSocketError("Encoding response failed: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		logger.WebSocketError("Send buffer full for %s, dropping %s message", c.conn.RemoteAddr(), resp.Type)
	}
}

// writePump writes queued responses and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(getPingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.WebSocketError("Write to %s failed: %v", c.conn.RemoteAddr(), err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.WebSocketError("Failed to send ping to %s: %v", c.conn.RemoteAddr(), err)
				return
			}
		}
	}
}
