package terminal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/antibyte/emojivm/pkg/configuration"
	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/validator"
	"github.com/gorilla/websocket"
)

var newline = []byte{'\n'}

// getWriteWait liest das Schreib-Timeout aus der Konfiguration
func getWriteWait() time.Duration {
	return configuration.GetDuration("WebSocket", "write_wait_timeout", 10*time.Second)
}

// getPongWait liest das Pong-Timeout aus der Konfiguration
func getPongWait() time.Duration {
	return configuration.GetDuration("WebSocket", "pong_timeout", 60*time.Second)
}

// getPingPeriod muss kleiner als pongWait sein
func getPingPeriod() time.Duration {
	return (getPongWait() * 9) / 10
}

func getMaxMessageSize() int64 {
	return int64(configuration.GetInt("WebSocket", "max_message_size_kb", 64)) * 1024
}

func getMaxChannelBuffer() int {
	return configuration.GetInt("WebSocket", "max_channel_buffer", 1024)
}

// Client ist eine WebSocket-Verbindung mit ihrer Debug-Session
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	handler   *Handler
	session   *Session
	sessionID string
	ipAddress string
	json      *validator.JSONValidator
	shutdown  chan struct{}
	stopOnce  sync.Once
}

// stop signals both pumps and every blocked Send to give up.
func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.shutdown) })
}

// Send queues messages in order. It blocks while the buffer is full and
// gives up once the client is shutting down.
func (c *Client) Send(msgs ...shared.Message) bool {
	for _, msg := range msgs {
		msg.SessionID = c.sessionID
		data, err := json.Marshal(msg)
		if err != nil {
			logger.WebSocketError("marshal message for %s: %v", c.sessionID, err)
			continue
		}
		select {
		case c.send <- data:
		case <-c.shutdown:
			return false
		}
	}
	return true
}

// readPump liest Kommandos vom WebSocket und gibt sie an die Session weiter
func (c *Client) readPump() {
	defer c.handler.cleanupClient(c)

	c.conn.SetReadLimit(getMaxMessageSize())
	c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				logger.WebSocketWarn("unexpected close for session %s: %v", c.sessionID, err)
			} else {
				logger.WebSocketDebug("connection closed for session %s: %v", c.sessionID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if err := c.handler.clients.CheckRateLimit(c.ipAddress); err != nil {
			c.Send(shared.Message{Type: shared.MessageTypeError, Content: err.Error()})
			continue
		}
		if err := c.json.ValidateJSON(message); err != nil {
			logger.SecurityWarn("rejected frame from %s: %v", c.ipAddress, err)
			c.Send(shared.Message{Type: shared.MessageTypeError, Content: err.Error()})
			continue
		}
		var cmd shared.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.Send(shared.Message{Type: shared.MessageTypeError, Content: "malformed command: " + err.Error()})
			continue
		}
		logger.WebSocketDebug("session %s: %s", c.sessionID, cmd.Action)
		c.session.Dispatch(cmd)
	}
}

// writePump schreibt gepufferte Nachrichten und sendet Pings
func (c *Client) writePump() {
	ticker := time.NewTicker(getPingPeriod())
	defer func() {
		ticker.Stop()
		c.stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Bereits wartende Nachrichten im selben Frame mitschicken
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.WebSocketWarn("ping to session %s failed: %v", c.sessionID, err)
				return
			}
		case <-c.shutdown:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
