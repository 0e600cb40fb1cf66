package terminal

import (
	"net"
	"net/http"
	"strings"

	"github.com/antibyte/emojivm/pkg/configuration"
	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/store"
	"github.com/antibyte/emojivm/pkg/validator"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler nimmt Visualizer-Verbindungen an. Jede Verbindung bekommt eine
// eigene Session mit Machine und Debugger.
type Handler struct {
	upgrader websocket.Upgrader
	clients  *ClientManager
	store    *store.Store // optional
}

// NewHandler erstellt den Handler. st may be nil; then programs are parsed
// on every load and runs are not persisted.
func NewHandler(st *store.Store) *Handler {
	return &Handler{
		store:   st,
		clients: NewClientManager(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  configuration.GetInt("WebSocket", "read_buffer_size", 4096),
			WriteBufferSize: configuration.GetInt("WebSocket", "write_buffer_size", 16384),
			CheckOrigin:     checkOrigin,
		},
	}
}

// checkOrigin lässt nur konfigurierte Origins zu
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logger.SecurityWarn("websocket request without Origin header rejected")
		return false
	}
	allowed := configuration.GetString("Server", "allowed_origins", "http://localhost:8080,http://127.0.0.1:8080")
	for _, o := range strings.Split(allowed, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	logger.SecurityWarn("websocket request from disallowed origin rejected: %s", origin)
	return false
}

// clientIP bevorzugt X-Forwarded-For hinter einem Proxy
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Clients returns the number of connected visualizers.
func (h *Handler) Clients() int {
	return h.clients.Count()
}

// HandleWebSocket verarbeitet eingehende WebSocket-Verbindungen
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ipAddress := clientIP(r)

	if h.clients.Full() {
		logger.SecurityWarn("client limit reached, rejecting %s", ipAddress)
		http.Error(w, "Server overloaded", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WebSocketError("upgrade failed for %s: %v", ipAddress, err)
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, getMaxChannelBuffer()),
		handler:   h,
		sessionID: uuid.NewString(),
		ipAddress: ipAddress,
		json:      validator.NewJSONValidator(),
		shutdown:  make(chan struct{}),
	}
	if err := h.clients.AddClient(client.sessionID, client); err != nil {
		logger.SecurityWarn("rejecting %s: %v", ipAddress, err)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}
	client.session = NewSession(h.store, client.Send)
	logger.WebSocketInfo("session %s opened from %s", client.sessionID, ipAddress)

	go client.writePump()
	client.Send(shared.Message{Type: shared.MessageTypeSession, Content: client.sessionID})
	go client.readPump()
}

// cleanupClient beendet Session und Schreib-Goroutine
func (h *Handler) cleanupClient(c *Client) {
	h.clients.RemoveClient(c.sessionID)
	c.stop()
	c.session.Close()
	logger.WebSocketInfo("session %s closed", c.sessionID)
}
