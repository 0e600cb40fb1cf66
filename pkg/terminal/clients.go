package terminal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antibyte/emojivm/pkg/configuration"
	"github.com/antibyte/emojivm/pkg/logger"
)

var (
	ErrTooManyClients = errors.New("too many clients")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

// rateWindow zählt Kommandos pro IP innerhalb einer Minute
type rateWindow struct {
	requests  int
	lastReset time.Time
}

// ClientManager verwaltet Client-Verbindungen mit Session-IDs
type ClientManager struct {
	clients    map[string]*Client     // sessionID -> Client
	rateLimits map[string]*rateWindow // ipAddress -> Zähler
	maxClients int
	perMinute  int
	now        func() time.Time
	mu         sync.RWMutex
}

// NewClientManager liest die Grenzen aus der [WebSocket] Sektion
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients:    make(map[string]*Client),
		rateLimits: make(map[string]*rateWindow),
		maxClients: configuration.GetInt("WebSocket", "max_clients", 100),
		perMinute:  configuration.GetInt("WebSocket", "max_commands_per_minute", 600),
		now:        time.Now,
	}
}

// AddClient registriert einen Client. Ist das Limit erreicht, wird er abgewiesen.
func (cm *ClientManager) AddClient(sessionID string, client *Client) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if len(cm.clients) >= cm.maxClients {
		return fmt.Errorf("%w: %d connected", ErrTooManyClients, len(cm.clients))
	}
	cm.clients[sessionID] = client
	logger.WebSocketDebug("client added for session %s (%d total)", sessionID, len(cm.clients))
	return nil
}

// RemoveClient entfernt einen Client
func (cm *ClientManager) RemoveClient(sessionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, exists := cm.clients[sessionID]; exists {
		delete(cm.clients, sessionID)
		logger.WebSocketDebug("client removed for session %s", sessionID)
	}
}

// GetClient liefert den Client einer Session
func (cm *ClientManager) GetClient(sessionID string) (*Client, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.clients[sessionID]
	return c, ok
}

// Count gibt die Anzahl verbundener Clients zurück
func (cm *ClientManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// Full reports whether another connection would be rejected.
func (cm *ClientManager) Full() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients) >= cm.maxClients
}

// CheckRateLimit prüft das Rate-Limiting für eine IP-Adresse
func (cm *ClientManager) CheckRateLimit(ipAddress string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := cm.now()
	w, exists := cm.rateLimits[ipAddress]
	if !exists {
		w = &rateWindow{lastReset: now}
		cm.rateLimits[ipAddress] = w
	}

	// Reset Zähler wenn mehr als eine Minute vergangen ist
	if now.Sub(w.lastReset) > time.Minute {
		w.requests = 0
		w.lastReset = now
	}
	w.requests++
	if w.requests > cm.perMinute {
		if w.requests == cm.perMinute+1 {
			logger.SecurityWarn("rate limit exceeded for %s: %d commands in last minute", ipAddress, w.requests)
		}
		return fmt.Errorf("%w: too many commands from %s", ErrRateLimited, ipAddress)
	}
	return nil
}
