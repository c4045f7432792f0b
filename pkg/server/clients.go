package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/antibyte/flail/pkg/configuration"
	"github.com/antibyte/flail/pkg/logger"
)

var (
	ErrTooManyClients    = errors.New("too many simulator connections")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

func getMaxClients() int {
	return configuration.GetInt("Network", "max_clients", 100)
}

func getRateLimit() int {
	return configuration.GetInt("Network", "rate_limit_per_min", 200)
}

// rateWindow counts the requests of one address in the current minute.
type rateWindow struct {
	requests  int
	lastReset time.Time
}

// clientManager tracks simulator connections by session and limits the
// request rate per remote address.
type clientManager struct {
	clients    map[string]*client
	rateLimits map[string]*rateWindow
	maxClients int
	perMinute  int
	now        func() time.Time
	mu         sync.Mutex
}

func newClientManager(maxClients, perMinute int) *clientManager {
	return &clientManager{
		clients:    make(map[string]*client),
		rateLimits: make(map[string]*rateWindow),
		maxClients: maxClients,
		perMinute:  perMinute,
		now:        time.Now,
	}
}

// add registers c under its session. A second connection for the same
// session replaces the first, which is closed.
func (cm *clientManager) add(c *client) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	old, exists := cm.clients[c.session]
	if !exists && cm.maxClients > 0 && len(cm.clients) >= cm.maxClients {
		return ErrTooManyClients
	}
	cm.clients[c.session] = c
	gaugeSimulators.Set(float64(len(cm.clients)))
	if exists && old != c {
		logger.WebSocketInfo("Session %s reconnected, closing previous connection", c.session)
		old.conn.Close()
	}
	return nil
}

// remove drops c if it is still the registered connection of its session.
func (cm *clientManager) remove(c *client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.clients[c.session] == c {
		delete(cm.clients, c.session)
		gaugeSimulators.Set(float64(len(cm.clients)))
	}
}

func (cm *clientManager) count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.clients)
}

// allow counts one request from addr and reports whether it is within the
// per-minute limit. A limit of zero disables the check.
func (cm *clientManager) allow(addr string) error {
	if cm.perMinute <= 0 {
		return nil
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := cm.now()
	window, exists := cm.rateLimits[addr]
	if !exists || now.Sub(window.lastReset) > time.Minute {
		window = &rateWindow{lastReset: now}
		cm.rateLimits[addr] = window
	}
	window.requests++
	if window.requests > cm.perMinute {
		if window.requests == cm.perMinute+1 {
			logger.SecurityWarn("Rate limit exceeded for %s", addr)
		}
		return fmt.Errorf("%w: more than %d requests per minute from %s", ErrRateLimitExceeded, cm.perMinute, addr)
	}
	return nil
}

// limit wraps next with the per-address rate check.
func (cm *clientManager) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cm.allow(remoteHost(r)); err != nil {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: err.Error()})
			return
		}
		next(w, r)
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
