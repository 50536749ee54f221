package ws

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/doodledock/backend/internal/auth"
	"github.com/manpreetbhatti/doodledock/backend/internal/models"
)

// Authenticator resolves the user behind an upgrade request.
type Authenticator interface {
	AuthenticateRequest(r *http.Request) (*models.User, error)
}

type HandlerConfig struct {
	// AllowedOrigins lists permitted Origin hosts. Empty allows any origin.
	AllowedOrigins []string
	SendBuffer     int
	MaxMessageSize int64
}

// Handler authenticates and upgrades websocket connections. Requests that
// fail authentication are refused before the upgrade.
type Handler struct {
	hub      *Hub
	auth     Authenticator
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, authenticator Authenticator, cfg HandlerConfig) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}

	h := &Handler{hub: hub, auth: authenticator, cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, u.Host) || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.AuthenticateRequest(r)
	if err != nil {
		reason := auth.Reason(err)
		h.hub.metrics.AuthRejected(reason)
		h.hub.logger.Warn("websocket authentication failed", "remote", r.RemoteAddr, "reason", reason, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	transport := newConnTransport(conn, h.cfg.SendBuffer)
	client := newClient(h.hub, transport, user)

	go transport.writePump()
	if !h.hub.Register(client) {
		transport.Close()
		return
	}
	go client.readPump(conn, h.cfg.MaxMessageSize)
}
