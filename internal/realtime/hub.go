// Package realtime fans committed changes out to staff dashboards over
// WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/premiumcollect/premiumcollect/internal/auth"
	"github.com/premiumcollect/premiumcollect/internal/logger"
	"github.com/premiumcollect/premiumcollect/internal/metrics"
)

// TokenVerifier validates the staff token sent in the auth message.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// Relay carries envelopes between API instances.
type Relay interface {
	Start(ctx context.Context, deliver func(channel string, msg []byte)) error
	Send(channel string, msg []byte)
	Close() error
}

// Envelope is the wire shape of every published event.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// ClientInfo describes one authenticated session.
type ClientInfo struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	ConnectedAt   time.Time `json:"connected_at"`
	Subscriptions []string  `json:"subscriptions"`
}

// Hub maintains live sessions and their channel subscriptions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	verifier TokenVerifier
	relay    Relay
	log      *zap.Logger
	now      func() time.Time
	closed   bool
}

// NewHub creates a hub that authenticates sessions with verifier.
func NewHub(verifier TokenVerifier) *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		verifier: verifier,
		log:      logger.Named("realtime"),
		now:      time.Now,
	}
}

// UseRelay starts relay and forwards everything it receives to local
// sessions. Local publishes are sent to the relay from then on.
func (h *Hub) UseRelay(ctx context.Context, relay Relay) error {
	if err := relay.Start(ctx, h.deliver); err != nil {
		return err
	}
	h.mu.Lock()
	h.relay = relay
	h.mu.Unlock()
	return nil
}

// Publish sends {type, data, timestamp} to every authenticated session
// subscribed to channel, or to all authenticated sessions when channel is
// empty. It never blocks: a session whose buffer is full is dropped.
func (h *Hub) Publish(eventType string, payload interface{}, channel string) {
	msg, err := json.Marshal(Envelope{
		Type:      eventType,
		Data:      payload,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}

	h.deliver(channel, msg)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		relay.Send(channel, msg)
	}
}

func (h *Hub) deliver(channel string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.sessions {
		if !s.receives(channel) {
			continue
		}
		select {
		case s.send <- msg:
		default:
			h.log.Warn("dropping slow websocket session", zap.String("session", s.id))
			metrics.WSDropped.Inc()
			h.removeLocked(s)
		}
	}
}

// ConnectedClients lists authenticated sessions.
func (h *Hub) ConnectedClients() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ClientInfo, 0, len(h.sessions))
	for s := range h.sessions {
		if s.claims == nil {
			continue
		}
		subs := make([]string, 0, len(s.subscriptions))
		for ch := range s.subscriptions {
			subs = append(subs, ch)
		}
		sort.Strings(subs)
		out = append(out, ClientInfo{
			ID:            s.id,
			UserID:        s.claims.UserID,
			Email:         s.claims.Email,
			Role:          string(s.claims.Role),
			ConnectedAt:   s.connectedAt,
			Subscriptions: subs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// SessionCount reports every open session, authenticated or not.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close disconnects every session and stops the relay.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for s := range h.sessions {
		h.removeLocked(s)
	}
	relay := h.relay
	h.relay = nil
	h.mu.Unlock()

	if relay != nil {
		return relay.Close()
	}
	return nil
}

func (h *Hub) register(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	metrics.WSSessions.Inc()
	h.log.Debug("🔌 websocket session opened", zap.String("session", s.id), zap.Int("total", len(h.sessions)))
	return true
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

// removeLocked closes the session's send channel exactly once; the write
// pump then sends a close frame and exits.
func (h *Hub) removeLocked(s *Session) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	close(s.send)
	metrics.WSSessions.Dec()
	h.log.Debug("websocket session closed", zap.String("session", s.id), zap.Int("total", len(h.sessions)))
}

// reply queues a direct response to one session, dropping it when the
// session is gone or its buffer is full.
func (h *Hub) reply(s *Session, v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	select {
	case s.send <- msg:
	default:
	}
}

// inbound is a client control message.
type inbound struct {
	Type    string `json:"type"`
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

type control struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// handleMessage applies one control message from a session.
func (h *Hub) handleMessage(s *Session, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		h.reply(s, control{Type: "error", Message: "Invalid message format"})
		return
	}

	switch in.Type {
	case "auth":
		h.authenticate(s, in.Token)
	case "subscribe", "unsubscribe":
		if !h.isAuthenticated(s) {
			h.reply(s, control{Type: "error", Message: "Authentication required"})
			return
		}
		if in.Channel == "" {
			h.reply(s, control{Type: "error", Message: "channel is required"})
			return
		}
		h.mu.Lock()
		if in.Type == "subscribe" {
			s.subscriptions[in.Channel] = struct{}{}
		} else {
			delete(s.subscriptions, in.Channel)
		}
		h.mu.Unlock()
		h.reply(s, control{Type: in.Type + "d", Channel: in.Channel})
	case "ping":
		h.reply(s, control{Type: "pong"})
	default:
		h.reply(s, control{Type: "error", Message: "Unknown message type"})
	}
}

func (h *Hub) authenticate(s *Session, token string) {
	if token == "" {
		h.reply(s, control{Type: "auth_error", Message: "Token required"})
		return
	}
	claims, err := h.verifier.VerifyToken(token)
	if err != nil {
		h.reply(s, control{Type: "auth_error", Message: "Invalid token"})
		return
	}

	h.mu.Lock()
	s.claims = claims
	h.mu.Unlock()

	h.log.Info("✅ websocket session authenticated",
		zap.String("session", s.id), zap.String("email", claims.Email))
	h.reply(s, control{Type: "auth_success", Message: "Authenticated successfully"})
}

func (h *Hub) isAuthenticated(s *Session) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return s.claims != nil
}
