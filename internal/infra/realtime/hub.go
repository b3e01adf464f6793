package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/bryanwahyu/vendor-compliance/internal/domain/progress"
)

// Conn is one live subscriber transport.
type Conn interface {
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// ConnID is the opaque handle returned by Connect.
type ConnID string

type member struct {
	id        ConnID
	sessionID string
	conn      Conn
}

// Gauge tracks the number of open connections. Nil is allowed.
type Gauge interface {
	Set(float64)
}

// Hub registers connections per session and fans events out to them.
// Sends to a session with no connections are dropped.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[ConnID]*member
	byID     map[ConnID]*member

	logger *log.Logger
	gauge  Gauge
}

func NewHub(logger *log.Logger, gauge Gauge) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		sessions: make(map[string]map[ConnID]*member),
		byID:     make(map[ConnID]*member),
		logger:   logger,
		gauge:    gauge,
	}
}

// Connect registers conn under sessionID and returns its handle.
func (h *Hub) Connect(conn Conn, sessionID string) ConnID {
	m := &member{id: ConnID(uuid.NewString()), sessionID: sessionID, conn: conn}
	h.mu.Lock()
	set, ok := h.sessions[sessionID]
	if !ok {
		set = make(map[ConnID]*member)
		h.sessions[sessionID] = set
	}
	set[m.id] = m
	h.byID[m.id] = m
	n := len(h.byID)
	h.mu.Unlock()

	h.setGauge(n)
	h.logger.Printf("session_id=%s conn_id=%s msg=ws connected total=%d", sessionID, m.id, n)
	return m.id
}

// Disconnect removes id and drops the session entry once it is empty.
func (h *Hub) Disconnect(id ConnID) {
	h.mu.Lock()
	m, ok := h.removeLocked(id)
	n := len(h.byID)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = m.conn.Close()
	h.setGauge(n)
	h.logger.Printf("session_id=%s conn_id=%s msg=ws disconnected total=%d", m.sessionID, id, n)
}

func (h *Hub) removeLocked(id ConnID) (*member, bool) {
	m, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	delete(h.byID, id)
	if set, ok := h.sessions[m.sessionID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(h.sessions, m.sessionID)
		}
	}
	return m, true
}

// SendToSession writes ev to every connection of sessionID. Connections that
// fail are pruned; the caller never sees delivery errors.
func (h *Hub) SendToSession(ctx context.Context, sessionID string, ev progress.Event) {
	h.mu.RLock()
	set := h.sessions[sessionID]
	targets := make([]*member, 0, len(set))
	for _, m := range set {
		targets = append(targets, m)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}
	h.deliver(ctx, targets, ev)
}

// SendToConnection is the single-target variant of SendToSession.
func (h *Hub) SendToConnection(ctx context.Context, id ConnID, ev progress.Event) {
	h.mu.RLock()
	m, ok := h.byID[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(ctx, []*member{m}, ev)
}

// Broadcast writes ev to every open connection.
func (h *Hub) Broadcast(ctx context.Context, ev progress.Event) {
	h.mu.RLock()
	targets := make([]*member, 0, len(h.byID))
	for _, m := range h.byID {
		targets = append(targets, m)
	}
	h.mu.RUnlock()
	h.deliver(ctx, targets, ev)
}

func (h *Hub) deliver(ctx context.Context, targets []*member, ev progress.Event) {
	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("event=%s msg=marshal event failed err=%v", ev.EventType, err)
		return
	}
	// The sender's cancellation says nothing about the sockets; each write is
	// bounded by the connection's own deadline.
	wctx := context.WithoutCancel(ctx)
	var failed []*member
	for _, m := range targets {
		if err := m.conn.WriteMessage(wctx, data); err != nil {
			failed = append(failed, m)
		}
	}
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	var pruned []*member
	for _, m := range failed {
		if _, ok := h.removeLocked(m.id); ok {
			pruned = append(pruned, m)
		}
	}
	n := len(h.byID)
	h.mu.Unlock()

	for _, m := range pruned {
		_ = m.conn.Close()
		h.logger.Printf("session_id=%s conn_id=%s msg=ws pruned after write failure", m.sessionID, m.id)
	}
	h.setGauge(n)
}

func (h *Hub) SessionConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

func (h *Hub) setGauge(n int) {
	if h.gauge != nil {
		h.gauge.Set(float64(n))
	}
}
