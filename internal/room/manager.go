package room

import (
	"errors"
	"sort"
	"sync"

	"realtime-service/internal/metrics"
)

var (
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrClosed              = errors.New("room manager closed")
)

// Sink delivers encoded frames to one connection. Send must not block; it
// reports false when the frame was dropped.
type Sink interface {
	Send(msg []byte) bool
	Close() error
}

type member struct {
	id    string
	sink  Sink
	rooms map[string]struct{}
}

// Manager owns the connection -> rooms membership table. One coarse lock
// guards both directions of the relation; relay fan-out happens outside it.
type Manager struct {
	mu     sync.RWMutex
	conns  map[string]*member
	rooms  map[string]map[string]*member
	closed bool
}

func NewManager() *Manager {
	return &Manager{
		conns: make(map[string]*member),
		rooms: make(map[string]map[string]*member),
	}
}

// Connect registers a connection with no memberships.
func (m *Manager) Connect(connID string, sink Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.conns[connID]; ok {
		return ErrDuplicateConnection
	}
	m.conns[connID] = &member{id: connID, sink: sink, rooms: make(map[string]struct{})}
	metrics.Connections.Set(float64(len(m.conns)))
	return nil
}

// Join adds (connID, postID). Joining twice is the same as joining once and
// the room is created on first use without checking that the post exists.
func (m *Manager) Join(connID, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	mb.rooms[postID] = struct{}{}
	members, ok := m.rooms[postID]
	if !ok {
		members = make(map[string]*member)
		m.rooms[postID] = members
	}
	members[connID] = mb
	metrics.Rooms.Set(float64(len(m.rooms)))
	return nil
}

func (m *Manager) Leave(connID, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	delete(mb.rooms, postID)
	m.removeLocked(postID, connID)
	metrics.Rooms.Set(float64(len(m.rooms)))
	return nil
}

func (m *Manager) removeLocked(postID, connID string) {
	members, ok := m.rooms[postID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(m.rooms, postID)
	}
}

type Delivery struct {
	Delivered int
	Dropped   int
}

// Relay hands msg to every member of room postID except the connection
// except. Delivery is best effort: a full sink drops the frame and nothing
// is retried. Relaying to an empty room is a no-op.
func (m *Manager) Relay(postID string, msg []byte, except string) Delivery {
	m.mu.RLock()
	members := m.rooms[postID]
	orphan := len(members) == 0
	targets := make([]Sink, 0, len(members))
	for id, mb := range members {
		if id == except {
			continue
		}
		targets = append(targets, mb.sink)
	}
	m.mu.RUnlock()

	var d Delivery
	if orphan {
		metrics.Relays.WithLabelValues("orphan").Inc()
		return d
	}
	for _, s := range targets {
		if s.Send(msg) {
			d.Delivered++
		} else {
			d.Dropped++
		}
	}
	metrics.Relays.WithLabelValues("delivered").Add(float64(d.Delivered))
	metrics.Relays.WithLabelValues("dropped").Add(float64(d.Dropped))
	return d
}

// Disconnect removes the connection and every membership it held. It
// returns the number of rooms the connection was in; unknown ids are a no-op.
func (m *Manager) Disconnect(connID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.conns[connID]
	if !ok {
		return 0
	}
	for postID := range mb.rooms {
		m.removeLocked(postID, connID)
	}
	delete(m.conns, connID)
	metrics.Connections.Set(float64(len(m.conns)))
	metrics.Rooms.Set(float64(len(m.rooms)))
	return len(mb.rooms)
}

// Rooms lists the posts a connection has joined, sorted.
func (m *Manager) Rooms(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mb, ok := m.conns[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(mb.rooms))
	for id := range mb.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Members lists the connections in a room, sorted.
func (m *Manager) Members(postID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.rooms[postID]))
	for id := range m.rooms[postID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Memberships int `json:"memberships"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Connections: len(m.conns), Rooms: len(m.rooms)}
	for _, members := range m.rooms {
		s.Memberships += len(members)
	}
	return s
}

// Close drops every connection and closes their sinks. Later Connect calls
// fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sinks := make([]Sink, 0, len(m.conns))
	for _, mb := range m.conns {
		sinks = append(sinks, mb.sink)
	}
	m.conns = make(map[string]*member)
	m.rooms = make(map[string]map[string]*member)
	metrics.Connections.Set(0)
	metrics.Rooms.Set(0)
	m.mu.Unlock()

	for _, s := range sinks {
		_ = s.Close()
	}
}
