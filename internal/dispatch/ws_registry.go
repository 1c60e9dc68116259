package dispatch

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }

// Message is the envelope written to trip subscribers.
type Message struct {
	Type string `json:"type"` // snapshot | notification
	Data any    `json:"data"`
}

// WSSession represents one connected passenger view
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *WSSession) Close() error { return s.conn.Close() }

// WSRegistry holds passenger sessions per trip.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[string]map[*WSSession]struct{})}
}

func (r *WSRegistry) Add(tripID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[tripID] == nil {
		r.sessions[tripID] = make(map[*WSSession]struct{})
	}
	r.sessions[tripID][s] = struct{}{}
	return s
}

func (r *WSRegistry) Remove(tripID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.sessions[tripID]
	delete(set, s)
	if len(set) == 0 {
		delete(r.sessions, tripID)
	}
}

func (r *WSRegistry) Count(tripID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[tripID])
}

// Send writes v to every session of tripID. Sessions that fail are dropped.
func (r *WSRegistry) Send(tripID string, v any) error {
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions[tripID]))
	for s := range r.sessions[tripID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNoSession
	}
	var firstErr error
	for _, s := range targets {
		if err := s.Send(v); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			r.Remove(tripID, s)
			_ = s.Close()
		}
	}
	return firstErr
}

func (r *WSRegistry) Name() string { return "websocket" }

func (r *WSRegistry) Deliver(_ context.Context, req Request) error {
	return r.Send(req.TripID, Message{Type: "notification", Data: req})
}
