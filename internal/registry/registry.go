// Package registry maps connection identifiers to the (at most two)
// endpoints currently associated with them. It is the relay's only shared
// mutable state; every operation is atomic under a single mutex.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/drop/internal/util"
)

// MaxMembers is the number of endpoints a session can hold.
const MaxMembers = 2

var (
	// ErrCollision is returned when an explicit session id is requested for
	// registration but that session already holds MaxMembers endpoints.
	ErrCollision = errors.New("session id already in use")

	// ErrSessionFull is returned when a third distinct endpoint tries to join.
	ErrSessionFull = errors.New("session is full")
)

// Role is the part an endpoint plays within its session.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleJoiner    Role = "joiner"
)

// Endpoint is anything with a stable identifier for the connection's lifetime.
type Endpoint interface {
	ID() string
}

// Member is one endpoint's slot in a session.
type Member[E Endpoint] struct {
	Endpoint E
	Role     Role
}

type session[E Endpoint] struct {
	members []Member[E] // insertion order, len <= MaxMembers
}

func (s *session[E]) indexOf(id string) int {
	for i, m := range s.members {
		if m.Endpoint.ID() == id {
			return i
		}
	}
	return -1
}

// Registry is the session table. The zero value is not usable; use New.
type Registry[E Endpoint] struct {
	mu       sync.Mutex
	sessions map[string]*session[E]
	index    map[string]string // endpoint id -> session id
	newID    func() string
}

// New creates an empty registry.
func New[E Endpoint]() *Registry[E] {
	return &Registry[E]{
		sessions: make(map[string]*session[E]),
		index:    make(map[string]string),
		newID:    util.NewConnectionID,
	}
}

// CreateSession resolves the session id used for a registration. With an
// empty id a fresh id not held by any live session is generated. An explicit
// id naming an existing session is accepted unless that session is full.
// The session itself comes into existence with its first member (AddMember),
// so the table never holds an empty session.
func (r *Registry[E]) CreateSession(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		for {
			id = r.newID()
			if _, taken := r.sessions[id]; !taken {
				return id, nil
			}
		}
	}

	if s, ok := r.sessions[id]; ok && len(s.members) >= MaxMembers {
		return "", fmt.Errorf("%w: %s", ErrCollision, id)
	}
	return id, nil
}

// Departure reports a session an endpoint left and the members still in it.
type Departure[E Endpoint] struct {
	SessionID string
	Remaining []Member[E]
}

// AddMember inserts ep into the session, creating the session on demand.
// Adding an endpoint that is already a member is a no-op. An endpoint that
// belongs to a different session is moved out of it first.
func (r *Registry[E]) AddMember(sessionID string, ep E, role Role) error {
	_, _, err := r.Enter(sessionID, ep, role)
	return err
}

// Enter is AddMember that also reports the session ep was moved out of, so
// the caller can notify the members left behind. moved is false when ep was
// not a member elsewhere.
func (r *Registry[E]) Enter(sessionID string, ep E, role Role) (left Departure[E], moved bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &session[E]{}
		r.sessions[sessionID] = s
	}

	if s.indexOf(ep.ID()) >= 0 {
		return Departure[E]{}, false, nil
	}

	if len(s.members) >= MaxMembers {
		return Departure[E]{}, false, fmt.Errorf("%w: %s", ErrSessionFull, sessionID)
	}

	if prev, ok := r.index[ep.ID()]; ok && prev != sessionID {
		left = Departure[E]{SessionID: prev, Remaining: r.removeLocked(ep.ID())}
		moved = true
	}

	s.members = append(s.members, Member[E]{Endpoint: ep, Role: role})
	r.index[ep.ID()] = sessionID
	return left, moved, nil
}

// RemoveMember removes ep from whichever session holds it and deletes the
// session if it became empty. It returns the session id and the members that
// remain, so the caller can notify them. ok is false if ep was not a member.
func (r *Registry[E]) RemoveMember(ep E) (sessionID string, remaining []Member[E], ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok = r.index[ep.ID()]
	if !ok {
		return "", nil, false
	}
	remaining = r.removeLocked(ep.ID())
	return sessionID, remaining, true
}

func (r *Registry[E]) removeLocked(endpointID string) []Member[E] {
	sessionID := r.index[endpointID]
	delete(r.index, endpointID)

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	if i := s.indexOf(endpointID); i >= 0 {
		s.members = append(s.members[:i], s.members[i+1:]...)
	}
	if len(s.members) == 0 {
		delete(r.sessions, sessionID)
		return nil
	}
	return append([]Member[E](nil), s.members...)
}

// MembersExcept returns a snapshot of the session's endpoints other than ep.
func (r *Registry[E]) MembersExcept(sessionID string, ep E) []E {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}

	out := make([]E, 0, len(s.members))
	for _, m := range s.members {
		if m.Endpoint.ID() != ep.ID() {
			out = append(out, m.Endpoint)
		}
	}
	return out
}

// Members returns a snapshot of the session's members in insertion order.
func (r *Registry[E]) Members(sessionID string) []Member[E] {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]Member[E](nil), s.members...)
}

// SessionOf returns the id of the session ep belongs to.
func (r *Registry[E]) SessionOf(ep E) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.index[ep.ID()]
	return id, ok
}

// Len returns the number of live sessions.
func (r *Registry[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
