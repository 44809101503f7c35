package session

import (
	"sync"
	"time"
)

// Registry is the Session Registry (C8): a pool of idle implicit sessions,
// minted lazily and reused across operations, grounded on the teacher's
// addSession helper's assumption of a ready Session on every call
// (x/mongo/driverx/driver.go).
type Registry struct {
	// sessionTimeout is the minimum reported logical-session timeout across
	// the deployment's data-bearing members (description.Topology's
	// SessionTimeoutMinutes); CheckOut discards an idle session that has
	// been unused for this long less one minute, instead of reusing it.
	sessionTimeout time.Duration

	mu   sync.Mutex
	idle []*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry(sessionTimeout time.Duration) *Registry {
	return &Registry{sessionTimeout: sessionTimeout}
}

// SetSessionTimeout updates the idle bound as the topology's reported
// minimum changes.
func (r *Registry) SetSessionTimeout(d time.Duration) {
	r.mu.Lock()
	r.sessionTimeout = d
	r.mu.Unlock()
}

// CheckOut returns an idle session from the pool, or mints a fresh one if
// none is idle or fit for reuse (spec.md §4.5 "Session checkout").
func (r *Registry) CheckOut() *Session {
	now := time.Now()

	r.mu.Lock()
	var found *Session
	for len(r.idle) > 0 {
		s := r.idle[len(r.idle)-1]
		r.idle = r.idle[:len(r.idle)-1]
		if r.sessionTimeout > 0 && s.idleSince(now) >= r.sessionTimeout-time.Minute {
			// Within a minute of the server's own timeout: don't risk a
			// "session not found" roundtrip, just let it be garbage
			// collected and mint a fresh one.
			continue
		}
		found = s
		break
	}
	r.mu.Unlock()

	if found != nil {
		found.touch(now)
		return found
	}
	return r.startImplicit(now)
}

func (r *Registry) startImplicit(now time.Time) *Session {
	s := &Session{id: newID(), lastUsed: now}
	return s
}

// CheckIn returns an implicit session to the idle pool. Explicit sessions
// (from StartSession) are never checked in here; the caller owns their
// lifetime and calls EndSession directly.
func (r *Registry) CheckIn(s *Session) {
	if s == nil || s.explicit {
		return
	}
	r.mu.Lock()
	r.idle = append(r.idle, s)
	r.mu.Unlock()
}

// StartSession mints an explicit session the caller is responsible for
// ending; it never participates in the idle pool.
func (r *Registry) StartSession() *Session {
	return &Session{id: newID(), lastUsed: time.Now(), explicit: true}
}

// EndSession is a no-op placeholder for symmetry with StartSession: an
// explicit session carries no server-side resource beyond its lsid, so
// ending it is purely "stop using this value" from the caller's side.
func (r *Registry) EndSession(s *Session) {}
