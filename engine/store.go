package engine

import "github.com/sionet/sionet/internal/sync"

// sessionStore maps session id to session. Together with connStore these
// are the only globally shared mutable maps; everything else is per-session
// state guarded by the session itself.
type sessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*Session),
	}
}

func (s *sessionStore) Get(sid string) (session *Session, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok = s.sessions[sid]
	return
}

func (s *sessionStore) Set(sid string, session *Session) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sid]; exists {
		return false
	}
	s.sessions[sid] = session
	return true
}

func (s *sessionStore) Delete(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sid)
}

func (s *sessionStore) Exists(sid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.sessions[sid]
	return exists
}

func (s *sessionStore) GetAll() (sessions []*Session) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return
}

func (s *sessionStore) CloseAll() {
	for _, session := range s.GetAll() {
		session.Close()
	}
}

// connStore maps a physical connection identity to its session, so an
// inbound request or a transport-close event finds the owning session
// without the connection carrying a back-pointer.
type connStore struct {
	conns map[uint64]*Session
	mu    sync.RWMutex
}

func newConnStore() *connStore {
	return &connStore{
		conns: make(map[uint64]*Session),
	}
}

func (s *connStore) Get(connID uint64) (session *Session, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok = s.conns[connID]
	return
}

func (s *connStore) Set(connID uint64, session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[connID] = session
}

// Evict removes a stale connection binding, preventing delivery to a
// replaced socket.
func (s *connStore) Evict(connID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connID)
}
