package sionet

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sionet/sionet/internal/sync"
)

// inMemoryAdapter is the default single-server room registry. The inner
// sets are thread-unsafe on purpose; the adapter mutex is the only
// synchronization point.
type inMemoryAdapter struct {
	mu    sync.Mutex
	rooms map[Room]mapset.Set[SocketID]
	sids  map[SocketID]mapset.Set[Room]

	namespace *Namespace
}

func newInMemoryAdapter(namespace *Namespace) Adapter {
	return &inMemoryAdapter{
		rooms:     make(map[Room]mapset.Set[SocketID]),
		sids:      make(map[SocketID]mapset.Set[Room]),
		namespace: namespace,
	}
}

func (a *inMemoryAdapter) ServerCount() int { return 1 }

func (a *inMemoryAdapter) Close() {}

func (a *inMemoryAdapter) AddAll(sid SocketID, rooms []Room) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sids[sid]
	if !ok {
		s = mapset.NewThreadUnsafeSet[Room]()
		a.sids[sid] = s
	}

	for _, room := range rooms {
		s.Add(room)

		r, ok := a.rooms[room]
		if !ok {
			r = mapset.NewThreadUnsafeSet[SocketID]()
			a.rooms[room] = r
		}
		r.Add(sid)
	}
}

func (a *inMemoryAdapter) Delete(sid SocketID, room Room) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sids[sid]
	if ok {
		s.Remove(room)
	}
	a.delete(sid, room)
}

func (a *inMemoryAdapter) delete(sid SocketID, room Room) {
	r, ok := a.rooms[room]
	if ok {
		r.Remove(sid)
		if r.Cardinality() == 0 {
			delete(a.rooms, room)
		}
	}
}

func (a *inMemoryAdapter) DeleteAll(sid SocketID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sids[sid]
	if !ok {
		return
	}

	s.Each(func(room Room) bool {
		a.delete(sid, room)
		return false
	})

	delete(a.sids, sid)
}

func (a *inMemoryAdapter) Sockets(rooms mapset.Set[Room]) (sids mapset.Set[SocketID]) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sids = mapset.NewSet[SocketID]()

	if rooms == nil || rooms.Cardinality() == 0 {
		for sid := range a.sids {
			sids.Add(sid)
		}
		return
	}

	rooms.Each(func(room Room) bool {
		r, ok := a.rooms[room]
		if !ok {
			return false
		}
		r.Each(func(sid SocketID) bool {
			sids.Add(sid)
			return false
		})
		return false
	})
	return
}

func (a *inMemoryAdapter) SocketRooms(sid SocketID) (rooms mapset.Set[Room], ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sids[sid]
	if !ok {
		return nil, false
	}

	rooms = mapset.NewSet[Room]()
	s.Each(func(room Room) bool {
		rooms.Add(room)
		return false
	})
	return rooms, true
}
