package sionet

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// A public ID, sent to the client at the beginning of the Socket.IO session
// and usable for private messaging.
type SocketID string

type Room string

// AdapterCreator builds the room-membership backend of a namespace.
// The in-memory adapter is the default; a distributed backend plugs in
// here.
type AdapterCreator func(namespace *Namespace) Adapter

// Adapter tracks which sockets joined which rooms within one namespace.
type Adapter interface {
	ServerCount() int
	Close()

	AddAll(sid SocketID, rooms []Room)
	Delete(sid SocketID, room Room)
	DeleteAll(sid SocketID)

	// The return value 'sids' is a thread safe mapset.Set.
	Sockets(rooms mapset.Set[Room]) (sids mapset.Set[SocketID])
	// The return value 'rooms' is a thread safe mapset.Set.
	SocketRooms(sid SocketID) (rooms mapset.Set[Room], ok bool)
}
