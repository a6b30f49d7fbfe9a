package streams

import (
	"sync"
)

// Register is a single slot mailbox holding the newest packet of a stream.
// Writers never block: a packet that was not taken before the next one
// arrives is overwritten and counted as dropped.
type Register struct {
	mutex    sync.Mutex
	packet   Packet
	pending  bool
	received uint64
	drops    uint64
}

// Put stores a packet, replacing the pending one if any.
func (r *Register) Put(p Packet) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.pending {
		r.drops++
	}
	r.packet = p
	r.pending = true
	r.received++
}

// Take returns the pending packet and empties the register. It returns false
// when no packet arrived since the previous call.
func (r *Register) Take() (Packet, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.pending {
		return Packet{}, false
	}

	p := r.packet
	r.packet = Packet{}
	r.pending = false
	return p, true
}

// Received returns the number of packets put in the register.
func (r *Register) Received() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.received
}

// Drops returns the number of packets overwritten before being taken.
func (r *Register) Drops() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.drops
}
