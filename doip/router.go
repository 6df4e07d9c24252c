package doip

import (
	"fmt"
	"net"
	"sync"
)

// discoveryReply pairs a decoded Vehicle Announcement with the address it
// arrived from, the unit the correlation registry actually dispatches.
type discoveryReply struct {
	from net.Addr
	msg  VehicleAnnouncement
}

// discoveryRegistry dispatches incoming vehicle announcements to whichever
// in-flight VehicleIdentify call is waiting for them, keyed by the request's
// own identity. Adapted from the reference Router, which performed the same
// job for diagnostic indications keyed by address; here every concurrent
// discovery request gets its own channel regardless of source address,
// since UDP vehicle identification has no notion of a pinned peer until the
// first reply arrives.
type discoveryRegistry struct {
	mu   sync.Mutex
	subs map[uint64]chan *discoveryReply
	next uint64
}

func newDiscoveryRegistry() *discoveryRegistry {
	return &discoveryRegistry{subs: make(map[uint64]chan *discoveryReply)}
}

// subscribe registers a new listener and returns its id, receive channel,
// and an unsubscribe func the caller must invoke exactly once when done.
func (r *discoveryRegistry) subscribe() (uint64, <-chan *discoveryReply, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	ch := make(chan *discoveryReply, 8)
	r.subs[id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			close(c)
			delete(r.subs, id)
		}
	}
	return id, ch, cancel
}

// dispatch fans reply out to every active subscriber. Slow subscribers do
// not block the reader: a full channel just drops the duplicate, matching
// the reference Router's non-blocking send.
func (r *discoveryRegistry) dispatch(reply *discoveryReply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- reply:
		default:
		}
	}
}

// closeAll tears the registry down, e.g. when the owning UDP socket closes.
func (r *discoveryRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}

func (r *discoveryRegistry) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("discoveryRegistry{%d subscribers}", len(r.subs))
}
