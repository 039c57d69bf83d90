// Package guard rejects duplicate in-flight actions and orders responses so
// that only the newest request of a channel may apply its result.
package guard

import (
	"errors"
	"sync"
)

var (
	// ErrInFlight is returned by Begin while the same key is still running.
	ErrInFlight = errors.New("action already in flight")
	// ErrClosed is returned once the owner has been torn down.
	ErrClosed = errors.New("guard closed")
)

// Ticket identifies one request on a channel.
type Ticket struct {
	Channel string
	Seq     uint64
}

// Guard is safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	seq      map[string]uint64
	closed   bool
}

func New() *Guard {
	return &Guard{
		inFlight: make(map[string]struct{}),
		seq:      make(map[string]uint64),
	}
}

// Begin marks key as running. The returned func releases it and is safe to
// call more than once. A second Begin for a running key fails; it never queues.
func (g *Guard) Begin(key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrClosed
	}
	if _, busy := g.inFlight[key]; busy {
		return nil, ErrInFlight
	}
	g.inFlight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, key)
			g.mu.Unlock()
		})
	}, nil
}

// InFlight reports whether key is currently running.
func (g *Guard) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inFlight[key]
	return busy
}

// Busy reports whether any key is running.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight) > 0
}

// Next issues a ticket that supersedes every earlier ticket of channel.
func (g *Guard) Next(channel string) Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq[channel]++
	return Ticket{Channel: channel, Seq: g.seq[channel]}
}

// Current reports whether t is still the newest ticket of its channel and the
// guard is alive.
func (g *Guard) Current(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed && g.seq[t.Channel] == t.Seq
}

// Alive reports whether Close has not been called.
func (g *Guard) Alive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed
}

// Close flips the liveness flag; afterwards no ticket is current.
func (g *Guard) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
