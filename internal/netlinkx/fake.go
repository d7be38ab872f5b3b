package netlinkx

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/kuuji/defaultconfd/internal/gwerr"
)

var errFakeStreamClosed = errors.New("fake stream closed")

// fakeReadTimeout is how long a fake stream waits for a pushed event
// before reporting *gwerr.Timeout, the same contract the real Linux and
// BSD backends give callers via DefaultReadTimeout. It is far shorter
// than DefaultReadTimeout so tests exercising the buffer-then-replay
// drain loop do not pay a full second per run.
const fakeReadTimeout = 10 * time.Millisecond

// Fake is an in-memory Client used by tests for the selector, the
// reconciler, and the supervisor: it records route mutations and
// serves dumps from caller-populated slices without touching a real
// socket. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	Links  []LinkRecord
	Addrs  []AddrRecord
	Routes []RouteRecord

	// LinkIndex resolves LinkNameToIndex by name; a missing entry
	// reports *gwerr.NotFound.
	LinkIndex map[string]int

	// AddErr/DeleteErr, when set, are returned by every AddRoute/
	// DeleteRoute call instead of succeeding.
	AddErr    error
	DeleteErr error

	Added   []FakeRouteOp
	Deleted []FakeRouteOp

	streams []*fakeStream
	closed  bool
}

// FakeRouteOp records one AddRoute/DeleteRoute call.
type FakeRouteOp struct {
	Fib     int
	Dest    *net.IPNet
	Gateway net.IP
	OutLink int
}

func NewFake() *Fake {
	return &Fake{LinkIndex: make(map[string]int)}
}

func (f *Fake) DumpLinks(ctx context.Context) ([]LinkRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LinkRecord(nil), f.Links...), nil
}

func (f *Fake) DumpAddrs(ctx context.Context) ([]AddrRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AddrRecord(nil), f.Addrs...), nil
}

func (f *Fake) DumpRoutes(ctx context.Context, fib int) ([]RouteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RouteRecord, 0, len(f.Routes))
	for _, r := range f.Routes {
		out = append(out, r)
	}
	return out, nil
}

// AddRoute records the mutation and, like a real kernel, announces it
// as a NEWROUTE notification to every subscribed stream, mirroring how
// a successful route mutation is observed back through the event
// stream on a live system.
func (f *Fake) AddRoute(ctx context.Context, fib int, dst *net.IPNet, gw net.IP, outLink int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddErr != nil {
		return f.AddErr
	}
	rec := RouteRecord{Destination: dst, Gateway: gw, LinkIndex: outLink}
	f.Added = append(f.Added, FakeRouteOp{Fib: fib, Dest: dst, Gateway: gw, OutLink: outLink})
	f.Routes = append(f.Routes, rec)
	f.emitLocked(Event{Kind: EventNewRoute, Route: &rec})
	return nil
}

// DeleteRoute records the mutation and announces a DELROUTE
// notification, mirroring AddRoute's kernel-feedback behavior.
func (f *Fake) DeleteRoute(ctx context.Context, fib int, dst *net.IPNet, gw net.IP, outLink int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	rec := RouteRecord{Destination: dst, Gateway: gw, LinkIndex: outLink}
	f.Deleted = append(f.Deleted, FakeRouteOp{Fib: fib, Dest: dst, Gateway: gw, OutLink: outLink})
	for i, r := range f.Routes {
		if r.LinkIndex == outLink && sameIPNet(r.Destination, dst) {
			f.Routes = append(f.Routes[:i], f.Routes[i+1:]...)
			break
		}
	}
	f.emitLocked(Event{Kind: EventDelRoute, Route: &rec})
	return nil
}

func (f *Fake) LinkNameToIndex(ctx context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.LinkIndex[name]
	if !ok {
		return 0, &gwerr.NotFound{What: "link " + name}
	}
	return idx, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for _, s := range f.streams {
		s.Close()
	}
	return nil
}

func (f *Fake) Subscribe(ctx context.Context, groups ...Group) (EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeStream{events: make(chan Event, 64), done: make(chan struct{})}
	f.streams = append(f.streams, s)
	return s, nil
}

// Emit delivers ev to every subscribed stream, simulating a kernel
// notification observed by a live event socket.
func (f *Fake) Emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitLocked(ev)
}

func (f *Fake) emitLocked(ev Event) {
	for _, s := range f.streams {
		s.push(ev)
	}
}

func sameIPNet(a, b *net.IPNet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Mask.String() == b.Mask.String()
}

type fakeStream struct {
	mu     sync.Mutex
	events chan Event
	done   chan struct{}
	closed bool
}

func (s *fakeStream) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *fakeStream) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return Event{}, &gwerr.IOError{Op: "fake stream", Err: errFakeStreamClosed}
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-time.After(fakeReadTimeout):
		return Event{}, &gwerr.Timeout{}
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
