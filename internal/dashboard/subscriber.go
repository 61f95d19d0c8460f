package dashboard

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Subscriber is one connected dashboard client's mailbox, adapted from the
// teacher's registry.Cell: a buffered channel drained by the transport
// goroutine (ws pump or long-poll handler), with non-blocking drop-on-full
// Push so a slow or vanished client can never back-pressure the Hub.
type Subscriber struct {
	id      uuid.UUID
	mailbox chan Event
	lastRW  atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

func newSubscriber(mailboxSize int) *Subscriber {
	s := &Subscriber{
		id:      uuid.New(),
		mailbox: make(chan Event, mailboxSize),
		closed:  make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *Subscriber) ID() uuid.UUID { return s.id }

// Push enqueues ev without blocking; if the mailbox is full the event is
// dropped, mirroring the teacher's Cell.Push backpressure policy — a
// dashboard stream is best-effort, never a delivery guarantee.
func (s *Subscriber) Push(ev Event) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.mailbox <- ev:
	default:
	}
}

// Drain pulls up to max buffered events without blocking, for the
// long-poll transport's batch-per-request semantics.
func (s *Subscriber) Drain(max int) []Event {
	s.touch()
	out := make([]Event, 0, max)
	for len(out) < max {
		select {
		case ev := <-s.mailbox:
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}

// Events exposes the mailbox for the ws transport's pump loop, which
// ranges over it directly rather than polling Drain.
func (s *Subscriber) Events() <-chan Event {
	s.touch()
	return s.mailbox
}

func (s *Subscriber) touch() { s.lastRW.Store(time.Now().UnixNano()) }

// IsIdle reports whether the subscriber hasn't been drained within d,
// the signal the Hub's eviction ticker uses to reap abandoned connections
// (e.g. a long-poll client that never returned for its next poll).
func (s *Subscriber) IsIdle(d time.Duration) bool {
	return time.Since(time.Unix(0, s.lastRW.Load())) > d
}

// Close is idempotent; closing twice (once from a transport disconnect,
// once from the idle evictor racing it) must never panic on a closed
// channel send.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}
