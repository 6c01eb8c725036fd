package sync

import (
	"context"
	stdsync "sync"
	"time"
)

// sessionBuffer is the bounded per-session queue depth. A session that
// cannot keep up is severed rather than allowed to slow the ring (§4.8,
// §9 "subscriber back-pressure").
const sessionBuffer = 64

// Message is one unit delivered to a subscriber: either a mutation frame,
// a heartbeat, or a recover marker.
type Message struct {
	Kind  MessageKind
	Frame Frame
}

// MessageKind tags a Message's wire framing.
type MessageKind int

const (
	MessageHeartbeat MessageKind = iota
	MessageMutation
	MessageRecover
)

// Session is a long-lived subscriber connection (C8). It is created by
// Engine.Subscribe, never constructed directly.
type Session struct {
	ring        *ring
	out         chan Message
	done        chan struct{}
	closeOnce   stdsync.Once
	createdAt   time.Time
	keepalive   time.Duration
	mu          stdsync.Mutex // guards lastEventID only
	lastEventID string
	metrics     MetricsSink
}

func newSession(r *ring, keepalive time.Duration, metrics MetricsSink) *Session {
	return &Session{
		ring:      r,
		out:       make(chan Message, sessionBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
		keepalive: keepalive,
		metrics:   metrics,
	}
}

// Messages returns the channel the transport layer reads from to write
// wire frames. It never closes; the transport layer stops reading once
// Done() fires.
func (s *Session) Messages() <-chan Message { return s.out }

// Done signals session termination to the transport layer.
func (s *Session) Done() <-chan struct{} { return s.done }

// deliver enqueues a frame without blocking. A full buffer means the
// session cannot keep up: it is severed and offered recover (§4.8).
func (s *Session) deliver(f Frame) {
	select {
	case s.out <- Message{Kind: MessageMutation, Frame: f}:
		s.setLastEventID(f.EventID)
	default:
		s.sendRecoverAndClose()
	}
}

func (s *Session) sendRecoverAndClose() {
	select {
	case s.out <- Message{Kind: MessageRecover}:
	default:
	}
	if s.metrics != nil {
		s.metrics.RecoverInc()
	}
	s.Close()
}

func (s *Session) setLastEventID(id string) {
	s.mu.Lock()
	s.lastEventID = id
	s.mu.Unlock()
}

// LastEventID returns the most recently delivered frame's id, or "".
func (s *Session) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// run drives the heartbeat ticker until the session is closed or ctx is
// canceled. Engine.Subscribe starts it in its own goroutine.
func (s *Session) run(ctx context.Context) {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	defer s.detach()

	select {
	case s.out <- Message{Kind: MessageHeartbeat}:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case <-ticker.C:
			select {
			case s.out <- Message{Kind: MessageHeartbeat}:
			default:
				// A slow reader that's also missing heartbeats is already
				// being severed via deliver's recover path; nothing to do.
			}
		}
	}
}

func (s *Session) detach() {
	s.ring.detach(s)
}

// Close detaches the session and releases its heartbeat timer. Safe to
// call more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
