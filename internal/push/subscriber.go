package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"smart-queue/internal/status"
	"smart-queue/models"
	"smart-queue/monitoring"
)

// Opener opens the source for one session.
type Opener func(ctx context.Context) (Source, error)

// Message is a decoded envelope stamped with the sequence number it took
// on arrival.
type Message struct {
	Envelope models.Envelope
	Seq      uint64
}

type Option func(*Subscriber)

// WithSequence makes the subscriber stamp envelopes from next, so pushes
// share one ordering with fetches that draw from the same counter.
func WithSequence(next func() uint64) Option {
	return func(s *Subscriber) { s.nextSeq = next }
}

// Subscriber reads one Source and keeps only the most recent envelope.
// Consumers that fall behind see the latest value, never a backlog.
type Subscriber struct {
	open      Opener
	transport Transport
	nextSeq   func() uint64
	seq       atomic.Uint64

	mu      sync.Mutex
	latest  Message
	hasLast bool
	subs    map[int]*Subscription
	nextID  int

	received  atomic.Int64
	malformed atomic.Int64
}

func NewSubscriber(transport Transport, open Opener, opts ...Option) *Subscriber {
	s := &Subscriber{
		open:      open,
		transport: transport,
		subs:      make(map[int]*Subscription),
	}
	s.nextSeq = func() uint64 { return s.seq.Add(1) }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run opens the source once and processes frames until ctx is done or the
// source ends. The source is closed on return. There is no reconnect.
func (s *Subscriber) Run(ctx context.Context) error {
	src, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("push: open %s: %w", s.transport, err)
	}
	defer src.Close()

	frames := src.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil

		case data, ok := <-frames:
			if !ok {
				return status.ErrSourceClosed
			}
			s.handle(data)
		}
	}
}

func (s *Subscriber) handle(data []byte) {
	seq := s.nextSeq()
	env, err := models.DecodeEnvelope(data)
	if err != nil {
		s.malformed.Add(1)
		monitoring.TrackPushFrame(string(s.transport), monitoring.MalformedFrame)
		slog.Warn("skipping malformed push frame", "transport", s.transport, "error", err, "size", len(data))
		return
	}
	s.received.Add(1)
	monitoring.TrackPushFrame(string(s.transport), string(env.Kind()))

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{Envelope: env, Seq: seq}
	s.latest, s.hasLast = msg, true
	for _, sub := range s.subs {
		sub.offer(msg)
	}
}

// Latest returns the most recent message.
func (s *Subscriber) Latest() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLast
}

func (s *Subscriber) Received() int64 {
	return s.received.Load()
}

func (s *Subscriber) Malformed() int64 {
	return s.malformed.Load()
}

// Subscribe registers a consumer. Each subscription holds at most one
// pending envelope; a newer one replaces it.
func (s *Subscriber) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	sub := &Subscription{ch: make(chan Message, 1)}
	sub.cancel = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
	s.subs[id] = sub
	return sub
}

type Subscription struct {
	ch     chan Message
	cancel func()
	once   sync.Once
}

// C delivers messages. It is never closed.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// offer replaces any pending message with msg. Callers hold the
// subscriber lock, so offer is the only sender.
func (s *Subscription) offer(msg Message) {
	select {
	case s.ch <- msg:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- msg
}
