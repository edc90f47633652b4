package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"smart-queue/utils"

	"github.com/nats-io/nats.go"
)

const defaultSubjectNS = "queue.notifications"

type natsSource struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	// lost is closed once the connection is gone for good.
	lost     chan struct{}
	lostOnce sync.Once
}

func newNATSSource() *natsSource {
	return &natsSource{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}
}

// subscribeNATS subscribes to the user's subject and to one staff subject
// per service under the configured namespace.
func subscribeNATS(ctx context.Context, cfg Config) (*natsSource, error) {
	if cfg.NATSURL == "" {
		return nil, fmt.Errorf("nats: url is required")
	}

	s := newNATSSource()
	opts := []nats.Option{
		nats.Name(utils.InstanceID("queuectl-" + userChannel(cfg.UserID))),
		nats.ClosedHandler(s.connClosed),
	}
	if cfg.Access != "" {
		opts = append(opts, nats.Token(cfg.Access))
	}
	conn, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	s.conn = conn

	msgs := make(chan *nats.Msg, 64)

	for _, subject := range natsSubjects(cfg) {
		sub, err := conn.ChanSubscribe(subject, msgs)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("nats: subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	go s.forward(ctx, msgs)

	slog.Info("nats subscribed", "url", cfg.NATSURL, "subjects", len(s.subs))
	return s, nil
}

func natsSubjects(cfg Config) []string {
	ns := cfg.NATSSubjectNS
	if ns == "" {
		ns = defaultSubjectNS
	}
	subjects := []string{fmt.Sprintf("%s.%s", ns, userChannel(cfg.UserID))}
	for _, id := range cfg.ServiceIDs {
		subjects = append(subjects, fmt.Sprintf("%s.%s", ns, staffChannel(id)))
	}
	return subjects
}

func (s *natsSource) forward(ctx context.Context, msgs <-chan *nats.Msg) {
	defer close(s.frames)
	for {
		select {
		case m := <-msgs:
			select {
			case s.frames <- m.Data:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		case <-s.done:
			return
		case <-s.lost:
			slog.Info("nats connection closed")
			return
		case <-ctx.Done():
			return
		}
	}
}

// connClosed runs when the client gives up on the server, after its own
// reconnect attempts or after Close.
func (s *natsSource) connClosed(*nats.Conn) {
	s.lostOnce.Do(func() { close(s.lost) })
}

func (s *natsSource) Frames() <-chan []byte {
	return s.frames
}

func (s *natsSource) Close() error {
	s.once.Do(func() {
		for _, sub := range s.subs {
			if err := sub.Unsubscribe(); err != nil {
				slog.Debug("nats unsubscribe", "subject", sub.Subject, "error", err)
			}
		}
		close(s.done)
		s.conn.Close()
	})
	return nil
}
