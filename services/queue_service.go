package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smart-queue/internal/status"
	"smart-queue/models"

	"github.com/jonboulle/clockwork"
)

const defaultNotificationLimit = 50

// StudentAPI is the part of the REST client a student uses.
type StudentAPI interface {
	Services(ctx context.Context) ([]models.Service, error)
	Join(ctx context.Context, serviceID int64) error
	MyQueues(ctx context.Context) ([]models.QueueEntry, error)
}

// Note is a notification as it was received.
type Note struct {
	Notification models.Notification
	ReceivedAt   time.Time
}

// QueueService drives the student dashboard: joining queues and following
// one's own entries.
type QueueService struct {
	api   StudentAPI
	clock clockwork.Clock
	limit int

	mu      sync.Mutex
	seq     uint64
	applied uint64
	mine    []models.QueueEntry
	notes   []Note
}

func NewQueueService(api StudentAPI, clock clockwork.Clock) *QueueService {
	return &QueueService{
		api:   api,
		clock: clock,
		limit: defaultNotificationLimit,
	}
}

func (s *QueueService) Services(ctx context.Context) ([]models.Service, error) {
	return s.api.Services(ctx)
}

// Join sends exactly one join request. On success it refetches the
// caller's entries and returns the one for serviceID. Server rejections,
// such as joining twice, come back unchanged.
func (s *QueueService) Join(ctx context.Context, serviceID int64) (models.QueueEntry, error) {
	if err := s.api.Join(ctx, serviceID); err != nil {
		return models.QueueEntry{}, err
	}

	entries, err := s.MyQueues(ctx)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("join: refetch: %w", err)
	}
	entry, ok := models.EntryForService(entries, serviceID)
	if !ok {
		return models.QueueEntry{}, fmt.Errorf("join: service %d: %w", serviceID, status.ErrEntryNotFound)
	}
	return entry, nil
}

// MyQueues fetches the caller's entries. A reply that completes after a
// later fetch was applied is dropped in favour of the newer one.
func (s *QueueService) MyQueues(ctx context.Context) ([]models.QueueEntry, error) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	entries, err := s.api.MyQueues(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.applied {
		s.applied = seq
		s.mine = append([]models.QueueEntry(nil), entries...)
	} else {
		slog.Debug("dropping stale my-queues reply", "seq", seq, "applied", s.applied)
	}
	return append([]models.QueueEntry(nil), s.mine...), nil
}

// Cached returns the last applied entries without a request.
func (s *QueueService) Cached() []models.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.QueueEntry(nil), s.mine...)
}

// HandleEnvelope records a pushed notification. It reports whether the
// notification concerns the caller's own entries.
func (s *QueueService) HandleEnvelope(env models.Envelope) (models.Notification, bool) {
	n, err := env.Payload()
	if err != nil {
		slog.Warn("undecodable notification", "type", env.Type, "error", err)
		return models.Notification{}, false
	}

	s.mu.Lock()
	s.notes = append(s.notes, Note{Notification: n, ReceivedAt: s.clock.Now()})
	if over := len(s.notes) - s.limit; over > 0 {
		s.notes = append([]Note(nil), s.notes[over:]...)
	}
	s.mu.Unlock()

	personal := n.Type == models.NotifyQueueUpdate && n.Status != ""
	return n, personal
}

// Notifications returns received notifications, oldest first.
func (s *QueueService) Notifications() []Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Note(nil), s.notes...)
}
