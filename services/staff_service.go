package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"smart-queue/internal/status"
	"smart-queue/models"
)

// StaffAPI is the part of the REST client a staff member uses.
type StaffAPI interface {
	MyServices(ctx context.Context) ([]models.Service, error)
	QueueStatus(ctx context.Context, serviceID int64) ([]models.QueueEntry, error)
	CallNext(ctx context.Context, serviceID int64, counterID *int64) (models.QueueEntry, error)
	Complete(ctx context.Context, entryID int64) (string, error)
	Skip(ctx context.Context, entryID int64) (string, error)
	Reject(ctx context.Context, entryID int64) (string, error)
	SendCustomNotification(ctx context.Context, entryID int64, message string) (string, error)
}

// StaffService dispatches staff actions against the selected service.
// Every successful action is followed by a refetch; nothing is applied
// locally before the server confirms it, and failures are not retried.
type StaffService struct {
	api   StaffAPI
	cache *QueueCache
}

func NewStaffService(api StaffAPI, cache *QueueCache) *StaffService {
	return &StaffService{api: api, cache: cache}
}

func (s *StaffService) Cache() *QueueCache {
	return s.cache
}

func (s *StaffService) MyServices(ctx context.Context) ([]models.Service, error) {
	return s.api.MyServices(ctx)
}

// Select switches to serviceID and loads its queue.
func (s *StaffService) Select(ctx context.Context, serviceID int64) (Snapshot, error) {
	s.cache.Select(serviceID)
	if err := s.Refetch(ctx); err != nil {
		return Snapshot{ServiceID: serviceID}, err
	}
	snap, _ := s.cache.Snapshot()
	return snap, nil
}

// Refetch loads the selected service's queue. The sequence number is taken
// before the request goes out so a push that arrives meanwhile wins.
func (s *StaffService) Refetch(ctx context.Context) error {
	serviceID, ok := s.cache.Selected()
	if !ok {
		return status.ErrNoServiceSelected
	}
	seq := s.cache.NextSeq()

	entries, err := s.api.QueueStatus(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("refetch service %d: %w", serviceID, err)
	}

	result := s.cache.Apply(OriginFetch, serviceID, seq, entries)
	if result != Applied {
		slog.Debug("fetched snapshot discarded", "service_id", serviceID, "seq", seq, "result", result)
	}
	return nil
}

// CallNext asks the server for the next waiting entry. A nil counterID
// leaves the counter choice to the server.
func (s *StaffService) CallNext(ctx context.Context, serviceID int64, counterID *int64) (models.QueueEntry, error) {
	entry, err := s.api.CallNext(ctx, serviceID, counterID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	s.refetchAfter(ctx, models.ActionCallNext)
	return entry, nil
}

func (s *StaffService) Complete(ctx context.Context, entryID int64) (string, error) {
	return s.act(ctx, models.ActionComplete, entryID, s.api.Complete)
}

func (s *StaffService) Skip(ctx context.Context, entryID int64) (string, error) {
	return s.act(ctx, models.ActionSkip, entryID, s.api.Skip)
}

func (s *StaffService) Reject(ctx context.Context, entryID int64) (string, error) {
	return s.act(ctx, models.ActionReject, entryID, s.api.Reject)
}

// Notify sends free text to the owner of entryID. Blank messages never
// reach the server.
func (s *StaffService) Notify(ctx context.Context, entryID int64, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", status.ErrEmptyMessage
	}
	return s.act(ctx, models.ActionNotify, entryID, func(ctx context.Context, id int64) (string, error) {
		return s.api.SendCustomNotification(ctx, id, message)
	})
}

func (s *StaffService) act(ctx context.Context, action string, entryID int64, call func(context.Context, int64) (string, error)) (string, error) {
	detail, err := call(ctx, entryID)
	if err != nil {
		return "", err
	}
	s.refetchAfter(ctx, action)
	return detail, nil
}

// refetchAfter refreshes the selected queue once an action succeeded. A
// failed refetch leaves the old snapshot in place; the action itself stands.
func (s *StaffService) refetchAfter(ctx context.Context, action string) {
	if _, ok := s.cache.Selected(); !ok {
		return
	}
	if err := s.Refetch(ctx); err != nil {
		slog.Warn("refetch after action failed", "action", action, "error", err)
	}
}

// HandleEnvelope applies a staff queue snapshot stamped with seq. Only
// staff envelopes and flattened queue updates carry one; any other
// notification is ignored.
func (s *StaffService) HandleEnvelope(env models.Envelope, seq uint64) ApplyResult {
	switch env.Type {
	case models.NotifyStaff, models.NotifyQueueUpdate:
	default:
		return Ignored
	}
	n, err := env.Payload()
	if err != nil {
		slog.Warn("undecodable staff notification", "type", env.Type, "error", err)
		return Ignored
	}
	serviceID, queue, ok := n.QueueSnapshot()
	if !ok {
		return Ignored
	}
	return s.cache.Apply(OriginPush, serviceID, seq, queue)
}
