package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"smart-queue/internal/api"
	"smart-queue/internal/status"
	"smart-queue/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStaffAPI struct {
	mu        sync.Mutex
	queues    map[int64][]models.QueueEntry
	fetches   int
	calls     []string
	counters  []*int64
	actionErr error
	fetchErr  error
}

func newFakeStaffAPI() *fakeStaffAPI {
	return &fakeStaffAPI{queues: map[int64][]models.QueueEntry{
		1: {
			{ID: 10, TokenNumber: 1, Status: models.StatusWaiting},
			{ID: 11, TokenNumber: 2, Status: models.StatusWaiting},
		},
	}}
}

func (f *fakeStaffAPI) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.actionErr
}

func (f *fakeStaffAPI) MyServices(context.Context) ([]models.Service, error) {
	return []models.Service{{ID: 1, Name: "Registrar"}}, nil
}

func (f *fakeStaffAPI) QueueStatus(_ context.Context, serviceID int64) ([]models.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]models.QueueEntry(nil), f.queues[serviceID]...), nil
}

func (f *fakeStaffAPI) CallNext(_ context.Context, serviceID int64, counterID *int64) (models.QueueEntry, error) {
	if err := f.record(models.ActionCallNext); err != nil {
		return models.QueueEntry{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = append(f.counters, counterID)
	q := f.queues[serviceID]
	for i := range q {
		if q[i].Status == models.StatusWaiting {
			q[i].Status = models.StatusInProgress
			return q[i], nil
		}
	}
	return models.QueueEntry{}, &api.Error{StatusCode: http.StatusNotFound, Detail: "No users in the queue."}
}

func (f *fakeStaffAPI) setStatus(entryID int64, st models.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid, q := range f.queues {
		kept := q[:0]
		for _, e := range q {
			if e.ID == entryID {
				e.Status = st
			}
			if e.Active() {
				kept = append(kept, e)
			}
		}
		f.queues[sid] = kept
	}
}

func (f *fakeStaffAPI) Complete(_ context.Context, entryID int64) (string, error) {
	if err := f.record(models.ActionComplete); err != nil {
		return "", err
	}
	f.setStatus(entryID, models.StatusCompleted)
	return "Service completed.", nil
}

func (f *fakeStaffAPI) Skip(_ context.Context, entryID int64) (string, error) {
	if err := f.record(models.ActionSkip); err != nil {
		return "", err
	}
	f.setStatus(entryID, models.StatusSkipped)
	return "User skipped.", nil
}

func (f *fakeStaffAPI) Reject(_ context.Context, entryID int64) (string, error) {
	if err := f.record(models.ActionReject); err != nil {
		return "", err
	}
	f.setStatus(entryID, models.StatusRejected)
	return "User rejected.", nil
}

func (f *fakeStaffAPI) SendCustomNotification(_ context.Context, _ int64, _ string) (string, error) {
	if err := f.record(models.ActionNotify); err != nil {
		return "", err
	}
	return "Custom notification sent.", nil
}

func TestStaffService_Select(t *testing.T) {
	fake := newFakeStaffAPI()
	svc := NewStaffService(fake, NewQueueCache())

	snap, err := svc.Select(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.ServiceID)
	assert.Len(t, snap.Entries, 2)
	assert.True(t, CanCallNext(snap.Entries))
}

func TestStaffService_RefetchWithoutSelection(t *testing.T) {
	svc := NewStaffService(newFakeStaffAPI(), NewQueueCache())
	assert.ErrorIs(t, svc.Refetch(context.Background()), status.ErrNoServiceSelected)
}

func TestStaffService_ActionsRefetch(t *testing.T) {
	tests := []struct {
		name   string
		act    func(*StaffService) (string, error)
		detail string
		left   int
	}{
		{
			name:   "complete",
			act:    func(s *StaffService) (string, error) { return s.Complete(context.Background(), 10) },
			detail: "Service completed.",
			left:   1,
		},
		{
			name:   "skip",
			act:    func(s *StaffService) (string, error) { return s.Skip(context.Background(), 11) },
			detail: "User skipped.",
			left:   1,
		},
		{
			name:   "reject",
			act:    func(s *StaffService) (string, error) { return s.Reject(context.Background(), 10) },
			detail: "User rejected.",
			left:   1,
		},
		{
			name:   "notify",
			act:    func(s *StaffService) (string, error) { return s.Notify(context.Background(), 10, "come back") },
			detail: "Custom notification sent.",
			left:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeStaffAPI()
			svc := NewStaffService(fake, NewQueueCache())
			_, err := svc.Select(context.Background(), 1)
			require.NoError(t, err)
			fetches := fake.fetches

			detail, err := tt.act(svc)
			require.NoError(t, err)
			assert.Equal(t, tt.detail, detail)
			assert.Equal(t, fetches+1, fake.fetches, "one refetch after a successful action")

			snap, ok := svc.Cache().Snapshot()
			require.True(t, ok)
			assert.Len(t, snap.Entries, tt.left)
		})
	}
}

func TestStaffService_CallNext(t *testing.T) {
	fake := newFakeStaffAPI()
	svc := NewStaffService(fake, NewQueueCache())
	_, err := svc.Select(context.Background(), 1)
	require.NoError(t, err)

	counter := int64(3)
	entry, err := svc.CallNext(context.Background(), 1, &counter)
	require.NoError(t, err)
	assert.Equal(t, int64(10), entry.ID)

	entry, err = svc.CallNext(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(11), entry.ID)

	require.Len(t, fake.counters, 2)
	assert.Equal(t, int64(3), *fake.counters[0])
	assert.Nil(t, fake.counters[1])

	snap, _ := svc.Cache().Snapshot()
	assert.False(t, CanCallNext(snap.Entries))

	_, err = svc.CallNext(context.Background(), 1, nil)
	assert.True(t, api.IsStatus(err, http.StatusNotFound))
	assert.Equal(t, "No users in the queue.", api.Detail(err))
}

func TestStaffService_FailureIsNotRetried(t *testing.T) {
	fake := newFakeStaffAPI()
	svc := NewStaffService(fake, NewQueueCache())
	_, err := svc.Select(context.Background(), 1)
	require.NoError(t, err)

	fake.actionErr = &api.Error{StatusCode: http.StatusForbidden, Detail: "You are not authorized to manage this service."}
	fetchesBefore := fake.fetches

	_, err = svc.Complete(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, "You are not authorized to manage this service.", api.Detail(err))
	assert.Equal(t, []string{models.ActionComplete}, fake.calls)
	assert.Equal(t, fetchesBefore, fake.fetches, "no refetch after a failed action")

	snap, _ := svc.Cache().Snapshot()
	assert.Len(t, snap.Entries, 2)
}

func TestStaffService_RefetchFailureKeepsAction(t *testing.T) {
	fake := newFakeStaffAPI()
	svc := NewStaffService(fake, NewQueueCache())
	_, err := svc.Select(context.Background(), 1)
	require.NoError(t, err)

	fake.fetchErr = errors.New("server went away")
	detail, err := svc.Skip(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "User skipped.", detail)

	snap, _ := svc.Cache().Snapshot()
	assert.Len(t, snap.Entries, 2, "old snapshot stays until a refetch succeeds")
}

func TestStaffService_NotifyEmpty(t *testing.T) {
	fake := newFakeStaffAPI()
	svc := NewStaffService(fake, NewQueueCache())

	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := svc.Notify(context.Background(), 10, msg)
		assert.ErrorIs(t, err, status.ErrEmptyMessage)
	}
	assert.Empty(t, fake.calls)
}

func staffFrame(serviceID int64, ids ...int64) models.Envelope {
	queue := ""
	for i, id := range ids {
		if i > 0 {
			queue += ","
		}
		queue += fmt.Sprintf(`{"id":%d,"token_number":%d,"status":"waiting"}`, id, i+1)
	}
	env, err := models.DecodeEnvelope([]byte(fmt.Sprintf(
		`{"type":"send_staff_notification","message":{"type":"queue_update","service_id":%d,"queue":[%s]}}`,
		serviceID, queue)))
	if err != nil {
		panic(err)
	}
	return env
}

func TestStaffService_HandleEnvelope(t *testing.T) {
	fake := newFakeStaffAPI()
	cache := NewQueueCache()
	svc := NewStaffService(fake, cache)
	_, err := svc.Select(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, Applied, svc.HandleEnvelope(staffFrame(1, 11), cache.NextSeq()))
	assert.Equal(t, Foreign, svc.HandleEnvelope(staffFrame(2, 20, 21), cache.NextSeq()))

	notice, err := models.DecodeEnvelope([]byte(`{"type":"send_notification","message":{"type":"queue_update","status":"completed","service":"Registrar","token":1}}`))
	require.NoError(t, err)
	assert.Equal(t, Ignored, svc.HandleEnvelope(notice, cache.NextSeq()))

	// A full queue under a user envelope is not a staff snapshot.
	misrouted, err := models.DecodeEnvelope([]byte(`{"type":"send_notification","message":{"type":"queue_update","service_id":1,"queue":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, Ignored, svc.HandleEnvelope(misrouted, cache.NextSeq()))

	flat, err := models.DecodeEnvelope([]byte(`{"type":"queue_update","service_id":1,"queue":[{"id":10,"token_number":1,"status":"waiting"}]}`))
	require.NoError(t, err)
	assert.Equal(t, Applied, svc.HandleEnvelope(flat, cache.NextSeq()))

	empty := staffFrame(1)
	assert.Equal(t, Applied, svc.HandleEnvelope(empty, cache.NextSeq()))
	snap, ok := cache.Snapshot()
	require.True(t, ok)
	assert.Empty(t, snap.Entries)
	assert.False(t, CanCallNext(snap.Entries))
}

// A push stamped while a refetch is in flight wins over the refetch reply.
func TestStaffService_PushDuringRefetch(t *testing.T) {
	cache := NewQueueCache()
	fake := &racingStaffAPI{fakeStaffAPI: newFakeStaffAPI()}
	svc := NewStaffService(fake, cache)
	fake.during = func() {
		svc.HandleEnvelope(staffFrame(1, 11), cache.NextSeq())
	}

	_, err := svc.Select(context.Background(), 1)
	require.NoError(t, err)

	snap, _ := cache.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, int64(11), snap.Entries[0].ID)
}

type racingStaffAPI struct {
	*fakeStaffAPI
	during func()
}

func (r *racingStaffAPI) QueueStatus(ctx context.Context, serviceID int64) ([]models.QueueEntry, error) {
	out, err := r.fakeStaffAPI.QueueStatus(ctx, serviceID)
	if r.during != nil {
		r.during()
	}
	return out, err
}
