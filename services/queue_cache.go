package services

import (
	"sync"

	"smart-queue/models"
	"smart-queue/monitoring"
)

// ApplyResult is the outcome of offering a snapshot to the cache.
type ApplyResult int

const (
	Applied ApplyResult = iota
	Stale
	Foreign
	Ignored
)

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return monitoring.SnapshotApplied
	case Stale:
		return monitoring.SnapshotStale
	case Foreign:
		return monitoring.SnapshotForeign
	}
	return "ignored"
}

// Origins of a snapshot.
const (
	OriginFetch = "fetch"
	OriginPush  = "push"
)

// Snapshot is a full copy of one service's queue.
type Snapshot struct {
	ServiceID int64
	Version   uint64
	Entries   []models.QueueEntry
}

// QueueCache holds the selected service and its latest queue. Every update
// replaces the whole queue.
//
// Fetches take a sequence number when issued and pushes when they arrive.
// A snapshot is applied only if it belongs to the selected service and its
// number is higher than the one last applied, so a slow poll can never
// overwrite a newer push or the other way round.
type QueueCache struct {
	mu       sync.Mutex
	seq      uint64
	selected int64
	applied  uint64
	snapshot []models.QueueEntry
	has      bool
	changed  chan struct{}
}

func NewQueueCache() *QueueCache {
	return &QueueCache{changed: make(chan struct{}, 1)}
}

// NextSeq returns a number greater than every one returned before.
func (c *QueueCache) NextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Select switches to serviceID and drops the current snapshot. Anything
// numbered before the switch is stale from now on.
func (c *QueueCache) Select(serviceID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.selected = serviceID
	c.applied = c.seq
	c.snapshot = nil
	c.has = false
}

func (c *QueueCache) Selected() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.selected != 0
}

// Apply offers entries for serviceID numbered seq.
func (c *QueueCache) Apply(origin string, serviceID int64, seq uint64, entries []models.QueueEntry) ApplyResult {
	result := c.apply(serviceID, seq, entries)
	monitoring.TrackSnapshot(origin, result.String())
	return result
}

func (c *QueueCache) apply(serviceID int64, seq uint64, entries []models.QueueEntry) ApplyResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selected == 0 || serviceID != c.selected {
		return Foreign
	}
	if seq <= c.applied {
		return Stale
	}

	c.applied = seq
	c.snapshot = append(make([]models.QueueEntry, 0, len(entries)), entries...)
	c.has = true
	monitoring.SetSnapshot(serviceID, seq, c.snapshot)

	select {
	case c.changed <- struct{}{}:
	default:
	}
	return Applied
}

// Snapshot returns a copy of the current queue. ok is false until the first
// snapshot for the selected service is applied.
func (c *QueueCache) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.has {
		return Snapshot{ServiceID: c.selected}, false
	}
	return Snapshot{
		ServiceID: c.selected,
		Version:   c.applied,
		Entries:   append([]models.QueueEntry(nil), c.snapshot...),
	}, true
}

// Changed signals after a snapshot is applied. Signals coalesce.
func (c *QueueCache) Changed() <-chan struct{} {
	return c.changed
}

// CanCallNext reports whether a call-next action makes sense for entries:
// the queue is not empty and not everyone in it is already being served.
func CanCallNext(entries []models.QueueEntry) bool {
	for _, e := range entries {
		if e.Status != models.StatusInProgress {
			return true
		}
	}
	return false
}
