package handlers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"smart-queue/models"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

var (
	errNotFound          = errors.New("stub: not found")
	errQueueEmpty        = errors.New("stub: queue is empty")
	errAlreadyQueued     = errors.New("stub: already queued")
	errBadCredentials    = errors.New("stub: bad credentials")
	errUsernameTaken     = errors.New("stub: username taken")
	errInvalidTransition = errors.New("stub: invalid transition")
)

// Activity actions, as recorded for analytics.
const (
	activityJoin     = "user_join"
	activityCalled   = "user_called"
	activityComplete = "service_completed"
	activitySkipped  = "user_skipped"
	activityRejected = "user_rejected"
	activityNotified = "custom_notification_sent"
)

var actionActivity = map[string]string{
	models.ActionCallNext: activityCalled,
	models.ActionComplete: activityComplete,
	models.ActionSkip:     activitySkipped,
	models.ActionReject:   activityRejected,
}

type userRecord struct {
	models.User
	hash []byte
}

type entryRecord struct {
	id        int64
	userID    int64
	serviceID int64
	counterID *int64
	token     int
	status    models.Status
	createdAt time.Time
}

type activity struct {
	userID    int64
	serviceID int64
	action    string
	at        time.Time
}

// Store is the stub backend's in-memory database.
type Store struct {
	clock    clockwork.Clock
	hashCost int

	mu       sync.Mutex
	lastID   int64
	users    map[int64]*userRecord
	services map[int64]*models.Service
	counters map[int64]*models.Counter
	entries  map[int64]*entryRecord
	log      []activity
}

func NewStore(clock clockwork.Clock, hashCost int) *Store {
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	return &Store{
		clock:    clock,
		hashCost: hashCost,
		users:    make(map[int64]*userRecord),
		services: make(map[int64]*models.Service),
		counters: make(map[int64]*models.Counter),
		entries:  make(map[int64]*entryRecord),
	}
}

func (s *Store) nextID() int64 {
	s.lastID++
	return s.lastID
}

// Users

func (s *Store) CreateUser(in models.UserInput) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	role := in.Role
	if role == "" {
		role = models.RoleStudent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usernameTaken(in.Username, 0) {
		return models.User{}, errUsernameTaken
	}
	rec := &userRecord{
		User: models.User{
			ID:        s.nextID(),
			Username:  in.Username,
			Email:     in.Email,
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Role:      role,
		},
		hash: hash,
	}
	s.users[rec.ID] = rec
	return rec.User, nil
}

func (s *Store) usernameTaken(username string, except int64) bool {
	for _, u := range s.users {
		if u.ID != except && strings.EqualFold(u.Username, username) {
			return true
		}
	}
	return false
}

func (s *Store) Authenticate(username, password string) (models.User, error) {
	s.mu.Lock()
	var found *userRecord
	for _, u := range s.users {
		if u.Username == username {
			found = u
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return models.User{}, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(found.hash, []byte(password)); err != nil {
		return models.User{}, errBadCredentials
	}
	return found.User, nil
}

func (s *Store) User(id int64) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, errNotFound
	}
	return u.User, nil
}

func (s *Store) Users() []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.User)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateUser replaces the user's fields. An empty password keeps the old one.
func (s *Store) UpdateUser(id int64, in models.UserInput) (models.User, error) {
	var hash []byte
	if in.Password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		hash = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, errNotFound
	}
	if s.usernameTaken(in.Username, id) {
		return models.User{}, errUsernameTaken
	}
	u.Username = in.Username
	u.Email = in.Email
	u.FirstName = in.FirstName
	u.LastName = in.LastName
	if in.Role != "" {
		u.Role = in.Role
	}
	if hash != nil {
		u.hash = hash
	}
	return u.User, nil
}

// DeleteUser removes the user with their entries and staff assignments.
func (s *Store) DeleteUser(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return errNotFound
	}
	delete(s.users, id)
	for eid, e := range s.entries {
		if e.userID == id {
			delete(s.entries, eid)
		}
	}
	for _, svc := range s.services {
		svc.Staff = without(svc.Staff, id)
	}
	return nil
}

func without(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Services and counters

func (s *Store) CreateService(in models.ServiceInput) models.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc := &models.Service{
		ID:          s.nextID(),
		Name:        in.Name,
		Description: in.Description,
		IsActive:    in.IsActive,
		Staff:       append([]int64(nil), in.Staff...),
	}
	s.services[svc.ID] = svc
	return s.serviceView(svc)
}

func (s *Store) UpdateService(id int64, in models.ServiceInput) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return models.Service{}, errNotFound
	}
	svc.Name = in.Name
	svc.Description = in.Description
	svc.IsActive = in.IsActive
	svc.Staff = append([]int64(nil), in.Staff...)
	return s.serviceView(svc), nil
}

// DeleteService removes the service, its counters and its entries.
func (s *Store) DeleteService(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[id]; !ok {
		return errNotFound
	}
	delete(s.services, id)
	for cid, c := range s.counters {
		if c.Service == id {
			delete(s.counters, cid)
		}
	}
	for eid, e := range s.entries {
		if e.serviceID == id {
			delete(s.entries, eid)
		}
	}
	return nil
}

func (s *Store) Service(id int64) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return models.Service{}, errNotFound
	}
	return s.serviceView(svc), nil
}

// Services lists services by id, optionally only the active ones.
func (s *Store) Services(activeOnly bool) []models.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.servicesWhere(func(svc *models.Service) bool { return !activeOnly || svc.IsActive })
}

// ManagedServices lists what a staff member is assigned to. Admins manage
// every service.
func (s *Store) ManagedServices(userID int64, role models.Role) []models.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.servicesWhere(func(svc *models.Service) bool {
		return role == models.RoleAdmin || svc.HasStaff(userID)
	})
}

func (s *Store) servicesWhere(keep func(*models.Service) bool) []models.Service {
	out := make([]models.Service, 0, len(s.services))
	for _, svc := range s.services {
		if keep(svc) {
			out = append(out, s.serviceView(svc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CanManage reports whether the caller may act on serviceID's queue.
func (s *Store) CanManage(userID int64, role models.Role, serviceID int64) bool {
	if role == models.RoleAdmin {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[serviceID]
	return ok && svc.HasStaff(userID)
}

func (s *Store) serviceView(svc *models.Service) models.Service {
	out := *svc
	out.Staff = append([]int64(nil), svc.Staff...)
	out.Counters = []models.Counter{}
	for _, c := range s.counters {
		if c.Service == svc.ID {
			out.Counters = append(out.Counters, *c)
		}
	}
	sort.Slice(out.Counters, func(i, j int) bool { return out.Counters[i].ID < out.Counters[j].ID })
	return out
}

func (s *Store) CreateCounter(in models.CounterInput) (models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[in.Service]; !ok {
		return models.Counter{}, errNotFound
	}
	c := &models.Counter{ID: s.nextID(), Name: in.Name, IsActive: in.IsActive, Service: in.Service}
	s.counters[c.ID] = c
	return *c, nil
}

func (s *Store) Counters() []models.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Counter, 0, len(s.counters))
	for _, c := range s.counters {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) DeleteCounter(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[id]; !ok {
		return errNotFound
	}
	delete(s.counters, id)
	for _, e := range s.entries {
		if e.counterID != nil && *e.counterID == id {
			e.counterID = nil
		}
	}
	return nil
}

// Queue

// Join adds userID to serviceID's queue with the next token number.
func (s *Store) Join(userID, serviceID int64) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[serviceID]; !ok {
		return models.QueueEntry{}, errNotFound
	}

	token := 0
	for _, e := range s.entries {
		if e.serviceID != serviceID {
			continue
		}
		if e.userID == userID && (e.status == models.StatusWaiting || e.status == models.StatusInProgress) {
			return models.QueueEntry{}, errAlreadyQueued
		}
		if e.token > token {
			token = e.token
		}
	}

	e := &entryRecord{
		id:        s.nextID(),
		userID:    userID,
		serviceID: serviceID,
		token:     token + 1,
		status:    models.StatusWaiting,
		createdAt: s.clock.Now(),
	}
	s.entries[e.id] = e
	s.record(userID, serviceID, activityJoin)
	return s.entryView(e), nil
}

// MyEntries lists userID's entries, newest first.
func (s *Store) MyEntries(userID int64) []models.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entriesWhere(func(e *entryRecord) bool { return e.userID == userID })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ActiveQueue lists serviceID's waiting and in-progress entries, oldest
// first.
func (s *Store) ActiveQueue(serviceID int64) []models.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeQueue(serviceID)
}

func (s *Store) activeQueue(serviceID int64) []models.QueueEntry {
	return s.entriesWhere(func(e *entryRecord) bool {
		return e.serviceID == serviceID && (e.status == models.StatusWaiting || e.status == models.StatusInProgress)
	})
}

// entriesWhere returns matching entries ordered by creation time.
func (s *Store) entriesWhere(keep func(*entryRecord) bool) []models.QueueEntry {
	recs := make([]*entryRecord, 0)
	for _, e := range s.entries {
		if keep(e) {
			recs = append(recs, e)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].createdAt.Equal(recs[j].createdAt) {
			return recs[i].id < recs[j].id
		}
		return recs[i].createdAt.Before(recs[j].createdAt)
	})
	out := make([]models.QueueEntry, 0, len(recs))
	for _, e := range recs {
		out = append(out, s.entryView(e))
	}
	return out
}

func (s *Store) Entry(id int64) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return models.QueueEntry{}, errNotFound
	}
	return s.entryView(e), nil
}

// CallNext moves the oldest waiting entry of serviceID to in_progress.
func (s *Store) CallNext(serviceID int64, counterID *int64) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[serviceID]; !ok {
		return models.QueueEntry{}, errNotFound
	}
	if counterID != nil {
		if _, ok := s.counters[*counterID]; !ok {
			return models.QueueEntry{}, errNotFound
		}
	}

	var next *entryRecord
	for _, e := range s.entries {
		if e.serviceID != serviceID || e.status != models.StatusWaiting {
			continue
		}
		if next == nil || e.createdAt.Before(next.createdAt) ||
			(e.createdAt.Equal(next.createdAt) && e.id < next.id) {
			next = e
		}
	}
	if next == nil {
		return models.QueueEntry{}, errQueueEmpty
	}

	next.status = models.StatusInProgress
	if counterID != nil {
		id := *counterID
		next.counterID = &id
	}
	s.record(next.userID, serviceID, activityCalled)
	return s.entryView(next), nil
}

// Transition applies a staff action to an entry. Statuses only move
// forward.
func (s *Store) Transition(entryID int64, action string) (models.QueueEntry, error) {
	target, ok := models.TargetStatus(action)
	if !ok {
		return models.QueueEntry{}, fmt.Errorf("%w: unknown action %q", errInvalidTransition, action)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return models.QueueEntry{}, errNotFound
	}
	if !models.ValidTransition(action, e.status) {
		return models.QueueEntry{}, fmt.Errorf("%w: cannot %s an entry that is %s", errInvalidTransition, action, e.status)
	}
	e.status = target
	s.record(e.userID, e.serviceID, actionActivity[action])
	return s.entryView(e), nil
}

// RecordNotification logs a custom notification for analytics.
func (s *Store) RecordNotification(entry models.QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(entry.User.ID, entry.Service.ID, activityNotified)
}

func (s *Store) record(userID, serviceID int64, action string) {
	s.log = append(s.log, activity{userID: userID, serviceID: serviceID, action: action, at: s.clock.Now()})
}

func (s *Store) entryView(e *entryRecord) models.QueueEntry {
	out := models.QueueEntry{
		ID:          e.id,
		TokenNumber: e.token,
		Status:      e.status,
		CreatedAt:   e.createdAt,
	}
	if u, ok := s.users[e.userID]; ok {
		out.User = u.User
	} else {
		out.User = models.User{ID: e.userID}
	}
	if svc, ok := s.services[e.serviceID]; ok {
		out.Service = *svc
		out.Service.Counters = nil
		out.Service.Staff = nil
	} else {
		out.Service = models.Service{ID: e.serviceID}
	}
	if e.counterID != nil {
		if c, ok := s.counters[*e.counterID]; ok {
			counter := *c
			out.Counter = &counter
		}
	}
	return out
}

// Analytics

// Analytics summarises today's activity for every service. The average
// wait runs from a join to the next call or completion of the same user.
func (s *Store) Analytics() []models.ServiceAnalytics {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	services := s.servicesWhere(func(*models.Service) bool { return true })
	out := make([]models.ServiceAnalytics, 0, len(services))
	for _, svc := range services {
		row := models.ServiceAnalytics{ServiceID: svc.ID, ServiceName: svc.Name}
		var total time.Duration
		var waits int
		for i, a := range s.log {
			if a.serviceID != svc.ID || a.at.UTC().Before(dayStart) {
				continue
			}
			switch a.action {
			case activityJoin:
				row.TotalUsers++
			case activityComplete:
				row.CompletedUsers++
			case activitySkipped:
				row.SkippedUsers++
			}
			if a.action == activityCalled || a.action == activityComplete {
				if join, ok := s.lastJoin(i, a); ok {
					total += a.at.Sub(join)
					waits++
				}
			}
		}
		var avg time.Duration
		if waits > 0 {
			avg = total / time.Duration(waits)
		}
		row.AverageWaitTime = models.FormatWaitDuration(avg)
		out = append(out, row)
	}
	return out
}

// lastJoin finds the join that preceded log entry i for the same user and
// service.
func (s *Store) lastJoin(i int, a activity) (time.Time, bool) {
	for j := i - 1; j >= 0; j-- {
		prev := s.log[j]
		if prev.userID == a.userID && prev.serviceID == a.serviceID && prev.action == activityJoin && prev.at.Before(a.at) {
			return prev.at, true
		}
	}
	return time.Time{}, false
}
