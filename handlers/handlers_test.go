package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smart-queue/internal/api"
	"smart-queue/internal/push"
	"smart-queue/internal/session"
	"smart-queue/internal/status"
	"smart-queue/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	server *Server
	http   *httptest.Server
	clock  *clockwork.FakeClock

	staff   models.User
	student models.User
	service models.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	server, err := NewServer(Config{Secret: "test-secret", HashCost: bcrypt.MinCost, Clock: clock})
	require.NoError(t, err)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(server.Close)

	h := &harness{server: server, http: srv, clock: clock}
	h.staff = h.seed(t, "grace", models.RoleStaff)
	h.student = h.seed(t, "ada", models.RoleStudent)
	h.service = server.Store().CreateService(models.ServiceInput{
		Name:     "Registrar",
		IsActive: true,
		Staff:    []int64{h.staff.ID},
	})
	return h
}

func (h *harness) seed(t *testing.T, username string, role models.Role) models.User {
	t.Helper()
	u, err := h.server.SeedUser(models.UserInput{Username: username, Password: "password1", Role: role})
	require.NoError(t, err)
	return u
}

// client returns an API client logged in as username.
func (h *harness) client(t *testing.T, username string) *api.Client {
	t.Helper()
	c, err := api.NewClient(api.Config{BaseURL: h.http.URL + "/api"}, session.NewMemoryStore(), api.WithClock(h.clock))
	require.NoError(t, err)
	_, err = c.Login(context.Background(), username, "password1")
	require.NoError(t, err)
	return c
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws/notifications/"
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.client(t, "ada")
	creds, err := c.Store().Load(ctx)
	require.NoError(t, err)
	role, ok := creds.Role()
	require.True(t, ok)
	assert.Equal(t, models.RoleStudent, role)
	assert.Equal(t, h.student.ID, creds.UserID())

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada", me.Username)

	anon, err := api.NewClient(api.Config{BaseURL: h.http.URL + "/api"}, session.NewMemoryStore())
	require.NoError(t, err)
	_, err = anon.Login(ctx, "ada", "wrong-password")
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, "No active account found with the given credentials", api.Detail(err))
}

func TestRegister(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c, err := api.NewClient(api.Config{BaseURL: h.http.URL + "/api"}, session.NewMemoryStore())
	require.NoError(t, err)

	u, err := c.Register(ctx, models.UserInput{Username: "linus", Password: "password1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, u.Role)

	_, err = c.Register(ctx, models.UserInput{Username: "linus", Password: "password1"})
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusBadRequest))
	assert.Contains(t, api.Detail(err), "username")

	_, err = c.Register(ctx, models.UserInput{Username: "  ", Password: "password1"})
	require.Error(t, err)
	assert.Contains(t, api.Detail(err), "cannot be blank")
}

func TestJoinAndCallNext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	student := h.client(t, "ada")
	staff := h.client(t, "grace")

	require.NoError(t, student.Join(ctx, h.service.ID))

	err := student.Join(ctx, h.service.ID)
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusBadRequest))
	assert.Equal(t, "You are already in the queue for this service.", api.Detail(err))

	err = student.Join(ctx, 999)
	require.Error(t, err)
	assert.Contains(t, api.Detail(err), "service")

	mine, err := student.MyQueues(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, 1, mine[0].TokenNumber)
	assert.Equal(t, models.StatusWaiting, mine[0].Status)

	queue, err := student.QueueStatus(ctx, h.service.ID)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	entry, err := staff.CallNext(ctx, h.service.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, entry.Status)
	assert.Equal(t, h.student.ID, entry.User.ID)

	_, err = staff.CallNext(ctx, h.service.ID, nil)
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusNotFound))
	assert.Equal(t, "No users in the queue.", api.Detail(err))

	msg, err := staff.Complete(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "Service completed.", msg)

	_, err = staff.Skip(ctx, entry.ID)
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusBadRequest))

	// A finished entry no longer blocks a new join.
	require.NoError(t, student.Join(ctx, h.service.ID))
	mine, err = student.MyQueues(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, 2, mine[0].TokenNumber)
}

func TestManage_Forbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other := h.server.Store().CreateService(models.ServiceInput{Name: "Library", IsActive: true})

	student := h.client(t, "ada")
	staff := h.client(t, "grace")

	_, err := student.CallNext(ctx, h.service.ID, nil)
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusForbidden))

	_, err = staff.CallNext(ctx, other.ID, nil)
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusForbidden))
	assert.Equal(t, "You are not authorized to manage this service.", api.Detail(err))

	_, err = staff.CallNext(ctx, 999, nil)
	assert.True(t, api.IsStatus(err, http.StatusNotFound))

	services, err := staff.MyServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, h.service.ID, services[0].ID)
}

func TestCustomNotification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	student := h.client(t, "ada")
	staff := h.client(t, "grace")

	require.NoError(t, student.Join(ctx, h.service.ID))
	queue, err := staff.QueueStatus(ctx, h.service.ID)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	_, err = staff.SendCustomNotification(ctx, queue[0].ID, "")
	require.Error(t, err)
	assert.Equal(t, "Message text is required.", api.Detail(err))

	msg, err := staff.SendCustomNotification(ctx, queue[0].ID, "Bring your ID card")
	require.NoError(t, err)
	assert.Equal(t, "Custom notification sent.", msg)
}

func TestAnalytics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "root", models.RoleAdmin)
	student := h.client(t, "ada")
	staff := h.client(t, "grace")
	admin := h.client(t, "root")

	require.NoError(t, student.Join(ctx, h.service.ID))
	h.clock.Advance(3 * time.Minute)
	entry, err := staff.CallNext(ctx, h.service.ID, nil)
	require.NoError(t, err)
	_, err = staff.Skip(ctx, entry.ID)
	require.NoError(t, err)

	rows, err := admin.Analytics(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].TotalUsers)
	assert.Equal(t, 1, rows[0].SkippedUsers)
	assert.Equal(t, "00:03:00", rows[0].AverageWaitTime)

	_, err = staff.Analytics(ctx)
	assert.True(t, api.IsStatus(err, http.StatusForbidden))
}

func TestAdminCRUD(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "root", models.RoleAdmin)
	admin := h.client(t, "root")

	svc, err := admin.CreateService(ctx, models.ServiceInput{Name: "Finance", IsActive: true})
	require.NoError(t, err)

	_, err = admin.CreateService(ctx, models.ServiceInput{Name: " "})
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusBadRequest))

	counter, err := admin.CreateCounter(ctx, models.CounterInput{Name: "A1", Service: svc.ID, IsActive: true})
	require.NoError(t, err)

	_, err = admin.CreateCounter(ctx, models.CounterInput{Name: "A2", Service: 999})
	require.Error(t, err)

	svc, err = admin.UpdateService(ctx, svc.ID, models.ServiceInput{Name: "Finance Office", IsActive: false})
	require.NoError(t, err)
	assert.Equal(t, "Finance Office", svc.Name)
	require.Len(t, svc.Counters, 1)

	u, err := admin.CreateUser(ctx, models.UserInput{Username: "bob", Password: "password1", Role: models.RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStaff, u.Role)

	_, err = admin.CreateUser(ctx, models.UserInput{Username: "nopass"})
	require.Error(t, err)

	u, err = admin.UpdateUser(ctx, u.ID, models.UserInput{Username: "bobby", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "bobby", u.Username)

	require.NoError(t, admin.DeleteCounter(ctx, counter.ID))
	require.NoError(t, admin.DeleteService(ctx, svc.ID))
	require.NoError(t, admin.DeleteUser(ctx, u.ID))
	assert.True(t, api.IsStatus(admin.DeleteUser(ctx, u.ID), http.StatusNotFound))

	users, err := admin.AdminUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)
}

func TestRefreshFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.client(t, "ada")

	before, err := c.Store().Load(ctx)
	require.NoError(t, err)

	h.clock.Advance(6 * time.Minute)
	_, err = c.MyQueues(ctx)
	require.NoError(t, err)

	after, err := c.Store().Load(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.Access, after.Access)
	assert.Equal(t, before.Refresh, after.Refresh)

	h.clock.Advance(25 * time.Hour)
	_, err = c.MyQueues(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrSessionExpired)
}

func nextFrame(t *testing.T, src push.Source) models.Envelope {
	t.Helper()
	select {
	case data, ok := <-src.Frames():
		require.True(t, ok, "source closed")
		env, err := models.DecodeEnvelope(data)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return models.Envelope{}
}

func TestWebSocketNotifications(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	student := h.client(t, "ada")
	staff := h.client(t, "grace")

	require.NoError(t, student.Join(ctx, h.service.ID))

	creds, err := student.Store().Load(ctx)
	require.NoError(t, err)
	src, err := push.NewSource(ctx, push.TransportWebSocket, push.Config{WSURL: h.wsURL(), Access: creds.Access})
	require.NoError(t, err)
	defer src.Close()

	hello, err := nextFrame(t, src).Payload()
	require.NoError(t, err)
	assert.Equal(t, "Connection established", hello.Text())

	_, err = staff.CallNext(ctx, h.service.ID, nil)
	require.NoError(t, err)

	personal := nextFrame(t, src)
	assert.Equal(t, models.NotifyUser, personal.Type)
	n, err := personal.Payload()
	require.NoError(t, err)
	assert.Equal(t, models.NotifyQueueUpdate, n.Type)
	assert.Equal(t, models.StatusInProgress, n.Status)
	assert.Equal(t, 1, n.Token)
	assert.Contains(t, n.Message, "It's your turn for Registrar")

	public, err := nextFrame(t, src).Payload()
	require.NoError(t, err)
	assert.Equal(t, models.NotifyPublicUpdate, public.Type)
	assert.Equal(t, 1, public.NowServing)
}

func TestWebSocket_StaffQueueUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	student := h.client(t, "ada")
	staff := h.client(t, "grace")

	creds, err := staff.Store().Load(ctx)
	require.NoError(t, err)
	src, err := push.NewSource(ctx, push.TransportWebSocket, push.Config{WSURL: h.wsURL(), Access: creds.Access})
	require.NoError(t, err)
	defer src.Close()
	nextFrame(t, src)

	require.NoError(t, student.Join(ctx, h.service.ID))

	env := nextFrame(t, src)
	assert.Equal(t, models.NotifyStaff, env.Type)
	n, err := env.Payload()
	require.NoError(t, err)
	serviceID, queue, ok := n.QueueSnapshot()
	require.True(t, ok)
	assert.Equal(t, h.service.ID, serviceID)
	require.Len(t, queue, 1)
	assert.Equal(t, h.student.ID, queue[0].User.ID)
}

func TestWebSocket_RequiresToken(t *testing.T) {
	h := newHarness(t)
	_, err := push.NewSource(context.Background(), push.TransportWebSocket, push.Config{WSURL: h.wsURL()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHubMatcher(t *testing.T) {
	hub := NewHub(func(userID int64, _ models.Role, serviceID int64) bool {
		return userID == 1 && serviceID == 10
	})
	staff := &clientWriter{userID: 1, role: models.RoleStaff}
	student := &clientWriter{userID: 2, role: models.RoleStudent}

	tests := []struct {
		channel string
		client  *clientWriter
		want    bool
	}{
		{publicChannel, student, true},
		{userChannel(2), student, true},
		{userChannel(2), staff, false},
		{staffChannel(10), staff, true},
		{staffChannel(11), staff, false},
		{staffChannel(10), student, false},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			match, err := hub.matcher(tt.channel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, match(tt.client))
		})
	}

	_, err := hub.matcher("lobby")
	assert.Error(t, err)
	_, err = hub.matcher("user-x")
	assert.Error(t, err)
}
