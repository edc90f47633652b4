package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"smart-queue/internal/session"
	"smart-queue/internal/status"
	"smart-queue/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func token(t *testing.T, role string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, session.Claims{
		Role:             role,
		UserID:           7,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return tok
}

type fixture struct {
	client  *Client
	store   *session.MemoryStore
	server  *httptest.Server
	mux     *http.ServeMux
	clock   *clockwork.FakeClock
	stale   string
	fresh   string
	refresh string

	refreshCalls atomic.Int32
}

// newFixture serves a refresh endpoint that hands out f.fresh and accepts
// only f.fresh on authenticated routes registered by the test.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mux:   http.NewServeMux(),
		store: session.NewMemoryStore(),
		clock: clockwork.NewFakeClockAt(testNow),
	}
	f.stale = token(t, "staff", testNow.Add(-time.Minute))
	f.fresh = token(t, "staff", testNow.Add(5*time.Minute))
	f.refresh = token(t, "staff", testNow.Add(24*time.Hour))

	f.mux.HandleFunc("/api/users/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["refresh"] != f.refresh {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
			return
		}
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]string{"access": f.fresh})
	})

	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)

	client, err := NewClient(Config{BaseURL: f.server.URL + "/api/"}, f.store, WithClock(f.clock))
	require.NoError(t, err)
	f.client = client
	return f
}

func (f *fixture) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+f.fresh
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "/api"}, session.NewMemoryStore())
	assert.Error(t, err)
}

func TestClient_Login(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/api/users/token/", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret123" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"No active account found with the given credentials"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access": f.fresh, "refresh": f.refresh})
	})

	_, err := f.client.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, "No active account found with the given credentials", Detail(err))

	creds, err := f.client.Login(context.Background(), "alice", "secret123")
	require.NoError(t, err)
	stored, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, creds, stored)
	assert.Equal(t, f.refresh, stored.Refresh)
}

func TestClient_RefreshesOnceAndReplays(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	f.mux.HandleFunc("/api/queue/my-queues/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]models.QueueEntry{{ID: 1, TokenNumber: 3, Status: models.StatusWaiting}})
	})
	require.NoError(t, f.store.Save(context.Background(), session.Credentials{Access: f.stale, Refresh: f.refresh}))

	entries, err := f.client.MyQueues(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].TokenNumber)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), f.refreshCalls.Load())

	stored, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.fresh, stored.Access)
	assert.Equal(t, f.refresh, stored.Refresh)
}

func TestClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/api/queue/status/1/", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	})
	require.NoError(t, f.store.Save(context.Background(), session.Credentials{Access: f.stale, Refresh: f.refresh}))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.client.QueueStatus(context.Background(), 1)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.refreshCalls.Load())
}

func TestClient_Credentials(t *testing.T) {
	ctx := context.Background()

	t.Run("current access is returned as is", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Save(ctx, session.Credentials{Access: f.fresh, Refresh: f.refresh}))

		creds, err := f.client.Credentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, f.fresh, creds.Access)
		assert.Equal(t, int32(0), f.refreshCalls.Load())
	})

	t.Run("expired access is refreshed", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Save(ctx, session.Credentials{Access: f.stale, Refresh: f.refresh}))

		creds, err := f.client.Credentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, f.fresh, creds.Access)
		assert.Equal(t, f.refresh, creds.Refresh)
		assert.Equal(t, int32(1), f.refreshCalls.Load())

		stored, err := f.store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, f.fresh, stored.Access)
	})

	t.Run("expired refresh ends the session", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Save(ctx, session.Credentials{Access: f.stale, Refresh: f.refresh}))
		f.clock.Advance(48 * time.Hour)

		_, err := f.client.Credentials(ctx)
		assert.ErrorIs(t, err, status.ErrSessionExpired)
		_, err = f.store.Load(ctx)
		assert.ErrorIs(t, err, status.ErrNoCredential)
	})

	t.Run("no credential", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.client.Credentials(ctx)
		assert.ErrorIs(t, err, status.ErrNoCredential)
	})
}

func TestClient_ExpiredRefreshEndsSession(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/api/users/me/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	require.NoError(t, f.store.Save(context.Background(), session.Credentials{Access: f.stale, Refresh: f.refresh}))
	f.clock.Advance(48 * time.Hour)

	_, err := f.client.Me(context.Background())
	assert.ErrorIs(t, err, status.ErrSessionExpired)
	assert.Equal(t, int32(0), f.refreshCalls.Load())

	_, err = f.store.Load(context.Background())
	assert.ErrorIs(t, err, status.ErrNoCredential)
}

func TestClient_FailedRefreshEndsSession(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/api/users/me/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	other := token(t, "staff", testNow.Add(time.Hour))
	require.NoError(t, f.store.Save(context.Background(), session.Credentials{Access: f.stale, Refresh: other}))

	_, err := f.client.Me(context.Background())
	assert.ErrorIs(t, err, status.ErrSessionExpired)
	assert.Equal(t, int32(1), f.refreshCalls.Load())

	_, err = f.store.Load(context.Background())
	assert.ErrorIs(t, err, status.ErrNoCredential)
}

func TestClient_SecondUnauthorizedIsNotRetried(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	f.mux.HandleFunc("/api/users/me/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"User is inactive"}`))
	})
	require.NoError(t, f.store.Save(context.Background(), session.Credentials{Access: f.stale, Refresh: f.refresh}))

	_, err := f.client.Me(context.Background())
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, "User is inactive", Detail(err))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), f.refreshCalls.Load())
}

func TestClient_NoCredential(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/api/users/me/", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := f.client.Me(context.Background())
	assert.ErrorIs(t, err, status.ErrNoCredential)
	assert.Equal(t, int32(0), f.refreshCalls.Load())
}

func TestClient_CallNextCounterIsOptional(t *testing.T) {
	f := newFixture(t)
	var bodies []map[string]any
	f.mux.HandleFunc("/api/queue/manage/4/call_next/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		json.NewEncoder(w).Encode(models.QueueEntry{ID: 9, Status: models.StatusInProgress})
	})
	require.NoError(t, f.store.Save(context.Background(), session.Credentials{Access: f.fresh, Refresh: f.refresh}))

	entry, err := f.client.CallNext(context.Background(), 4, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, entry.Status)

	counter := int64(2)
	_, err = f.client.CallNext(context.Background(), 4, &counter)
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Empty(t, bodies[0])
	assert.Equal(t, float64(2), bodies[1]["counter_id"])
}

func TestClient_ManageReturnsDetail(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/api/queue/manage/11/send_custom_notification/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["message"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"Message text is required."}`))
			return
		}
		w.Write([]byte(`{"detail":"Custom notification sent."}`))
	})
	require.NoError(t, f.store.Save(context.Background(), session.Credentials{Access: f.fresh, Refresh: f.refresh}))

	detail, err := f.client.SendCustomNotification(context.Background(), 11, "come to desk 2")
	require.NoError(t, err)
	assert.Equal(t, "Custom notification sent.", detail)

	_, err = f.client.SendCustomNotification(context.Background(), 11, "")
	assert.True(t, IsStatus(err, http.StatusBadRequest))
	assert.Equal(t, "Message text is required.", Detail(err))
}

func TestExtractDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail", `{"detail":"No users in the queue."}`, "No users in the queue."},
		{"bare list", `["You are already in the queue for this service."]`, "You are already in the queue for this service."},
		{"non field", `{"non_field_errors":["Invalid pair."]}`, "Invalid pair."},
		{"field errors", `{"username":["A user with that username already exists."]}`, "username: A user with that username already exists."},
		{"html", `<html>oops</html>`, ""},
		{"plain", `bad gateway`, "bad gateway"},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractDetail([]byte(tt.body)))
		})
	}

	err := newError(http.StatusBadGateway, []byte(`<html></html>`))
	assert.Equal(t, "Bad Gateway", err.Detail)
	assert.False(t, IsStatus(errors.New("x"), http.StatusBadGateway))
}
