package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"smart-queue/models"
	"smart-queue/security"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"
)

// Channel names shared by every publisher.
const (
	publicChannel = "public"
	userPrefix    = "user-"
	staffPrefix   = "staff-"
)

func userChannel(id int64) string  { return fmt.Sprintf("%s%d", userPrefix, id) }
func staffChannel(id int64) string { return fmt.Sprintf("%s%d", staffPrefix, id) }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type clientWriter struct {
	conn   *websocket.Conn
	userID int64
	role   models.Role
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newClientWriter(conn *websocket.Conn, userID int64, role models.Role) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		userID: userID,
		role:   role,
		sendCh: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg := <-cw.sendCh:
			cw.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				cw.stop()
				return
			}
		case <-cw.done:
			return
		}
	}
}

// enqueue drops the frame when the client is not keeping up.
func (cw *clientWriter) enqueue(frame []byte) {
	select {
	case cw.sendCh <- frame:
	case <-cw.done:
	default:
		slog.Warn("dropping frame for slow websocket client", "user_id", cw.userID)
	}
}

func (cw *clientWriter) stop() {
	cw.once.Do(func() {
		close(cw.done)
		cw.conn.Close()
	})
}

// Hub fans frames out to connected websocket clients. Every client hears
// its own user channel and the public channel; staff and admins also hear
// the staff channel of each service they may manage.
type Hub struct {
	canManage func(userID int64, role models.Role, serviceID int64) bool

	mu      sync.RWMutex
	clients map[*clientWriter]struct{}
}

func NewHub(canManage func(userID int64, role models.Role, serviceID int64) bool) *Hub {
	return &Hub{
		canManage: canManage,
		clients:   make(map[*clientWriter]struct{}),
	}
}

// ServeWS upgrades an authenticated request and keeps the connection
// until the client goes away.
func (h *Hub) ServeWS(c echo.Context) error {
	userID, role, ok := security.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	cw := newClientWriter(conn, userID, role)
	h.mu.Lock()
	h.clients[cw] = struct{}{}
	h.mu.Unlock()
	slog.Debug("websocket client registered", "user_id", userID, "role", role)

	cw.enqueue([]byte(`{"message":"Connection established"}`))

	// Clients never send anything meaningful; read until the peer closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, cw)
	h.mu.Unlock()
	cw.stop()
	slog.Debug("websocket client unregistered", "user_id", userID)
	return nil
}

// Publish delivers frame to every client listening on channel.
func (h *Hub) Publish(channel string, frame []byte) error {
	match, err := h.matcher(channel)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for cw := range h.clients {
		if match(cw) {
			cw.enqueue(frame)
		}
	}
	return nil
}

func (h *Hub) matcher(channel string) (func(*clientWriter) bool, error) {
	switch {
	case channel == publicChannel:
		return func(*clientWriter) bool { return true }, nil

	case strings.HasPrefix(channel, userPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(channel, userPrefix), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("hub: bad channel %q", channel)
		}
		return func(cw *clientWriter) bool { return cw.userID == id }, nil

	case strings.HasPrefix(channel, staffPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(channel, staffPrefix), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("hub: bad channel %q", channel)
		}
		return func(cw *clientWriter) bool {
			if cw.role != models.RoleStaff && cw.role != models.RoleAdmin {
				return false
			}
			return h.canManage(cw.userID, cw.role, id)
		}, nil
	}
	return nil, fmt.Errorf("hub: unknown channel %q", channel)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cw := range h.clients {
		cw.stop()
		delete(h.clients, cw)
	}
}
