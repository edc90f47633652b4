package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"smart-queue/models"
	"smart-queue/security"
	"smart-queue/services"
	"smart-queue/utils"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Config configures the stub backend.
type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	HashCost   int
	Clock      clockwork.Clock

	// Optional. Joins are rate limited per user when Redis is set.
	Redis      *redis.Client
	JoinLimit  int64
	JoinWindow time.Duration

	// Optional. Frames are mirrored to NATS when a connection is set.
	NATS          *nats.Conn
	NATSNamespace string
}

// Server is an in-memory stand-in for the queue backend. It serves the
// REST API under /api and push frames at /ws/notifications/.
type Server struct {
	store  *Store
	tokens *security.TokenIssuer
	hub    *Hub
	notify *Notifier
	echo   *echo.Echo
	redis  *redis.Client
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 5 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}

	tokens, err := security.NewTokenIssuer(cfg.Secret, cfg.AccessTTL, cfg.RefreshTTL, cfg.Clock)
	if err != nil {
		return nil, err
	}

	store := NewStore(cfg.Clock, cfg.HashCost)
	hub := NewHub(store.CanManage)
	publishers := []Publisher{hub}
	if cfg.NATS != nil {
		publishers = append(publishers, NewNATSPublisher(cfg.NATS, cfg.NATSNamespace))
	}

	s := &Server{
		store:  store,
		tokens: tokens,
		hub:    hub,
		notify: NewNotifier(publishers...),
		echo:   echo.New(),
		redis:  cfg.Redis,
	}
	s.routes(cfg)
	return s, nil
}

func (s *Server) routes(cfg Config) {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(s.tokens.Authenticate())

	authed := security.RequireRole()
	staff := security.RequireRole(models.RoleStaff, models.RoleAdmin)
	admin := security.RequireRole(models.RoleAdmin)

	joinMiddleware := []echo.MiddlewareFunc{authed}
	if cfg.Redis != nil {
		limit, window := cfg.JoinLimit, cfg.JoinWindow
		if limit <= 0 {
			limit = 10
		}
		if window <= 0 {
			window = time.Minute
		}
		joinMiddleware = append(joinMiddleware, security.NewRateLimiter(cfg.Redis, limit, window).JoinRateLimit())
	}

	api := e.Group("/api")

	api.POST("/users/register/", s.register)
	api.POST("/users/token/", s.obtainToken)
	api.POST("/users/token/refresh/", s.refreshToken)
	api.GET("/users/me/", s.me, authed)

	api.GET("/services/services/", s.listServices, authed)
	api.GET("/services/services/:id/", s.getService, authed)

	api.POST("/queue/join/", s.join, joinMiddleware...)
	api.GET("/queue/my-queues/", s.myQueues, authed)
	api.GET("/queue/status/:id/", s.queueStatus)
	api.POST("/queue/manage/:id/:action/", s.manage, staff)
	api.GET("/staff/my-services/", s.myServices, staff)

	api.GET("/admin/services/", s.adminListServices, admin)
	api.POST("/admin/services/", s.adminCreateService, admin)
	api.PUT("/admin/services/:id/", s.adminUpdateService, admin)
	api.DELETE("/admin/services/:id/", s.adminDeleteService, admin)
	api.GET("/admin/users/", s.adminListUsers, admin)
	api.POST("/admin/users/", s.adminCreateUser, admin)
	api.PUT("/admin/users/:id/", s.adminUpdateUser, admin)
	api.DELETE("/admin/users/:id/", s.adminDeleteUser, admin)
	api.GET("/admin/counters/", s.adminListCounters, admin)
	api.POST("/admin/counters/", s.adminCreateCounter, admin)
	api.DELETE("/admin/counters/:id/", s.adminDeleteCounter, admin)
	api.GET("/analytics/services/", s.analytics, admin)

	e.GET("/ws/notifications/", s.hub.ServeWS, authed)
	e.GET("/health", s.health)
}

func (s *Server) health(c echo.Context) error {
	if s.redis != nil {
		if err := utils.RedisHealthCheck(c.Request().Context(), s.redis); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "healthy", "clients": s.hub.Clients()})
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Tokens() *security.TokenIssuer {
	return s.tokens
}

// Close disconnects push clients.
func (s *Server) Close() {
	s.hub.Close()
}

// Response helpers. Error bodies follow the backend's shapes: a detail
// object, a bare list, or field errors.

func detail(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"detail": msg})
}

func fieldErrors(c echo.Context, fields map[string]string) error {
	body := make(map[string][]string, len(fields))
	for name, msg := range fields {
		body[name] = []string{msg}
	}
	return c.JSON(http.StatusBadRequest, body)
}

func invalid(c echo.Context, err error) error {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return fieldErrors(c, verr.Fields)
	}
	return detail(c, http.StatusBadRequest, err.Error())
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.PathParam("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad id %q", c.PathParam("id"))
	}
	return id, nil
}

func notFound(c echo.Context) error {
	return detail(c, http.StatusNotFound, "Not found.")
}

func caller(c echo.Context) (int64, models.Role) {
	id, role, _ := security.CurrentUser(c)
	return id, role
}
