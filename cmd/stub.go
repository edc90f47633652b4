package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"smart-queue/handlers"
	"smart-queue/models"
	"smart-queue/utils"

	"github.com/nats-io/nats.go"
)

type ServeStubCmd struct {
	Addr      string        `help:"Listen address, overrides STUB_ADDR"`
	Redis     bool          `help:"Rate limit joins through Redis at REDIS_URL"`
	NATS      bool          `name:"nats" help:"Mirror push frames to NATS at NATS_URL"`
	Seed      bool          `help:"Create demo accounts and a service"`
	AccessTTL time.Duration `name:"access-ttl" help:"Access token lifetime" default:"5m"`
}

func (c *ServeStubCmd) Run(ctx context.Context, app *App) error {
	cfg := handlers.Config{
		Secret:     app.cfg.StubSecret,
		AccessTTL:  c.AccessTTL,
		JoinLimit:  int64(app.cfg.StubJoinLimit),
		JoinWindow: app.cfg.StubJoinWindow,
	}

	if c.Redis {
		rdb, err := utils.NewRedisClient(ctx, app.cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cfg.Redis = rdb
	}

	if c.NATS {
		if app.cfg.NATSURL == "" {
			return errors.New("serve-stub: --nats needs NATS_URL")
		}
		nc, err := nats.Connect(app.cfg.NATSURL, nats.Name("queuectl-stub"))
		if err != nil {
			return fmt.Errorf("serve-stub: nats connect: %w", err)
		}
		defer nc.Drain()
		cfg.NATS = nc
		cfg.NATSNamespace = app.cfg.NATSSubjectNS
	}

	server, err := handlers.NewServer(cfg)
	if err != nil {
		return err
	}
	defer server.Close()

	if c.Seed {
		if err := seedDemo(server); err != nil {
			return err
		}
		app.printf("Seeded users admin, staff, student (password %q).\n", demoPassword)
	}

	addr := c.Addr
	if addr == "" {
		addr = app.cfg.StubAddr
	}
	srv := &http.Server{Addr: addr, Handler: server.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("stub shutdown", "error", err)
		}
	}()

	slog.Info("stub backend listening", "addr", addr, "redis", c.Redis, "nats", c.NATS)
	app.printf("Stub backend on http://%s/api\n", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

const demoPassword = "password123"

func seedDemo(server *handlers.Server) error {
	var staffID int64
	for _, u := range []models.UserInput{
		{Username: "admin", Role: models.RoleAdmin, FirstName: "Ada", LastName: "Admin"},
		{Username: "staff", Role: models.RoleStaff, FirstName: "Sam", LastName: "Staff"},
		{Username: "student", Role: models.RoleStudent, FirstName: "Stu", LastName: "Dent"},
	} {
		u.Password = demoPassword
		created, err := server.SeedUser(u)
		if err != nil {
			return fmt.Errorf("seed %s: %w", u.Username, err)
		}
		if created.Role == models.RoleStaff {
			staffID = created.ID
		}
	}

	svc := server.Store().CreateService(models.ServiceInput{
		Name:        "Registrar",
		Description: "Enrolment and transcripts",
		IsActive:    true,
		Staff:       []int64{staffID},
	})
	for _, name := range []string{"A1", "A2"} {
		if _, err := server.Store().CreateCounter(models.CounterInput{Name: name, Service: svc.ID, IsActive: true}); err != nil {
			return fmt.Errorf("seed counter %s: %w", name, err)
		}
	}
	return nil
}
