package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"smart-queue/config"
	"smart-queue/internal/status"
	"smart-queue/monitoring"

	"github.com/alecthomas/kong"
)

var version = "dev"

// CLI is the queuectl command tree. Each page of the web client is a
// command group.
type CLI struct {
	Verbose bool             `short:"v" help:"Enable debug logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`
	BaseURL string           `name:"base-url" help:"API root, overrides QUEUE_API_URL"`
	Profile string           `help:"Session profile, overrides SESSION_PROFILE"`

	Login    LoginCmd    `cmd:"" help:"Log in and store the token pair"`
	Logout   LogoutCmd   `cmd:"" help:"Forget the stored token pair"`
	Register RegisterCmd `cmd:"" help:"Create a student account"`
	Whoami   WhoamiCmd   `cmd:"" help:"Show the logged in user"`

	Student   StudentCmd   `cmd:"" help:"Join queues and follow your tokens"`
	Staff     StaffCmd     `cmd:"" help:"Serve the queues you are assigned to"`
	Admin     AdminCmd     `cmd:"" help:"Manage services, users, counters and analytics"`
	ServeStub ServeStubCmd `cmd:"" name:"serve-stub" help:"Run the in-memory backend for local development"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// Execute parses os.Args and runs the selected command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, status.ErrSessionExpired) || errors.Is(err, status.ErrNoCredential) {
		return fmt.Errorf("%w (run `queuectl login`)", err)
	}
	return err
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...appOption) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("queuectl"),
		kong.Description("Command line client for the smart queue system."),
		kong.Vars{"version": version},
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cli.BaseURL != "" {
		cfg.BaseURL = cli.BaseURL
		if cfg.WSURL, err = config.DeriveWSURL(cfg.BaseURL); err != nil {
			return err
		}
	}
	if cli.Profile != "" {
		cfg.Profile = cli.Profile
	}

	shutdown := monitoring.SetupTracing(ctx, "queuectl", cfg.OTELEndpoint, cfg.OTELInsecure)
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	app := newApp(cfg, stdout, opts...)
	defer app.Close()

	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(app)
}
