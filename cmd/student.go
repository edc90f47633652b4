package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"smart-queue/internal/push"
	"smart-queue/internal/status"
	"smart-queue/models"
	"smart-queue/security"
	"smart-queue/services"
)

type StudentCmd struct {
	Services StudentServicesCmd `cmd:"" help:"List services that accept joins"`
	Join     JoinCmd            `cmd:"" help:"Join a service queue"`
	Status   StudentStatusCmd   `cmd:"" help:"Show your queue entries"`
	Watch    StudentWatchCmd    `cmd:"" help:"Follow notifications for your entries"`
}

func (a *App) queueService(ctx context.Context) (*services.QueueService, error) {
	if _, err := a.Require(ctx, security.RouteDashboard); err != nil {
		return nil, err
	}
	client, err := a.Client(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewQueueService(client, a.clock), nil
}

type StudentServicesCmd struct{}

func (c *StudentServicesCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.queueService(ctx)
	if err != nil {
		return err
	}
	list, err := svc.Services(ctx)
	if err != nil {
		return err
	}

	w := app.table()
	fmt.Fprintln(w, "ID\tNAME\tCOUNTERS\tDESCRIPTION")
	for _, s := range list {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", s.ID, s.Name, len(s.Counters), s.Description)
	}
	return w.Flush()
}

type JoinCmd struct {
	Service int64 `arg:"" help:"Service id"`
}

func (c *JoinCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.queueService(ctx)
	if err != nil {
		return err
	}
	entry, err := svc.Join(ctx, c.Service)
	if err != nil {
		return err
	}
	app.printf("Joined %s with token #%d (%s).\n", entry.Service.Name, entry.TokenNumber, entry.Status)
	return nil
}

type StudentStatusCmd struct {
	All bool `help:"Include finished entries"`
}

func (c *StudentStatusCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.queueService(ctx)
	if err != nil {
		return err
	}
	entries, err := svc.MyQueues(ctx)
	if err != nil {
		return err
	}
	printEntries(app, entries, c.All)
	return nil
}

func printEntries(app *App, entries []models.QueueEntry, all bool) {
	w := app.table()
	fmt.Fprintln(w, "TOKEN\tSERVICE\tSTATUS\tCOUNTER\tJOINED")
	for _, e := range entries {
		if !all && !e.Active() {
			continue
		}
		counter := "-"
		if e.Counter != nil {
			counter = e.Counter.Name
		}
		fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\n", e.TokenNumber, e.Service.Name, e.Status, counter, e.CreatedAt.Local().Format("15:04:05"))
	}
	w.Flush()
}

type StudentWatchCmd struct {
	Max int `help:"Stop after this many notifications (0 = until interrupted)"`
}

// Run shows the caller's entries, then prints every pushed notification.
// Personal notices trigger a refetch of the entries.
func (c *StudentWatchCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.queueService(ctx)
	if err != nil {
		return err
	}
	entries, err := svc.MyQueues(ctx)
	if err != nil {
		return err
	}
	printEntries(app, entries, false)

	transport, open, err := app.Opener()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := push.NewSubscriber(transport, open)
	feed := sub.Subscribe()
	defer feed.Close()

	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	seen := 0
	for {
		select {
		case err := <-done:
			if errors.Is(err, status.ErrSourceClosed) {
				app.printf("Notification channel closed.\n")
				return nil
			}
			return err

		case msg := <-feed.C():
			n, personal := svc.HandleEnvelope(msg.Envelope)
			app.printf("[%s] %s\n", app.clock.Now().Format("15:04:05"), n.Text())
			if personal {
				entries, err := svc.MyQueues(ctx)
				if err != nil {
					slog.Warn("refresh my queues", "error", err)
				} else {
					printEntries(app, entries, false)
				}
			}
			seen++
			if c.Max > 0 && seen >= c.Max {
				return nil
			}
		}
	}
}
