package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"smart-queue/internal/push"
	"smart-queue/internal/session"
	"smart-queue/internal/status"
	"smart-queue/models"
	"smart-queue/monitoring"
	"smart-queue/security"
	"smart-queue/services"
)

type StaffCmd struct {
	Services StaffServicesCmd `cmd:"" help:"List the services you manage"`
	Queue    StaffQueueCmd    `cmd:"" help:"Show a service's active queue"`
	CallNext CallNextCmd      `cmd:"" name:"call-next" help:"Call the next waiting user"`
	Complete CompleteCmd      `cmd:"" help:"Mark an entry as served"`
	Skip     SkipCmd          `cmd:"" help:"Skip an entry"`
	Reject   RejectCmd        `cmd:"" help:"Reject an entry"`
	Notify   NotifyCmd        `cmd:"" help:"Send a message to an entry's owner"`
	Watch    StaffWatchCmd    `cmd:"" help:"Follow a service's queue live"`
}

func (a *App) staffService(ctx context.Context) (*services.StaffService, error) {
	if _, err := a.Require(ctx, security.RouteStaff); err != nil {
		return nil, err
	}
	client, err := a.Client(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewStaffService(client, services.NewQueueCache()), nil
}

type StaffServicesCmd struct{}

func (c *StaffServicesCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.staffService(ctx)
	if err != nil {
		return err
	}
	list, err := svc.MyServices(ctx)
	if err != nil {
		return err
	}

	w := app.table()
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tCOUNTERS")
	for _, s := range list {
		names := make([]string, 0, len(s.Counters))
		for _, ctr := range s.Counters {
			names = append(names, fmt.Sprintf("%s(%d)", ctr.Name, ctr.ID))
		}
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", s.ID, s.Name, s.IsActive, strings.Join(names, ", "))
	}
	return w.Flush()
}

type StaffQueueCmd struct {
	Service int64 `arg:"" help:"Service id"`
}

func (c *StaffQueueCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.staffService(ctx)
	if err != nil {
		return err
	}
	snap, err := svc.Select(ctx, c.Service)
	if err != nil {
		return err
	}
	printQueue(app, snap)
	return nil
}

func printQueue(app *App, snap services.Snapshot) {
	app.printf("Service %d, version %d, %d active\n", snap.ServiceID, snap.Version, len(snap.Entries))
	w := app.table()
	fmt.Fprintln(w, "ENTRY\tTOKEN\tUSER\tSTATUS\tCOUNTER")
	for _, e := range snap.Entries {
		counter := "-"
		if e.Counter != nil {
			counter = e.Counter.Name
		}
		fmt.Fprintf(w, "%d\t#%d\t%s\t%s\t%s\n", e.ID, e.TokenNumber, e.User.FullName(), e.Status, counter)
	}
	w.Flush()
}

type CallNextCmd struct {
	Service int64  `arg:"" help:"Service id"`
	Counter *int64 `help:"Counter to serve from; the server picks one when omitted"`
}

func (c *CallNextCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.staffService(ctx)
	if err != nil {
		return err
	}
	snap, err := svc.Select(ctx, c.Service)
	if err != nil {
		return err
	}
	if !services.CanCallNext(snap.Entries) {
		return errors.New("nobody is waiting in this queue")
	}

	entry, err := svc.CallNext(ctx, c.Service, c.Counter)
	if err != nil {
		return err
	}
	app.printf("Now serving token #%d: %s\n", entry.TokenNumber, entry.User.FullName())
	if snap, ok := svc.Cache().Snapshot(); ok {
		printQueue(app, snap)
	}
	return nil
}

// EntryAction holds what complete, skip and reject share.
type EntryAction struct {
	Entry   int64 `arg:"" help:"Queue entry id"`
	Service int64 `help:"Service to show afterwards"`
}

type staffAction func(*services.StaffService, context.Context, int64) (string, error)

func (c *EntryAction) run(ctx context.Context, app *App, act staffAction) error {
	svc, err := app.staffService(ctx)
	if err != nil {
		return err
	}
	if c.Service != 0 {
		if _, err := svc.Select(ctx, c.Service); err != nil {
			return err
		}
	}

	detail, err := act(svc, ctx, c.Entry)
	if err != nil {
		return err
	}
	app.printf("%s\n", detail)
	if snap, ok := svc.Cache().Snapshot(); ok {
		printQueue(app, snap)
	}
	return nil
}

type CompleteCmd struct {
	EntryAction `embed:""`
}

func (c *CompleteCmd) Run(ctx context.Context, app *App) error {
	return c.run(ctx, app, (*services.StaffService).Complete)
}

type SkipCmd struct {
	EntryAction `embed:""`
}

func (c *SkipCmd) Run(ctx context.Context, app *App) error {
	return c.run(ctx, app, (*services.StaffService).Skip)
}

type RejectCmd struct {
	EntryAction `embed:""`
}

func (c *RejectCmd) Run(ctx context.Context, app *App) error {
	return c.run(ctx, app, (*services.StaffService).Reject)
}

type NotifyCmd struct {
	Entry   int64  `arg:"" help:"Queue entry id"`
	Message string `arg:"" help:"Message text"`
}

func (c *NotifyCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.staffService(ctx)
	if err != nil {
		return err
	}
	detail, err := svc.Notify(ctx, c.Entry, c.Message)
	if err != nil {
		return err
	}
	app.printf("%s\n", detail)
	return nil
}

type StaffWatchCmd struct {
	Service int64 `arg:"" help:"Service id"`
	Max     int   `help:"Stop after this many queue updates (0 = until interrupted)"`
}

// Run keeps the selected queue current from two sources: pushed snapshots
// and a periodic refetch. Both draw sequence numbers from the cache so the
// newer one always wins.
func (c *StaffWatchCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.staffService(ctx)
	if err != nil {
		return err
	}
	cache := svc.Cache()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if addr := app.cfg.MetricsAddr; addr != "" {
		go func() {
			if err := monitoring.Serve(ctx, addr); err != nil {
				slog.Error("metrics server", "addr", addr, "error", err)
			}
		}()
	}

	transport, open, err := app.Opener(c.Service)
	if err != nil {
		return err
	}
	sub := push.NewSubscriber(transport, open, push.WithSequence(cache.NextSeq))
	feed := sub.Subscribe()
	defer feed.Close()

	if _, err := svc.Select(ctx, c.Service); err != nil {
		return err
	}

	refresher, err := services.NewRefresher(app.cfg.RefetchInterval, app.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	if err := refresher.Register(fmt.Sprintf("staff-queue-%d", c.Service), svc.Refetch); err != nil {
		return err
	}
	refresher.Start()
	defer refresher.Stop()

	var logout <-chan session.Change
	store, err := app.Store(ctx)
	if err != nil {
		return err
	}
	if fs, ok := store.(*session.FileStore); ok {
		if logout, err = fs.Watch(ctx); err != nil {
			slog.Warn("session watch unavailable", "error", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	shown := 0
	for {
		select {
		case err := <-done:
			if errors.Is(err, status.ErrSourceClosed) {
				app.printf("Notification channel closed.\n")
				return nil
			}
			return err

		case err := <-refresher.Errors():
			return err

		case msg := <-feed.C():
			result := svc.HandleEnvelope(msg.Envelope, msg.Seq)
			slog.Debug("push envelope", "kind", msg.Envelope.Kind(), "seq", msg.Seq, "result", result)
			if result == services.Ignored {
				if n, err := msg.Envelope.Payload(); err == nil && n.Type != models.NotifyQueueUpdate {
					app.printf("%s\n", n.Text())
				}
			}

		case <-cache.Changed():
			snap, ok := cache.Snapshot()
			if !ok {
				continue
			}
			printQueue(app, snap)
			shown++
			if c.Max > 0 && shown >= c.Max {
				return nil
			}

		case change, ok := <-logout:
			if !ok {
				logout = nil
				continue
			}
			if change == session.ChangeRemoved {
				return fmt.Errorf("%w: session removed by another process", status.ErrSessionExpired)
			}
			if _, err := app.Require(ctx, security.RouteStaff); err != nil {
				return err
			}
		}
	}
}
