package cmd

import (
	"context"
	"fmt"

	"smart-queue/models"
	"smart-queue/security"
	"smart-queue/services"
)

type AdminCmd struct {
	Services  AdminServicesCmd `cmd:"" help:"Manage services"`
	Users     AdminUsersCmd    `cmd:"" help:"Manage users"`
	Counters  AdminCountersCmd `cmd:"" help:"Manage counters"`
	Analytics AnalyticsCmd     `cmd:"" help:"Show today's analytics"`
}

func (a *App) adminService(ctx context.Context) (*services.AdminService, error) {
	if _, err := a.Require(ctx, security.RouteAdmin); err != nil {
		return nil, err
	}
	client, err := a.Client(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewAdminService(client), nil
}

// Services

type AdminServicesCmd struct {
	List   ListServicesCmd  `cmd:"" default:"1" help:"List all services"`
	Create CreateServiceCmd `cmd:"" help:"Create a service"`
	Update UpdateServiceCmd `cmd:"" help:"Replace a service"`
	Delete DeleteServiceCmd `cmd:"" help:"Delete a service"`
}

type ListServicesCmd struct{}

func (c *ListServicesCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	list, err := svc.Services(ctx)
	if err != nil {
		return err
	}
	w := app.table()
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tSTAFF\tCOUNTERS")
	for _, s := range list {
		fmt.Fprintf(w, "%d\t%s\t%t\t%v\t%d\n", s.ID, s.Name, s.IsActive, s.Staff, len(s.Counters))
	}
	return w.Flush()
}

type ServiceFlags struct {
	Name        string  `arg:"" help:"Service name"`
	Description string  `help:"Description"`
	Inactive    bool    `help:"Create the service disabled"`
	Staff       []int64 `help:"Staff user ids assigned to the service"`
}

func (f ServiceFlags) input() models.ServiceInput {
	return models.ServiceInput{
		Name:        f.Name,
		Description: f.Description,
		IsActive:    !f.Inactive,
		Staff:       f.Staff,
	}
}

type CreateServiceCmd struct {
	ServiceFlags `embed:""`
}

func (c *CreateServiceCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	s, err := svc.CreateService(ctx, c.input())
	if err != nil {
		return err
	}
	app.printf("Created service %d (%s).\n", s.ID, s.Name)
	return nil
}

type UpdateServiceCmd struct {
	ID           int64 `arg:"" help:"Service id"`
	ServiceFlags `embed:""`
}

func (c *UpdateServiceCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	s, err := svc.UpdateService(ctx, c.ID, c.input())
	if err != nil {
		return err
	}
	app.printf("Updated service %d (%s).\n", s.ID, s.Name)
	return nil
}

type DeleteServiceCmd struct {
	ID int64 `arg:"" help:"Service id"`
}

func (c *DeleteServiceCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	if err := svc.DeleteService(ctx, c.ID); err != nil {
		return err
	}
	app.printf("Deleted service %d.\n", c.ID)
	return nil
}

// Users

type AdminUsersCmd struct {
	List   ListUsersCmd  `cmd:"" default:"1" help:"List all users"`
	Create CreateUserCmd `cmd:"" help:"Create a user"`
	Update UpdateUserCmd `cmd:"" help:"Replace a user"`
	Delete DeleteUserCmd `cmd:"" help:"Delete a user"`
}

type ListUsersCmd struct{}

func (c *ListUsersCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	users, err := svc.Users(ctx)
	if err != nil {
		return err
	}
	w := app.table()
	fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tROLE\tEMAIL")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.FullName(), u.Role, u.Email)
	}
	return w.Flush()
}

type UserFlags struct {
	Username  string `arg:"" help:"Username"`
	Password  string `help:"Password (required on create)" env:"QUEUECTL_NEW_PASSWORD"`
	Role      string `help:"student, staff or admin; new users default to student"`
	Email     string `help:"Email address"`
	FirstName string `name:"first-name" help:"First name"`
	LastName  string `name:"last-name" help:"Last name"`
}

func (f UserFlags) input() models.UserInput {
	return models.UserInput{
		Username:  f.Username,
		Password:  f.Password,
		Role:      models.Role(f.Role),
		Email:     f.Email,
		FirstName: f.FirstName,
		LastName:  f.LastName,
	}
}

type CreateUserCmd struct {
	UserFlags `embed:""`
}

func (c *CreateUserCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	u, err := svc.CreateUser(ctx, c.input())
	if err != nil {
		return err
	}
	app.printf("Created user %d (%s, %s).\n", u.ID, u.Username, u.Role)
	return nil
}

type UpdateUserCmd struct {
	ID        int64 `arg:"" help:"User id"`
	UserFlags `embed:""`
}

func (c *UpdateUserCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	u, err := svc.UpdateUser(ctx, c.ID, c.input())
	if err != nil {
		return err
	}
	app.printf("Updated user %d (%s, %s).\n", u.ID, u.Username, u.Role)
	return nil
}

type DeleteUserCmd struct {
	ID int64 `arg:"" help:"User id"`
}

func (c *DeleteUserCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	if err := svc.DeleteUser(ctx, c.ID); err != nil {
		return err
	}
	app.printf("Deleted user %d.\n", c.ID)
	return nil
}

// Counters

type AdminCountersCmd struct {
	List   ListCountersCmd  `cmd:"" default:"1" help:"List all counters"`
	Create CreateCounterCmd `cmd:"" help:"Create a counter"`
	Delete DeleteCounterCmd `cmd:"" help:"Delete a counter"`
}

type ListCountersCmd struct{}

func (c *ListCountersCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	counters, err := svc.Counters(ctx)
	if err != nil {
		return err
	}
	w := app.table()
	fmt.Fprintln(w, "ID\tNAME\tSERVICE\tACTIVE")
	for _, ctr := range counters {
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\n", ctr.ID, ctr.Name, ctr.Service, ctr.IsActive)
	}
	return w.Flush()
}

type CreateCounterCmd struct {
	Name     string `arg:"" help:"Counter name"`
	Service  int64  `required:"" help:"Service the counter belongs to"`
	Inactive bool   `help:"Create the counter disabled"`
}

func (c *CreateCounterCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	ctr, err := svc.CreateCounter(ctx, models.CounterInput{Name: c.Name, Service: c.Service, IsActive: !c.Inactive})
	if err != nil {
		return err
	}
	app.printf("Created counter %d (%s) for service %d.\n", ctr.ID, ctr.Name, c.Service)
	return nil
}

type DeleteCounterCmd struct {
	ID int64 `arg:"" help:"Counter id"`
}

func (c *DeleteCounterCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	if err := svc.DeleteCounter(ctx, c.ID); err != nil {
		return err
	}
	app.printf("Deleted counter %d.\n", c.ID)
	return nil
}

type AnalyticsCmd struct{}

func (c *AnalyticsCmd) Run(ctx context.Context, app *App) error {
	svc, err := app.adminService(ctx)
	if err != nil {
		return err
	}
	report, err := svc.Analytics(ctx)
	if err != nil {
		return err
	}

	w := app.table()
	fmt.Fprintln(w, "SERVICE\tTOTAL\tCOMPLETED\tSKIPPED\tAVG WAIT\tAVG MIN\tCOMPLETION %")
	for _, s := range report.Services {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			s.ServiceName, s.TotalUsers, s.CompletedUsers, s.SkippedUsers,
			s.AverageWait, s.AverageWaitMinutes.StringFixed(2), s.CompletionRate.StringFixed(2))
	}
	fmt.Fprintf(w, "ALL\t%d\t%d\t%d\t\t\t%s\n",
		report.TotalUsers, report.CompletedUsers, report.SkippedUsers, report.CompletionRate.StringFixed(2))
	return w.Flush()
}
