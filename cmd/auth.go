package cmd

import (
	"context"
	"errors"
	"strings"

	"smart-queue/models"
	"smart-queue/security"
	"smart-queue/services"
)

type LoginCmd struct {
	Username string `arg:"" help:"Account username"`
	Password string `help:"Account password" env:"QUEUECTL_PASSWORD"`
}

func (c *LoginCmd) Run(ctx context.Context, app *App) error {
	if c.Password == "" {
		return errors.New("password is required (--password or QUEUECTL_PASSWORD)")
	}
	client, err := app.Client(ctx)
	if err != nil {
		return err
	}
	creds, err := client.Login(ctx, c.Username, c.Password)
	if err != nil {
		return err
	}
	role, _ := creds.Role()
	app.printf("Logged in as %s (%s). Home: %s\n", c.Username, role, security.Home(role))
	return nil
}

type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx context.Context, app *App) error {
	client, err := app.Client(ctx)
	if err != nil {
		return err
	}
	if err := client.Logout(ctx); err != nil {
		return err
	}
	app.printf("Logged out.\n")
	return nil
}

type RegisterCmd struct {
	Username  string `arg:"" help:"Account username"`
	Password  string `help:"Account password" env:"QUEUECTL_PASSWORD"`
	Email     string `help:"Email address"`
	FirstName string `name:"first-name" help:"First name"`
	LastName  string `name:"last-name" help:"Last name"`
}

func (c *RegisterCmd) Run(ctx context.Context, app *App) error {
	in := models.UserInput{
		Username:  c.Username,
		Password:  c.Password,
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
	}
	if err := services.ValidateNewUser(in); err != nil {
		return err
	}
	client, err := app.Client(ctx)
	if err != nil {
		return err
	}
	u, err := client.Register(ctx, in)
	if err != nil {
		return err
	}
	app.printf("Registered %s (id %d). Log in with `queuectl login %s`.\n", u.Username, u.ID, u.Username)
	return nil
}

type WhoamiCmd struct{}

func (c *WhoamiCmd) Run(ctx context.Context, app *App) error {
	if _, err := app.Require(ctx, security.RouteDashboard); err != nil {
		return err
	}
	client, err := app.Client(ctx)
	if err != nil {
		return err
	}
	u, err := client.Me(ctx)
	if err != nil {
		return err
	}
	app.printf("%s (%s), id %d, role %s\n", u.FullName(), u.Username, u.ID, u.Role)

	creds, err := client.Credentials(ctx)
	if err != nil {
		return err
	}
	var pages []string
	for _, route := range security.Routes() {
		if app.guard.Check(creds, route) == security.Allow {
			pages = append(pages, string(route))
		}
	}
	app.printf("Pages: %s\n", strings.Join(pages, " "))
	return nil
}
