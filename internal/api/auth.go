package api

import (
	"context"
	"fmt"
	"net/http"

	"smart-queue/internal/session"
	"smart-queue/models"
)

// Login exchanges username and password for a token pair and stores it.
func (c *Client) Login(ctx context.Context, username, password string) (session.Credentials, error) {
	var pair models.TokenPair
	err := c.do(ctx, request{
		op:     "auth.login",
		method: http.MethodPost,
		path:   "/users/token/",
		body:   map[string]string{"username": username, "password": password},
		out:    &pair,
		public: true,
	})
	if err != nil {
		return session.Credentials{}, err
	}

	creds := session.FromTokenPair(pair, session.Credentials{})
	if err := c.store.Save(ctx, creds); err != nil {
		return session.Credentials{}, fmt.Errorf("auth.login: save credentials: %w", err)
	}
	return creds, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Register creates a student account. It does not log in.
func (c *Client) Register(ctx context.Context, in models.UserInput) (models.User, error) {
	var u models.User
	err := c.do(ctx, request{
		op:     "auth.register",
		method: http.MethodPost,
		path:   "/users/register/",
		body:   in,
		out:    &u,
		public: true,
	})
	return u, err
}

func (c *Client) Me(ctx context.Context) (models.User, error) {
	var u models.User
	err := c.do(ctx, request{op: "auth.me", method: http.MethodGet, path: "/users/me/", out: &u})
	return u, err
}
