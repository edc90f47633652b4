package api

import (
	"context"
	"fmt"
	"net/http"

	"smart-queue/models"
)

func (c *Client) AdminServices(ctx context.Context) ([]models.Service, error) {
	var out []models.Service
	err := c.do(ctx, request{op: "admin.services.list", method: http.MethodGet, path: "/admin/services/", out: &out})
	return out, err
}

func (c *Client) CreateService(ctx context.Context, in models.ServiceInput) (models.Service, error) {
	var out models.Service
	err := c.do(ctx, request{op: "admin.services.create", method: http.MethodPost, path: "/admin/services/", body: in, out: &out})
	return out, err
}

func (c *Client) UpdateService(ctx context.Context, id int64, in models.ServiceInput) (models.Service, error) {
	var out models.Service
	err := c.do(ctx, request{
		op:     "admin.services.update",
		method: http.MethodPut,
		path:   fmt.Sprintf("/admin/services/%d/", id),
		body:   in,
		out:    &out,
	})
	return out, err
}

func (c *Client) DeleteService(ctx context.Context, id int64) error {
	return c.do(ctx, request{op: "admin.services.delete", method: http.MethodDelete, path: fmt.Sprintf("/admin/services/%d/", id)})
}

func (c *Client) AdminUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := c.do(ctx, request{op: "admin.users.list", method: http.MethodGet, path: "/admin/users/", out: &out})
	return out, err
}

func (c *Client) CreateUser(ctx context.Context, in models.UserInput) (models.User, error) {
	var out models.User
	err := c.do(ctx, request{op: "admin.users.create", method: http.MethodPost, path: "/admin/users/", body: in, out: &out})
	return out, err
}

func (c *Client) UpdateUser(ctx context.Context, id int64, in models.UserInput) (models.User, error) {
	var out models.User
	err := c.do(ctx, request{
		op:     "admin.users.update",
		method: http.MethodPut,
		path:   fmt.Sprintf("/admin/users/%d/", id),
		body:   in,
		out:    &out,
	})
	return out, err
}

func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.do(ctx, request{op: "admin.users.delete", method: http.MethodDelete, path: fmt.Sprintf("/admin/users/%d/", id)})
}

func (c *Client) AdminCounters(ctx context.Context) ([]models.Counter, error) {
	var out []models.Counter
	err := c.do(ctx, request{op: "admin.counters.list", method: http.MethodGet, path: "/admin/counters/", out: &out})
	return out, err
}

func (c *Client) CreateCounter(ctx context.Context, in models.CounterInput) (models.Counter, error) {
	var out models.Counter
	err := c.do(ctx, request{op: "admin.counters.create", method: http.MethodPost, path: "/admin/counters/", body: in, out: &out})
	return out, err
}

func (c *Client) DeleteCounter(ctx context.Context, id int64) error {
	return c.do(ctx, request{op: "admin.counters.delete", method: http.MethodDelete, path: fmt.Sprintf("/admin/counters/%d/", id)})
}

// Analytics returns today's per-service figures.
func (c *Client) Analytics(ctx context.Context) ([]models.ServiceAnalytics, error) {
	var out []models.ServiceAnalytics
	err := c.do(ctx, request{op: "analytics.services", method: http.MethodGet, path: "/analytics/services/", out: &out})
	return out, err
}
