package api

import (
	"context"
	"fmt"
	"net/http"

	"smart-queue/models"
)

func (c *Client) Services(ctx context.Context) ([]models.Service, error) {
	var out []models.Service
	err := c.do(ctx, request{op: "services.list", method: http.MethodGet, path: "/services/services/", out: &out})
	return out, err
}

// Join sends a single join request. The reply only echoes the service id;
// callers refetch MyQueues for the entry itself.
func (c *Client) Join(ctx context.Context, serviceID int64) error {
	return c.do(ctx, request{
		op:     "queue.join",
		method: http.MethodPost,
		path:   "/queue/join/",
		body:   map[string]int64{"service": serviceID},
	})
}

// MyQueues lists the caller's entries, newest first.
func (c *Client) MyQueues(ctx context.Context) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	err := c.do(ctx, request{op: "queue.mine", method: http.MethodGet, path: "/queue/my-queues/", out: &out})
	return out, err
}

// QueueStatus returns the waiting and in-progress entries of a service in
// arrival order. The endpoint is public; a stored token is still sent.
func (c *Client) QueueStatus(ctx context.Context, serviceID int64) ([]models.QueueEntry, error) {
	out := []models.QueueEntry{}
	err := c.do(ctx, request{
		op:     "queue.status",
		method: http.MethodGet,
		path:   fmt.Sprintf("/queue/status/%d/", serviceID),
		out:    &out,
	})
	return out, err
}

func (c *Client) MyServices(ctx context.Context) ([]models.Service, error) {
	var out []models.Service
	err := c.do(ctx, request{op: "staff.services", method: http.MethodGet, path: "/staff/my-services/", out: &out})
	return out, err
}

// CallNext moves the oldest waiting entry of serviceID to in_progress.
// counterID is sent only when a counter was chosen.
func (c *Client) CallNext(ctx context.Context, serviceID int64, counterID *int64) (models.QueueEntry, error) {
	body := map[string]int64{}
	if counterID != nil {
		body["counter_id"] = *counterID
	}

	var entry models.QueueEntry
	err := c.do(ctx, request{
		op:     "queue.call_next",
		method: http.MethodPost,
		path:   fmt.Sprintf("/queue/manage/%d/%s/", serviceID, models.ActionCallNext),
		body:   body,
		out:    &entry,
	})
	return entry, err
}

func (c *Client) Complete(ctx context.Context, entryID int64) (string, error) {
	return c.manage(ctx, entryID, models.ActionComplete, nil)
}

func (c *Client) Skip(ctx context.Context, entryID int64) (string, error) {
	return c.manage(ctx, entryID, models.ActionSkip, nil)
}

func (c *Client) Reject(ctx context.Context, entryID int64) (string, error) {
	return c.manage(ctx, entryID, models.ActionReject, nil)
}

// SendCustomNotification pushes free text to the entry's owner.
func (c *Client) SendCustomNotification(ctx context.Context, entryID int64, message string) (string, error) {
	return c.manage(ctx, entryID, models.ActionNotify, map[string]string{"message": message})
}

// manage posts an entry-level staff action and returns the server's detail.
func (c *Client) manage(ctx context.Context, entryID int64, action string, body any) (string, error) {
	var reply struct {
		Detail string `json:"detail"`
	}
	err := c.do(ctx, request{
		op:     "queue." + action,
		method: http.MethodPost,
		path:   fmt.Sprintf("/queue/manage/%d/%s/", entryID, action),
		body:   body,
		out:    &reply,
	})
	return reply.Detail, err
}
