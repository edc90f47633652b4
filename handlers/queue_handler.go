package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"smart-queue/models"

	"github.com/labstack/echo/v5"
)

func (s *Server) listServices(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Services(true))
}

func (s *Server) getService(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return notFound(c)
	}
	svc, err := s.store.Service(id)
	if err != nil || !svc.IsActive {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, svc)
}

func (s *Server) join(c echo.Context) error {
	var req struct {
		Service int64 `json:"service"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body.")
	}
	if req.Service <= 0 {
		return fieldErrors(c, map[string]string{"service": "This field is required."})
	}

	userID, _ := caller(c)
	entry, err := s.store.Join(userID, req.Service)
	switch {
	case errors.Is(err, errNotFound):
		return fieldErrors(c, map[string]string{
			"service": fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", req.Service),
		})
	case errors.Is(err, errAlreadyQueued):
		return c.JSON(http.StatusBadRequest, []string{"You are already in the queue for this service."})
	case err != nil:
		return err
	}

	queue := s.store.ActiveQueue(req.Service)
	s.notify.StaffQueue(req.Service, queue)
	length := len(queue)
	s.notify.Public(models.Notification{ServiceID: req.Service, QueueLength: &length})

	return c.JSON(http.StatusCreated, map[string]int64{"service": entry.Service.ID})
}

func (s *Server) myQueues(c echo.Context) error {
	userID, _ := caller(c)
	return c.JSON(http.StatusOK, s.store.MyEntries(userID))
}

// queueStatus is public: anyone may watch a service's queue.
func (s *Server) queueStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, s.store.ActiveQueue(id))
}

func (s *Server) myServices(c echo.Context) error {
	userID, role := caller(c)
	return c.JSON(http.StatusOK, s.store.ManagedServices(userID, role))
}

const notAuthorized = "You are not authorized to manage this service."

// manage dispatches /queue/manage/:id/:action/. For call_next the id names
// a service; for every other action it names a queue entry.
func (s *Server) manage(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return notFound(c)
	}

	switch action := c.PathParam("action"); action {
	case models.ActionCallNext:
		return s.callNext(c, id)
	case models.ActionComplete, models.ActionSkip, models.ActionReject:
		return s.transition(c, id, action)
	case models.ActionNotify:
		return s.customNotification(c, id)
	default:
		return notFound(c)
	}
}

func (s *Server) callNext(c echo.Context, serviceID int64) error {
	if _, err := s.store.Service(serviceID); err != nil {
		return notFound(c)
	}
	userID, role := caller(c)
	if !s.store.CanManage(userID, role, serviceID) {
		return detail(c, http.StatusForbidden, notAuthorized)
	}

	var req struct {
		CounterID *int64 `json:"counter_id"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return detail(c, http.StatusBadRequest, "Invalid request body.")
		}
	}

	entry, err := s.store.CallNext(serviceID, req.CounterID)
	switch {
	case errors.Is(err, errQueueEmpty):
		return detail(c, http.StatusNotFound, "No users in the queue.")
	case errors.Is(err, errNotFound):
		return fieldErrors(c, map[string]string{"counter_id": "Counter does not exist."})
	case err != nil:
		return err
	}

	s.notify.User(entry.User.ID, models.Notification{
		Type:    models.NotifyQueueUpdate,
		Status:  entry.Status,
		Service: entry.Service.Name,
		Token:   entry.TokenNumber,
		Message: statusMessage(entry),
	})
	s.notify.Public(models.Notification{ServiceID: serviceID, NowServing: entry.TokenNumber})
	s.notify.StaffQueue(serviceID, s.store.ActiveQueue(serviceID))

	return c.JSON(http.StatusOK, entry)
}

// authorizedEntry loads an entry and checks the caller may manage its
// service. On refusal the response is already written and the returned
// entry is zero.
func (s *Server) authorizedEntry(c echo.Context, entryID int64) (models.QueueEntry, error) {
	entry, err := s.store.Entry(entryID)
	if err != nil {
		return models.QueueEntry{}, notFound(c)
	}
	userID, role := caller(c)
	if !s.store.CanManage(userID, role, entry.Service.ID) {
		return models.QueueEntry{}, detail(c, http.StatusForbidden, notAuthorized)
	}
	return entry, nil
}

var transitionDetail = map[string]string{
	models.ActionComplete: "Service completed.",
	models.ActionSkip:     "User skipped.",
	models.ActionReject:   "User rejected.",
}

func (s *Server) transition(c echo.Context, entryID int64, action string) error {
	current, err := s.authorizedEntry(c, entryID)
	if err != nil || current.ID == 0 {
		return err
	}

	entry, err := s.store.Transition(entryID, action)
	if errors.Is(err, errInvalidTransition) {
		return detail(c, http.StatusBadRequest, fmt.Sprintf("Entry is already %s.", strings.ReplaceAll(string(current.Status), "_", " ")))
	}
	if err != nil {
		return err
	}

	s.notify.StaffQueue(entry.Service.ID, s.store.ActiveQueue(entry.Service.ID))
	s.notify.User(entry.User.ID, models.Notification{
		Type:    models.NotifyQueueUpdate,
		Status:  entry.Status,
		Service: entry.Service.Name,
		Message: statusMessage(entry),
	})
	return detail(c, http.StatusOK, transitionDetail[action])
}

func (s *Server) customNotification(c echo.Context, entryID int64) error {
	entry, err := s.authorizedEntry(c, entryID)
	if err != nil || entry.ID == 0 {
		return err
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&req); err != nil || req.Message == "" {
		return detail(c, http.StatusBadRequest, "Message text is required.")
	}

	s.notify.User(entry.User.ID, models.Notification{
		Type:    models.NotifyCustom,
		Service: entry.Service.Name,
		Message: req.Message,
	})
	s.store.RecordNotification(entry)
	return detail(c, http.StatusOK, "Custom notification sent.")
}
