package handlers

import (
	"errors"
	"net/http"

	"smart-queue/models"
	"smart-queue/services"

	"github.com/labstack/echo/v5"
)

// Services

func (s *Server) adminListServices(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Services(false))
}

func (s *Server) adminCreateService(c echo.Context) error {
	var in models.ServiceInput
	if err := c.Bind(&in); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body.")
	}
	if err := services.ValidateInput(in); err != nil {
		return invalid(c, err)
	}
	return c.JSON(http.StatusCreated, s.store.CreateService(in))
}

func (s *Server) adminUpdateService(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return notFound(c)
	}
	var in models.ServiceInput
	if err := c.Bind(&in); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body.")
	}
	if err := services.ValidateInput(in); err != nil {
		return invalid(c, err)
	}

	svc, err := s.store.UpdateService(id, in)
	if errors.Is(err, errNotFound) {
		return notFound(c)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, svc)
}

func (s *Server) adminDeleteService(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return notFound(c)
	}
	if err := s.store.DeleteService(id); err != nil {
		return notFound(c)
	}
	return c.NoContent(http.StatusNoContent)
}

// Users

func (s *Server) adminListUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Users())
}

func (s *Server) adminCreateUser(c echo.Context) error {
	var in models.UserInput
	if err := c.Bind(&in); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body.")
	}
	if err := services.ValidateNewUser(in); err != nil {
		return invalid(c, err)
	}

	user, err := s.store.CreateUser(in)
	if errors.Is(err, errUsernameTaken) {
		return fieldErrors(c, map[string]string{"username": "A user with that username already exists."})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, user)
}

func (s *Server) adminUpdateUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return notFound(c)
	}
	var in models.UserInput
	if err := c.Bind(&in); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body.")
	}
	if err := services.ValidateInput(in); err != nil {
		return invalid(c, err)
	}

	user, err := s.store.UpdateUser(id, in)
	switch {
	case errors.Is(err, errNotFound):
		return notFound(c)
	case errors.Is(err, errUsernameTaken):
		return fieldErrors(c, map[string]string{"username": "A user with that username already exists."})
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func (s *Server) adminDeleteUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return notFound(c)
	}
	if err := s.store.DeleteUser(id); err != nil {
		return notFound(c)
	}
	return c.NoContent(http.StatusNoContent)
}

// Counters

func (s *Server) adminListCounters(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Counters())
}

func (s *Server) adminCreateCounter(c echo.Context) error {
	var in models.CounterInput
	if err := c.Bind(&in); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body.")
	}
	if err := services.ValidateInput(in); err != nil {
		return invalid(c, err)
	}

	counter, err := s.store.CreateCounter(in)
	if errors.Is(err, errNotFound) {
		return fieldErrors(c, map[string]string{"service": "Service does not exist."})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, counter)
}

func (s *Server) adminDeleteCounter(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return notFound(c)
	}
	if err := s.store.DeleteCounter(id); err != nil {
		return notFound(c)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) analytics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Analytics())
}
