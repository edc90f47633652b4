package handlers

import (
	"errors"
	"net/http"

	"smart-queue/models"
	"smart-queue/security"
	"smart-queue/services"

	"github.com/labstack/echo/v5"
)

// SeedUser creates a user directly, bypassing the API.
func (s *Server) SeedUser(in models.UserInput) (models.User, error) {
	if err := services.ValidateNewUser(in); err != nil {
		return models.User{}, err
	}
	return s.store.CreateUser(in)
}

// register creates a student account.
func (s *Server) register(c echo.Context) error {
	var in models.UserInput
	if err := c.Bind(&in); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body.")
	}
	in.Role = models.RoleStudent

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

func (s *Server) obtainToken(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body.")
	}

	user, err := s.store.Authenticate(req.Username, req.Password)
	if err != nil {
		return detail(c, http.StatusUnauthorized, "No active account found with the given credentials")
	}
	pair, err := s.tokens.Issue(user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

// refreshToken returns a new access token only; the refresh token is kept.
func (s *Server) refreshToken(c echo.Context) error {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := c.Bind(&req); err != nil || req.Refresh == "" {
		return fieldErrors(c, map[string]string{"refresh": "This field is required."})
	}

	claims, err := s.tokens.Verify(req.Refresh, security.TokenRefresh)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
	}
	user, err := s.store.User(claims.UserID)
	if err != nil {
		return detail(c, http.StatusUnauthorized, "User not found")
	}
	access, err := s.tokens.IssueAccess(user.ID, user.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.TokenPair{Access: access})
}

func (s *Server) me(c echo.Context) error {
	id, _ := caller(c)
	user, err := s.store.User(id)
	if err != nil {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, user)
}
