package security

import (
	"fmt"

	"smart-queue/internal/session"
	"smart-queue/models"
)

// Route is a page of the client that needs a signed-in user.
type Route string

const (
	RouteDashboard Route = "/"
	RouteStaff     Route = "/staff"
	RouteAdmin     Route = "/admin"

	PathLogin        = "/login"
	PathUnauthorized = "/unauthorized"
)

type Decision int

const (
	Allow Decision = iota
	RedirectLogin
	RedirectUnauthorized
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect:" + PathLogin
	case RedirectUnauthorized:
		return "redirect:" + PathUnauthorized
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Target is the path a redirect decision points at.
func (d Decision) Target() string {
	switch d {
	case RedirectLogin:
		return PathLogin
	case RedirectUnauthorized:
		return PathUnauthorized
	}
	return ""
}

// routeAccess lists which roles may open each route.
type routeAccess struct {
	student bool
	staff   bool
	admin   bool
}

var routes = map[Route]routeAccess{
	RouteDashboard: {student: true, staff: true, admin: true},
	RouteStaff:     {staff: true, admin: true},
	RouteAdmin:     {admin: true},
}

// Routes returns the guarded routes.
func Routes() []Route {
	return []Route{RouteDashboard, RouteStaff, RouteAdmin}
}

// Guard decides whether a session may open a route. It reads the role from
// the access token without verifying it; the server still checks every
// request.
type Guard struct{}

func NewGuard() *Guard {
	return &Guard{}
}

// Check returns Allow, or where to send the user instead. Missing
// credentials and tokens without a known role both go to the login page.
func (g *Guard) Check(creds session.Credentials, route Route) Decision {
	if creds.Access == "" {
		return RedirectLogin
	}
	role, ok := creds.Role()
	if !ok {
		return RedirectLogin
	}
	access, known := routes[route]
	if !known {
		return RedirectUnauthorized
	}

	var allowed bool
	switch role {
	case models.RoleStudent:
		allowed = access.student
	case models.RoleStaff:
		allowed = access.staff
	case models.RoleAdmin:
		allowed = access.admin
	default:
		return RedirectLogin
	}

	if !allowed {
		return RedirectUnauthorized
	}
	return Allow
}

// Home is the landing route for role.
func Home(role models.Role) Route {
	switch role {
	case models.RoleAdmin:
		return RouteAdmin
	case models.RoleStaff:
		return RouteStaff
	default:
		return RouteDashboard
	}
}
