package models

type Service struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	Counters    []Counter `json:"counters"`
	Staff       []int64   `json:"staff,omitempty"`
}

type Counter struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
	Service  int64  `json:"service,omitempty"`
}

// HasStaff reports whether userID is assigned to the service.
func (s Service) HasStaff(userID int64) bool {
	for _, id := range s.Staff {
		if id == userID {
			return true
		}
	}
	return false
}

// ServiceInput is the admin create/update payload for a service.
type ServiceInput struct {
	Name        string  `json:"name" validate:"notblank,max=100"`
	Description string  `json:"description"`
	IsActive    bool    `json:"is_active"`
	Staff       []int64 `json:"staff" validate:"omitempty,dive,gt=0"`
}

// CounterInput is the admin create/update payload for a counter.
type CounterInput struct {
	Name     string `json:"name" validate:"notblank,max=100"`
	Service  int64  `json:"service" validate:"required,gt=0"`
	IsActive bool   `json:"is_active"`
}
