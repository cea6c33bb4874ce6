package store

import (
	"errors"
	"time"
)

// Store represents a backend store shared with the host web application.
// Sessions are written by the host on login and only read here; channel
// occupancy is maintained from verified transport webhooks.
type Store interface {
	AddSession(token string, s Session, ttl time.Duration) error
	GetSession(token string) (Session, error)
	RemoveSession(token string) error

	MarkOccupied(channel string) error
	MarkVacated(channel string) error
	ListOccupied() ([]string, error)
}

// Session represents an authenticated user session: the user's identifier
// and the public attributes the host application chose to serialize.
type Session struct {
	UserID string                 `json:"user_id"`
	Info   map[string]interface{} `json:"info"`
}

// ErrSessionNotFound indicates that the requested session was not found.
var ErrSessionNotFound = errors.New("session not found")
