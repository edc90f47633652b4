package status

import "errors"

var (
	ErrNoCredential   = errors.New("session: no credential")
	ErrSessionExpired = errors.New("session: session expired, login required")
	ErrInvalidToken   = errors.New("session: invalid token")

	ErrNoServiceSelected = errors.New("queue: no service selected")
	ErrEntryNotFound     = errors.New("queue: entry not found")
	ErrEmptyMessage      = errors.New("notify: message text is required")

	ErrSourceClosed       = errors.New("push: source closed")
	ErrUnsupportedSource  = errors.New("push: unsupported transport")
	ErrUnsupportedBackend = errors.New("session: unsupported backend")
)
