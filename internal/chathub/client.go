package chathub

import "channels/backend/internal/models"

// Client is one live connection. A user may hold several.
type Client interface {
	// ID identifies the connection, not the user.
	ID() string
	UserID() string
	UserName() string
	// SetUser rebinds the connection after a user:connect event.
	SetUser(userID, userName string)

	// Send queues evt for delivery without blocking. It returns false when
	// the client is closed or too slow to keep up.
	Send(evt models.ServerEvent) bool

	// Run starts the read and write pumps.
	Run()
	Close()
}
