package chathub_test

import (
	"channels/backend/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClient records every event the hub sends it.
type fakeClient struct {
	id string

	mux      sync.Mutex
	userID   string
	userName string
	events   []models.ServerEvent
	closed   bool
}

func newFakeClient(id, userID, userName string) *fakeClient {
	return &fakeClient{id: id, userID: userID, userName: userName}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) UserID() string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.userID
}

func (c *fakeClient) UserName() string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.userName
}

func (c *fakeClient) SetUser(userID, userName string) {
	c.mux.Lock()
	c.userID, c.userName = userID, userName
	c.mux.Unlock()
}

func (c *fakeClient) Send(evt models.ServerEvent) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, evt)
	return true
}

func (c *fakeClient) Run() {}

func (c *fakeClient) Close() {
	c.mux.Lock()
	c.closed = true
	c.mux.Unlock()
}

func (c *fakeClient) isClosed() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.closed
}

// received returns the payloads of all events with the given name.
func (c *fakeClient) received(event string) []any {
	c.mux.Lock()
	defer c.mux.Unlock()
	var out []any
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e.Data)
		}
	}
	return out
}

func (c *fakeClient) has(event string) bool {
	return len(c.received(event)) > 0
}

// waitFor blocks until an event named event arrives and returns the first one.
func (c *fakeClient) waitFor(t *testing.T, event string) any {
	t.Helper()
	require.Eventually(t, func() bool { return c.has(event) }, 2*time.Second, 5*time.Millisecond,
		"client %s never received %s", c.id, event)
	return c.received(event)[0]
}
