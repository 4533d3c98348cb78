package transport

import (
	"context"

	"github.com/google/uuid"
)

// Handle identifies a cancellable call. Generation increases monotonically
// across all handles issued by one Client.
type Handle struct {
	ID         string
	Generation uint64
}

// IsZero reports whether the handle was never issued.
func (h Handle) IsZero() bool {
	return h.ID == ""
}

// NewHandle issues a handle with the next generation number.
func (c *Client) NewHandle() Handle {
	return Handle{ID: uuid.NewString(), Generation: c.generation.Add(1)}
}

// Cancel aborts the in-flight call bound to h. It reports whether a call
// was found.
func (c *Client) Cancel(h Handle) bool {
	c.mu.Lock()
	cancel, ok := c.active[h.ID]
	delete(c.active, h.ID)
	c.mu.Unlock()
	if ok {
		cancel(errHandleCancelled)
	}
	return ok
}

// CancelAll aborts every in-flight cancellable call and returns how many
// were aborted. Calls issued without Cancellable are untouched.
func (c *Client) CancelAll() int {
	c.mu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(c.active))
	for id, cancel := range c.active {
		cancels = append(cancels, cancel)
		delete(c.active, id)
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel(errHandleCancelled)
	}
	return len(cancels)
}

// InFlight returns the number of registered cancellable calls.
func (c *Client) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Client) register(h Handle, cancel context.CancelCauseFunc) {
	c.mu.Lock()
	c.active[h.ID] = cancel
	c.mu.Unlock()
}

func (c *Client) unregister(h Handle) {
	c.mu.Lock()
	delete(c.active, h.ID)
	c.mu.Unlock()
}
