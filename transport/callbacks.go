package transport

import (
	"sync"
)

// Callbacks holds a driver's registered handler pair. Drivers embed it to
// implement SetMessageHandler and SetErrorHandler.
type Callbacks struct {
	mu      sync.RWMutex
	message MessageHandler
	err     ErrorHandler
}

// SetMessageHandler installs h and returns the previous handler.
func (c *Callbacks) SetMessageHandler(h MessageHandler) MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.message
	c.message = h
	return prev
}

// SetErrorHandler installs h and returns the previous handler.
func (c *Callbacks) SetErrorHandler(h ErrorHandler) ErrorHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.err
	c.err = h
	return prev
}

// RaiseMessage delivers m to the message handler, if any.
func (c *Callbacks) RaiseMessage(m Message) {
	c.mu.RLock()
	h := c.message
	c.mu.RUnlock()

	if h != nil {
		h(m)
	}
}

// RaiseFailure delivers f to the error handler. Without a handler the
// operation is cancelled.
func (c *Callbacks) RaiseFailure(f Failure) Action {
	c.mu.RLock()
	h := c.err
	c.mu.RUnlock()

	if h == nil {
		return Cancel
	}
	return h(f)
}
