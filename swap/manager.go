package swap

import (
	"context"
	"sync"
)

// Manager owns the live session and opens a fresh one after the previous
// session has terminated.
type Manager struct {
	newController func() (*Controller, error)

	mu      sync.Mutex
	current *Controller
}

func NewManager(factory func() (*Controller, error)) *Manager {
	return &Manager{newController: factory}
}

// Current returns the live session, or nil when none is open.
func (m *Manager) Current() *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || isDone(m.current) {
		return nil
	}
	return m.current
}

// Begin returns the live session, starting a new one when none is open.
func (m *Manager) Begin(ctx context.Context) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && !isDone(m.current) {
		return m.current, nil
	}
	c, err := m.newController()
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		c.StopSession(ctx)
		return nil, err
	}
	m.current = c
	return c, nil
}

// Stop terminates the live session, if any.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.current
	m.current = nil
	m.mu.Unlock()
	if c != nil {
		c.StopSession(ctx)
	}
}

// Detach drops the live session without stopping its transports. The next
// Begin resumes on the QR step while the network share is still serving.
func (m *Manager) Detach() {
	m.mu.Lock()
	c := m.current
	m.current = nil
	m.mu.Unlock()
	if c != nil {
		c.Detach()
	}
}

// OnTransportChanged forwards a transport change to the live session.
func (m *Manager) OnTransportChanged() {
	if c := m.Current(); c != nil {
		c.OnTransportChanged()
	}
}

func isDone(c *Controller) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}
