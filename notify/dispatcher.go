// Package notify fans session notifications out to the UI sinks: the
// websocket hub, the host's Unix socket and an optional NATS subject.
package notify

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

const defaultQueueSize = 256

// Sink delivers a notification to one destination.
type Sink interface {
	Name() string
	Send(notification *types.Notification) error
}

// StateObserver is told about every newly entered session state.
type StateObserver interface {
	SessionStateEntered(state types.SessionState)
}

// Dispatcher delivers notifications in order on a single worker so callers
// holding locks never block on I/O.
type Dispatcher struct {
	sinks    []Sink
	observer StateObserver
	logger   *log.Logger

	queue chan *types.Notification
	done  chan struct{}

	mu        sync.Mutex
	closed    bool
	lastState types.SessionState
}

func NewDispatcher(logger *log.Logger, observer StateObserver, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		sinks:    sinks,
		observer: observer,
		logger:   tool.LoggerOr(logger, "[Notify]"),
		queue:    make(chan *types.Notification, defaultQueueSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify queues n. Notifications are dropped when the queue is full or the
// dispatcher is closed.
func (d *Dispatcher) Notify(n *types.Notification) {
	if n == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- n:
	default:
		d.logger.Warnf("Notification queue full, dropping %s", n.Type)
	}
}

// Render turns a session snapshot into a session_state notification, or
// session_closed once the session has ended.
func (d *Dispatcher) Render(snapshot types.SessionSnapshot) {
	d.mu.Lock()
	entered := snapshot.State != d.lastState
	d.lastState = snapshot.State
	d.mu.Unlock()
	if entered && d.observer != nil && !snapshot.Closed {
		d.observer.SessionStateEntered(snapshot.State)
	}

	n := &types.Notification{
		Type:  types.NotifyTypeSessionState,
		Title: string(snapshot.State),
		Data:  map[string]any{"session": snapshot},
	}
	if snapshot.Closed {
		n.Type = types.NotifyTypeSessionClosed
		n.Title = "Swap finished"
	}
	if snapshot.LastError != "" {
		n.Message = snapshot.LastError
	}
	d.Notify(n)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		for _, sink := range d.sinks {
			if err := sink.Send(n); err != nil {
				d.logger.Debugf("%s sink: %v", sink.Name(), err)
			}
		}
	}
}

// Close stops accepting notifications and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
