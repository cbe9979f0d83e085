// Package swap sequences a swap session: choosing applications, preparing the
// repository, arming the network share and offering it over near-field, QR
// code or Bluetooth.
//
// A Controller is a single logical actor. Every entry point serializes on one
// mutex, so transitions are strictly sequential. Work that takes wall time (the
// repository rebuild) runs elsewhere and reports back through the
// rebuild.Listener methods, which take the same mutex.
package swap

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/moyoez/localswap/rebuild"
	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

// Coordinator is the transport side the controller drives. The controller
// only issues commands and reads state through it.
type Coordinator interface {
	StartNetworkShare(ctx context.Context) error
	NetworkShareRunning() bool
	RegisterNearFieldPayload(uri string) bool
	IsBluetoothEnabled() bool
	IsBluetoothDiscoverable() bool
	RequestBluetoothEnable() types.PlatformRequest
	RequestBluetoothDiscoverable() types.PlatformRequest
	ClearBluetoothRequest()
	StartBluetoothServer(ctx context.Context) error
	StopAll(ctx context.Context)
	View() types.TransportView
}

// Rebuilder runs repository rebuild jobs, one at a time.
type Rebuilder interface {
	Start(selection types.Selection, sharingURI string, listener rebuild.Listener) (uint64, bool)
	Cancel()
	CancelDetached()
}

// Renderer is notified after every change. It is called with the session lock
// held and must not call back into the Controller synchronously.
type Renderer interface {
	Render(snapshot types.SessionSnapshot)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(types.SessionSnapshot)

func (f RendererFunc) Render(s types.SessionSnapshot) { f(s) }

// Options wires a Controller to its collaborators.
type Options struct {
	Coordinator Coordinator
	Rebuilder   Rebuilder
	Renderer    Renderer
	// SharingURI resolves the address peers fetch the repository from.
	SharingURI func() (string, error)
	Logger     *log.Logger
}

// Controller is the swap session state machine.
type Controller struct {
	coord      Coordinator
	rebuilder  Rebuilder
	renderer   Renderer
	sharingURI func() (string, error)
	logger     *log.Logger

	mu           sync.Mutex
	state        types.SessionState
	history      []types.SessionState
	selection    types.Selection
	hasPrepared  bool
	lastPrepared types.Selection
	activeJobID  uint64
	rebuildView  types.RebuildJobView
	lastError    string
	pending      *types.PlatformRequest
	closed       bool
	done         chan struct{}
}

func NewController(opts Options) (*Controller, error) {
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("transport coordinator is required")
	}
	if opts.Rebuilder == nil {
		return nil, fmt.Errorf("rebuilder is required")
	}
	if opts.SharingURI == nil {
		return nil, fmt.Errorf("sharing URI resolver is required")
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = RendererFunc(func(types.SessionSnapshot) {})
	}
	return &Controller{
		coord:        opts.Coordinator,
		rebuilder:    opts.Rebuilder,
		renderer:     renderer,
		sharingURI:   opts.SharingURI,
		logger:       tool.LoggerOr(opts.Logger, "[Swap]"),
		state:        types.StateStart,
		selection:    types.NewSelection(),
		lastPrepared: types.NewSelection(),
		rebuildView:  types.RebuildJobView{Status: types.RebuildIdle},
		done:         make(chan struct{}),
	}, nil
}

// Start shows the first step. When the network share is already serving, the
// session resumes on the QR step with the intermediate steps in its history.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ErrSessionClosed
	}

	c.state = types.StateStart
	c.history = nil
	c.lastError = ""

	if c.coord.NetworkShareRunning() {
		c.logger.Infof("Network share already running, resuming at the QR step")
		c.history = []types.SessionState{types.StateStart, types.StateSelectApps}
		c.state = types.StateJoinNetwork
		return c.offerLocked(ctx)
	}
	c.renderLocked()
	return nil
}

// Advance performs the forward transition of the current step.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ErrSessionClosed
	}

	switch c.state {
	case types.StateStart:
		c.pushLocked(types.StateSelectApps)
	case types.StateSelectApps:
		return c.advanceFromSelectAppsLocked()
	case types.StatePreparingRepo:
		c.logger.Debugf("Rebuild %d still running, waiting for it", c.activeJobID)
	case types.StateJoinNetwork:
		return c.offerLocked(ctx)
	case types.StateNearFieldOffer:
		c.pushLocked(types.StateNetworkQrReady)
	case types.StateNetworkQrReady, types.StateBluetoothDeviceList:
		// end of the forward path
	}
	return nil
}

// RequestAdvanceFromSelectApps records selection and leaves SelectApps,
// rebuilding the repository first when the selection is dirty.
func (c *Controller) RequestAdvanceFromSelectApps(selection types.Selection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ErrSessionClosed
	}
	if c.state == types.StatePreparingRepo {
		c.logger.Debugf("Rebuild %d still running, ignoring advance", c.activeJobID)
		return nil
	}
	if c.state != types.StateSelectApps {
		return fmt.Errorf("cannot leave app selection from %s", c.state)
	}
	c.selection = selection.Clone()
	return c.advanceFromSelectAppsLocked()
}

// SetSelection replaces the selected applications.
func (c *Controller) SetSelection(selection types.Selection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ErrSessionClosed
	}
	c.selection = selection.Clone()
	c.renderLocked()
	return nil
}

// Back pops to the previous step. It returns false once the session has
// terminated, which happens when going back from Start.
func (c *Controller) Back(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	if c.pending != nil {
		c.logger.Infof("Abandoning pending %s request", c.pending.Kind)
		c.pending = nil
		c.coord.ClearBluetoothRequest()
	}

	if c.state == types.StatePreparingRepo {
		c.logger.Infof("Leaving app selection, cancelling rebuild %d", c.activeJobID)
		c.rebuilder.Cancel()
		c.activeJobID = 0
		c.rebuildView.Status = types.RebuildIdle
		c.rebuildView.Progress = ""
	}

	if len(c.history) == 0 {
		c.stopLocked(ctx)
		return false
	}
	last := len(c.history) - 1
	c.state = c.history[last]
	c.history = c.history[:last]
	c.renderLocked()
	return true
}

// StopSession tears down every transport, cancels the in-flight rebuild and
// any pending platform request, and terminates the session.
func (c *Controller) StopSession(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked(ctx)
}

// Detach ends the session but leaves the network share serving under its idle
// timer, so the next session resumes on the QR step. The in-flight rebuild
// and any pending platform request are abandoned.
func (c *Controller) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.logger.Infof("Detaching swap session, transports stay up")
	c.closed = true
	if c.pending != nil {
		c.pending = nil
		c.coord.ClearBluetoothRequest()
	}
	if c.activeJobID != 0 {
		c.rebuilder.Cancel()
		c.activeJobID = 0
	}
	close(c.done)
	c.renderLocked()
}

// OnTransportChanged re-renders after a transport changed outside a session
// command, such as the idle shutdown of the network share.
func (c *Controller) OnTransportChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.renderLocked()
}

// PendingRequest returns the platform request the session waits on, if any.
func (c *Controller) PendingRequest() *types.PlatformRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	p := *c.pending
	return &p
}

// Done is closed when the session terminates.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() types.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// OnRebuildProgress implements rebuild.Listener.
func (c *Controller) OnRebuildProgress(jobID uint64, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || jobID != c.activeJobID {
		return
	}
	c.rebuildView.Progress = message
	c.renderLocked()
}

// OnRebuildDone implements rebuild.Listener. Completions of superseded or
// cancelled jobs leave the step alone. One that still published its
// repository is recorded as the last prepared selection, since that is what
// peers are served.
func (c *Controller) OnRebuildDone(result rebuild.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if result.JobID != c.activeJobID {
		if result.Status != types.RebuildSucceeded {
			c.logger.Debugf("Discarding stale completion of rebuild %d", result.JobID)
			return
		}
		c.logger.Infof("Rebuild %d published after it was abandoned", result.JobID)
		c.hasPrepared = true
		c.lastPrepared = result.Selection.Clone()
		c.renderLocked()
		return
	}
	c.activeJobID = 0
	c.rebuildView.Status = result.Status
	c.rebuildView.Progress = ""

	if result.Status == types.RebuildSucceeded {
		c.hasPrepared = true
		c.lastPrepared = result.Selection.Clone()
		c.rebuildView.Error = ""
		c.logger.Infof("Repository prepared with %d apps", len(result.Selection))
		if c.state == types.StatePreparingRepo {
			// PreparingRepo is transient and never enters the history
			c.state = types.StateJoinNetwork
		}
		c.renderLocked()
		return
	}

	msg := "repository rebuild failed"
	if result.Err != nil {
		msg = result.Err.Error()
	}
	c.rebuildView.Error = msg
	c.lastError = msg
	c.logger.Warnf("Rebuild %d failed, staying on app selection: %s", result.JobID, msg)
	if c.state == types.StatePreparingRepo {
		last := len(c.history) - 1
		c.state = c.history[last]
		c.history = c.history[:last]
	}
	c.renderLocked()
}

func (c *Controller) advanceFromSelectAppsLocked() error {
	if c.activeJobID != 0 {
		return nil
	}
	if c.hasPrepared && c.selection.Equal(c.lastPrepared) {
		c.logger.Debugf("Selection unchanged since last rebuild, skipping it")
		c.pushLocked(types.StateJoinNetwork)
		return nil
	}

	uri, err := c.sharingURI()
	if err != nil {
		c.lastError = err.Error()
		c.renderLocked()
		return fmt.Errorf("resolve sharing uri: %w", err)
	}

	id, started := c.rebuilder.Start(c.selection, uri, c)
	if !started {
		c.logger.Warnf("Rebuild %d owned by another session is running", id)
		return types.ErrRebuildInFlight
	}
	c.activeJobID = id
	c.rebuildView = types.RebuildJobView{ID: id, Status: types.RebuildRunning}
	c.lastError = ""
	c.pushLocked(types.StatePreparingRepo)
	return nil
}

// offerLocked arms the network share and decides between the near-field step
// and the QR step. Near-field availability is checked on every entry.
func (c *Controller) offerLocked(ctx context.Context) error {
	if err := c.coord.StartNetworkShare(ctx); err != nil {
		c.lastError = err.Error()
		c.logger.Errorf("Failed to arm network share: %v", err)
		c.renderLocked()
		return err
	}
	uri, err := c.sharingURI()
	if err != nil {
		c.lastError = err.Error()
		c.renderLocked()
		return fmt.Errorf("resolve sharing uri: %w", err)
	}
	c.lastError = ""
	if c.coord.RegisterNearFieldPayload(uri) {
		c.pushLocked(types.StateNearFieldOffer)
		return nil
	}
	c.pushLocked(types.StateNetworkQrReady)
	return nil
}

func (c *Controller) pushLocked(next types.SessionState) {
	c.history = append(c.history, c.state)
	c.state = next
	c.renderLocked()
}

func (c *Controller) stopLocked(ctx context.Context) {
	c.logger.Infof("Stopping swap session")
	c.closed = true
	c.pending = nil
	if c.activeJobID != 0 {
		c.rebuilder.Cancel()
		c.activeJobID = 0
	}
	c.rebuilder.CancelDetached()
	c.coord.StopAll(ctx)
	close(c.done)
	c.renderLocked()
}

func (c *Controller) snapshotLocked() types.SessionSnapshot {
	snap := types.SessionSnapshot{
		State:                 c.state,
		History:               append([]types.SessionState(nil), c.history...),
		SelectedApps:          c.selection.Sorted(),
		HasPreparedRepo:       c.hasPrepared,
		LastPreparedSelection: c.lastPrepared.Sorted(),
		Rebuild:               c.rebuildView,
		LastError:             c.lastError,
		Transports:            c.coord.View(),
		Closed:                c.closed,
	}
	if c.pending != nil {
		p := *c.pending
		snap.PendingRequest = &p
	}
	if uri, err := c.sharingURI(); err == nil {
		snap.SharingURI = uri
	}
	return snap
}

func (c *Controller) renderLocked() {
	c.renderer.Render(c.snapshotLocked())
}
