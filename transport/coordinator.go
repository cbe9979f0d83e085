// Package transport owns the lifecycle of the swap transports: the network
// share server with its idle auto-shutdown, the Bluetooth enable/discoverable
// handshake and server, and the near-field push payload.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

const (
	DefaultIdleTimeout          = 900 * time.Second
	DefaultDiscoverableDuration = 300
)

// Server is one transport's serving endpoint.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	IsRunning() bool
}

// Gateway is the platform adapter. Request* calls return immediately; their
// outcome arrives later as a types.PlatformResult carrying the same request id.
type Gateway interface {
	IsBluetoothEnabled() bool
	RequestBluetoothEnable(requestID string)
	DiscoverableMode() types.DiscoverableMode
	RequestDiscoverable(requestID string, durationSeconds int)
	// CancelRequest withdraws an outstanding request so a late answer to it
	// has no effect.
	CancelRequest(requestID string)
	IsNearFieldAvailable() bool
	SetNearFieldPushPayload(uri string) bool
	ClearNearFieldPushPayload()
}

// Settings is the read-only preference source.
type Settings interface {
	ShowNearFieldDuringSwap() bool
}

// Metrics observes transport lifecycle events.
type Metrics interface {
	TransportArmed(transport string)
	TransportDisarmed(transport string, reason string)
}

// Options configures a Coordinator.
type Options struct {
	Network   Server
	Bluetooth Server
	// Proxy serves the repository for the Bluetooth server to relay; optional.
	Proxy                Server
	Gateway              Gateway
	Settings             Settings
	Metrics              Metrics
	Logger               *log.Logger
	IdleTimeout          time.Duration
	DiscoverableDuration int
	// Scheduler is created when nil and shut down by Close.
	Scheduler gocron.Scheduler
	// OnChange runs after a transport changed on its own, such as the idle
	// shutdown. It is called without the coordinator lock held.
	OnChange func()
}

// Coordinator exclusively owns every transport's state.
type Coordinator struct {
	network   Server
	bluetooth Server
	proxy     Server
	gateway   Gateway
	settings  Settings
	metrics   Metrics
	logger    *log.Logger
	onChange  func()

	idleTimeout     time.Duration
	discoverableSec int

	scheduler     gocron.Scheduler
	ownsScheduler bool

	mu             sync.Mutex
	networkArmed   bool
	idleJob        gocron.Job
	idleGen        uint64
	idleDeadline   time.Time
	bluetoothArmed bool
	btPending      types.HandshakePhase
	btRequestID    string
	nearFieldArmed bool
	nearFieldURI   string
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Network == nil {
		return nil, fmt.Errorf("network server is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("platform gateway is required")
	}
	c := &Coordinator{
		network:         opts.Network,
		bluetooth:       opts.Bluetooth,
		proxy:           opts.Proxy,
		gateway:         opts.Gateway,
		settings:        opts.Settings,
		metrics:         opts.Metrics,
		logger:          tool.LoggerOr(opts.Logger, "[Transport]"),
		onChange:        opts.OnChange,
		idleTimeout:     opts.IdleTimeout,
		discoverableSec: opts.DiscoverableDuration,
		scheduler:       opts.Scheduler,
	}
	if c.idleTimeout <= 0 {
		c.idleTimeout = DefaultIdleTimeout
	}
	if c.discoverableSec <= 0 {
		c.discoverableSec = DefaultDiscoverableDuration
	}
	if c.scheduler == nil {
		s, err := gocron.NewScheduler()
		if err != nil {
			return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
		}
		s.Start()
		c.scheduler = s
		c.ownsScheduler = true
	}
	return c, nil
}

// StartNetworkShare arms the network share. Calling it while armed only
// reschedules the idle timer.
func (c *Coordinator) StartNetworkShare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.networkArmed || !c.network.IsRunning() {
		if err := c.network.Start(ctx); err != nil {
			return fmt.Errorf("start network share: %w", err)
		}
		c.networkArmed = true
		c.logger.Infof("Network share armed, idle shutdown in %s", c.idleTimeout)
		c.armed("network")
	} else {
		c.logger.Debugf("Network share already armed, refreshing idle timer")
	}
	return c.rescheduleIdleLocked()
}

// StopNetworkShare cancels the idle timer and tears the server down.
func (c *Coordinator) StopNetworkShare(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopNetworkLocked(ctx, "stopped")
}

// NetworkShareRunning reports whether the network share is serving.
func (c *Coordinator) NetworkShareRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.networkArmed && c.network.IsRunning()
}

// IdleDeadline returns when the idle timer fires, zero when no timer is live.
func (c *Coordinator) IdleDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idleDeadline
}

// IdleTimerArmed reports whether an idle timer is scheduled.
func (c *Coordinator) IdleTimerArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idleJob != nil
}

// onIdleTimerFired is the only automatic teardown path. gen guards against a
// timer that was replaced while it was firing.
func (c *Coordinator) onIdleTimerFired(gen uint64) {
	c.mu.Lock()
	if gen != c.idleGen || c.idleJob == nil {
		c.mu.Unlock()
		return
	}
	// the firing job is removed off the scheduler's execution path
	id := c.idleJob.ID()
	c.idleJob = nil
	c.idleDeadline = time.Time{}
	go func() { _ = c.scheduler.RemoveJob(id) }()

	c.logger.Infof("Network share idle for %s, shutting down", c.idleTimeout)
	c.stopNetworkLocked(context.Background(), "idle")
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Coordinator) rescheduleIdleLocked() error {
	c.cancelIdleLocked()

	c.idleGen++
	gen := c.idleGen
	deadline := time.Now().Add(c.idleTimeout)
	job, err := c.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(deadline)),
		gocron.NewTask(c.onIdleTimerFired, gen),
		gocron.WithName("network-share-idle"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule idle shutdown: %w", err)
	}
	c.idleJob = job
	c.idleDeadline = deadline
	return nil
}

func (c *Coordinator) cancelIdleLocked() {
	if c.idleJob == nil {
		return
	}
	if err := c.scheduler.RemoveJob(c.idleJob.ID()); err != nil {
		// a one-time job that already ran may be gone
		c.logger.Debugf("Idle timer removal: %v", err)
	}
	c.idleJob = nil
	c.idleDeadline = time.Time{}
}

func (c *Coordinator) stopNetworkLocked(ctx context.Context, reason string) {
	c.cancelIdleLocked()
	if !c.networkArmed && !c.network.IsRunning() {
		return
	}
	c.network.Stop(ctx)
	c.networkArmed = false
	c.logger.Infof("Network share stopped (%s)", reason)
	c.disarmed("network", reason)
}

// IsBluetoothEnabled asks the platform whether the adapter is on.
func (c *Coordinator) IsBluetoothEnabled() bool {
	return c.gateway.IsBluetoothEnabled()
}

// IsBluetoothDiscoverable asks the platform whether the adapter is connectable and discoverable.
func (c *Coordinator) IsBluetoothDiscoverable() bool {
	return c.gateway.DiscoverableMode() == types.ScanModeConnectableDiscoverable
}

// RequestBluetoothEnable issues the asynchronous enable request and returns its id.
func (c *Coordinator) RequestBluetoothEnable() types.PlatformRequest {
	req := types.PlatformRequest{ID: uuid.NewString(), Kind: types.RequestBluetoothEnable}
	c.mu.Lock()
	c.btPending = types.PhaseNeedsEnable
	c.btRequestID = req.ID
	c.mu.Unlock()
	c.logger.Debugf("Requesting Bluetooth enable (%s)", req.ID)
	c.gateway.RequestBluetoothEnable(req.ID)
	return req
}

// RequestBluetoothDiscoverable issues the asynchronous discoverable request.
// The discoverable window is enforced by the platform.
func (c *Coordinator) RequestBluetoothDiscoverable() types.PlatformRequest {
	req := types.PlatformRequest{ID: uuid.NewString(), Kind: types.RequestBluetoothDiscoverable}
	c.mu.Lock()
	c.btPending = types.PhaseNeedsDiscoverable
	c.btRequestID = req.ID
	c.mu.Unlock()
	c.logger.Debugf("Requesting Bluetooth discoverable for %ds (%s)", c.discoverableSec, req.ID)
	c.gateway.RequestDiscoverable(req.ID, c.discoverableSec)
	return req
}

// ClearBluetoothRequest forgets the outstanding request and withdraws it from
// the platform, so an answer arriving later is ignored.
func (c *Coordinator) ClearBluetoothRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearRequestLocked()
}

func (c *Coordinator) clearRequestLocked() {
	c.btPending = ""
	if c.btRequestID != "" {
		c.gateway.CancelRequest(c.btRequestID)
		c.btRequestID = ""
	}
}

// StartBluetoothServer makes sure the repository is served, then arms the
// Bluetooth server. It is a no-op when already armed.
func (c *Coordinator) StartBluetoothServer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bluetooth == nil {
		return fmt.Errorf("bluetooth transport is not available")
	}
	if c.bluetoothArmed && c.bluetooth.IsRunning() {
		return nil
	}
	c.btPending = types.PhaseStarting
	if c.proxy != nil && !c.proxy.IsRunning() {
		if err := c.proxy.Start(ctx); err != nil {
			c.btPending = ""
			return fmt.Errorf("start repository proxy: %w", err)
		}
	}
	if err := c.bluetooth.Start(ctx); err != nil {
		c.btPending = ""
		return fmt.Errorf("start bluetooth server: %w", err)
	}
	c.bluetoothArmed = true
	c.btPending = ""
	c.logger.Infof("Bluetooth server armed")
	c.armed("bluetooth")
	return nil
}

// StopBluetoothServer tears down the Bluetooth server and its proxy.
func (c *Coordinator) StopBluetoothServer(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopBluetoothLocked(ctx)
}

func (c *Coordinator) stopBluetoothLocked(ctx context.Context) {
	c.clearRequestLocked()
	if c.bluetooth == nil {
		return
	}
	if c.bluetoothArmed || c.bluetooth.IsRunning() {
		c.bluetooth.Stop(ctx)
		c.bluetoothArmed = false
		c.logger.Infof("Bluetooth server stopped")
		c.disarmed("bluetooth", "stopped")
	}
	if c.proxy != nil && c.proxy.IsRunning() {
		c.proxy.Stop(ctx)
	}
}

// BluetoothArmed reports whether the Bluetooth server is serving.
func (c *Coordinator) BluetoothArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bluetoothArmed && c.bluetooth != nil && c.bluetooth.IsRunning()
}

// BluetoothPhase derives the handshake phase from the server and adapter state.
func (c *Coordinator) BluetoothPhase() types.HandshakePhase {
	c.mu.Lock()
	armed := c.bluetoothArmed
	pending := c.btPending
	c.mu.Unlock()

	switch {
	case armed:
		return types.PhaseServing
	case pending != "":
		return pending
	case !c.gateway.IsBluetoothEnabled():
		return types.PhaseNeedsEnable
	case c.gateway.DiscoverableMode() != types.ScanModeConnectableDiscoverable:
		return types.PhaseNeedsDiscoverable
	default:
		return types.PhaseStarting
	}
}

// RegisterNearFieldPayload pushes uri to the near-field subsystem and reports
// whether the near-field step should be offered: the payload registered and the
// preference allows showing it. The payload stays registered even when the
// preference hides the step, so a tap still works from the QR screen.
func (c *Coordinator) RegisterNearFieldPayload(uri string) bool {
	registered := c.gateway.IsNearFieldAvailable() && c.gateway.SetNearFieldPushPayload(uri)

	c.mu.Lock()
	c.nearFieldArmed = registered
	if registered {
		c.nearFieldURI = uri
	} else {
		c.nearFieldURI = ""
	}
	c.mu.Unlock()

	show := c.settings == nil || c.settings.ShowNearFieldDuringSwap()
	c.logger.Debugf("Near-field payload registered=%v, show step=%v", registered, show)
	return registered && show
}

// ClearNearField withdraws the push payload.
func (c *Coordinator) ClearNearField() {
	c.mu.Lock()
	wasArmed := c.nearFieldArmed
	c.nearFieldArmed = false
	c.nearFieldURI = ""
	c.mu.Unlock()
	if wasArmed {
		c.gateway.ClearNearFieldPushPayload()
	}
}

// StopAll tears down every transport and cancels the idle timer.
func (c *Coordinator) StopAll(ctx context.Context) {
	c.mu.Lock()
	c.stopNetworkLocked(ctx, "session stopped")
	c.stopBluetoothLocked(ctx)
	c.mu.Unlock()
	c.ClearNearField()
}

// View returns a snapshot of every transport.
func (c *Coordinator) View() types.TransportView {
	phase := c.BluetoothPhase()
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.TransportView{
		NetworkArmed:     c.networkArmed && c.network.IsRunning(),
		IdleDeadline:     c.idleDeadline,
		BluetoothArmed:   c.bluetoothArmed,
		BluetoothPhase:   phase,
		NearFieldArmed:   c.nearFieldArmed,
		NearFieldPayload: c.nearFieldURI,
	}
}

// Close stops all transports and the scheduler when the coordinator created it.
func (c *Coordinator) Close(ctx context.Context) error {
	c.StopAll(ctx)
	if c.ownsScheduler {
		return c.scheduler.Shutdown()
	}
	return nil
}

func (c *Coordinator) armed(transport string) {
	if c.metrics != nil {
		c.metrics.TransportArmed(transport)
	}
}

func (c *Coordinator) disarmed(transport, reason string) {
	if c.metrics != nil {
		c.metrics.TransportDisarmed(transport, reason)
	}
}
