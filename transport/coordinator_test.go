package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/localswap/types"
)

type fakeServer struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	startErr error
}

func (f *fakeServer) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.running = true
	return nil
}

func (f *fakeServer) Stop(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
}

func (f *fakeServer) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeServer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakeGateway struct {
	mu           sync.Mutex
	enabled      bool
	mode         types.DiscoverableMode
	nfcAvailable bool
	payload      string
	enableReqs   []string
	discReqs     []int
	cancelled    []string
}

func (g *fakeGateway) IsBluetoothEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}
func (g *fakeGateway) RequestBluetoothEnable(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enableReqs = append(g.enableReqs, id)
}
func (g *fakeGateway) DiscoverableMode() types.DiscoverableMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}
func (g *fakeGateway) RequestDiscoverable(_ string, seconds int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.discReqs = append(g.discReqs, seconds)
}
func (g *fakeGateway) CancelRequest(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
}
func (g *fakeGateway) IsNearFieldAvailable() bool { return g.nfcAvailable }
func (g *fakeGateway) SetNearFieldPushPayload(uri string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payload = uri
	return true
}
func (g *fakeGateway) ClearNearFieldPushPayload() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payload = ""
}

type staticSettings bool

func (s staticSettings) ShowNearFieldDuringSwap() bool { return bool(s) }

func newTestCoordinator(t *testing.T, idle time.Duration) (*Coordinator, *fakeServer, *fakeServer, *fakeGateway) {
	t.Helper()
	network, bluetooth := &fakeServer{}, &fakeServer{}
	gw := &fakeGateway{}
	c, err := NewCoordinator(Options{
		Network:     network,
		Bluetooth:   bluetooth,
		Gateway:     gw,
		Settings:    staticSettings(true),
		IdleTimeout: idle,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, network, bluetooth, gw
}

func TestStartNetworkShareIsIdempotent(t *testing.T) {
	c, network, _, _ := newTestCoordinator(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.StartNetworkShare(ctx))
	first := c.IdleDeadline()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.StartNetworkShare(ctx))
	require.NoError(t, c.StartNetworkShare(ctx))

	starts, _ := network.counts()
	assert.Equal(t, 1, starts)
	assert.True(t, c.NetworkShareRunning())
	assert.True(t, c.IdleTimerArmed())
	assert.True(t, c.IdleDeadline().After(first), "idle timer should be rescheduled")
}

func TestStartNetworkShareKeepsOneIdleJob(t *testing.T) {
	scheduler, err := gocron.NewScheduler()
	require.NoError(t, err)
	scheduler.Start()
	t.Cleanup(func() { _ = scheduler.Shutdown() })

	c, err := NewCoordinator(Options{
		Network:     &fakeServer{},
		Gateway:     &fakeGateway{},
		IdleTimeout: time.Hour,
		Scheduler:   scheduler,
	})
	require.NoError(t, err)
	defer c.Close(context.Background())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.StartNetworkShare(ctx))
	}
	jobs := scheduler.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "network-share-idle", jobs[0].Name())

	c.StopNetworkShare(ctx)
	assert.Empty(t, scheduler.Jobs())
}

func TestIdleShutdownReportsChange(t *testing.T) {
	changed := make(chan bool, 1)
	var c *Coordinator
	c, err := NewCoordinator(Options{
		Network:     &fakeServer{},
		Gateway:     &fakeGateway{},
		IdleTimeout: 100 * time.Millisecond,
		OnChange: func() {
			// the coordinator lock is released, so reading state is allowed
			changed <- c.View().NetworkArmed
		},
	})
	require.NoError(t, err)
	defer c.Close(context.Background())

	require.NoError(t, c.StartNetworkShare(context.Background()))
	select {
	case armed := <-changed:
		assert.False(t, armed)
	case <-time.After(2 * time.Second):
		t.Fatal("idle shutdown was not reported")
	}
}

func TestIdleTimerStopsNetworkShare(t *testing.T) {
	c, network, _, _ := newTestCoordinator(t, 100*time.Millisecond)

	require.NoError(t, c.StartNetworkShare(context.Background()))
	require.Eventually(t, func() bool { return !network.IsRunning() }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.NetworkShareRunning())
	assert.False(t, c.IdleTimerArmed())
	assert.True(t, c.IdleDeadline().IsZero())
}

func TestIdleTimerResetOnRestart(t *testing.T) {
	c, network, _, _ := newTestCoordinator(t, 300*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.StartNetworkShare(ctx))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, c.StartNetworkShare(ctx))
	time.Sleep(200 * time.Millisecond)
	assert.True(t, network.IsRunning(), "refreshed share must outlive the first deadline")

	require.Eventually(t, func() bool { return !network.IsRunning() }, 2*time.Second, 10*time.Millisecond)
	_, stops := network.counts()
	assert.Equal(t, 1, stops)
}

func TestStopNetworkShare(t *testing.T) {
	c, network, _, _ := newTestCoordinator(t, time.Hour)
	ctx := context.Background()

	c.StopNetworkShare(ctx)
	_, stops := network.counts()
	assert.Equal(t, 0, stops, "stopping an unarmed share is a no-op")

	require.NoError(t, c.StartNetworkShare(ctx))
	c.StopNetworkShare(ctx)
	c.StopNetworkShare(ctx)
	_, stops = network.counts()
	assert.Equal(t, 1, stops)
	assert.False(t, c.IdleTimerArmed())
}

func TestStartNetworkShareError(t *testing.T) {
	c, network, _, _ := newTestCoordinator(t, time.Hour)
	network.startErr = errors.New("address in use")

	err := c.StartNetworkShare(context.Background())
	assert.ErrorContains(t, err, "address in use")
	assert.False(t, c.NetworkShareRunning())
	assert.False(t, c.IdleTimerArmed())
}

func TestBluetoothPhases(t *testing.T) {
	c, _, bluetooth, gw := newTestCoordinator(t, time.Hour)

	assert.Equal(t, types.PhaseNeedsEnable, c.BluetoothPhase())
	req := c.RequestBluetoothEnable()
	assert.Equal(t, types.RequestBluetoothEnable, req.Kind)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, []string{req.ID}, gw.enableReqs)

	gw.enabled = true
	c.ClearBluetoothRequest()
	assert.Equal(t, types.PhaseNeedsDiscoverable, c.BluetoothPhase())

	c.RequestBluetoothDiscoverable()
	assert.Equal(t, []int{DefaultDiscoverableDuration}, gw.discReqs)

	gw.mode = types.ScanModeConnectableDiscoverable
	c.ClearBluetoothRequest()
	assert.True(t, c.IsBluetoothDiscoverable())
	assert.Equal(t, types.PhaseStarting, c.BluetoothPhase())

	require.NoError(t, c.StartBluetoothServer(context.Background()))
	require.NoError(t, c.StartBluetoothServer(context.Background()))
	starts, _ := bluetooth.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, types.PhaseServing, c.BluetoothPhase())
	assert.True(t, c.BluetoothArmed())

	c.StopBluetoothServer(context.Background())
	assert.False(t, c.BluetoothArmed())
}

func TestClearBluetoothRequestWithdrawsIt(t *testing.T) {
	c, _, _, gw := newTestCoordinator(t, time.Hour)

	req := c.RequestBluetoothEnable()
	c.ClearBluetoothRequest()
	c.ClearBluetoothRequest()
	assert.Equal(t, []string{req.ID}, gw.cancelled)

	disc := c.RequestBluetoothDiscoverable()
	c.StopAll(context.Background())
	assert.Equal(t, []string{req.ID, disc.ID}, gw.cancelled)
}

func TestStartBluetoothServerStartsProxy(t *testing.T) {
	network, bluetooth, proxy := &fakeServer{}, &fakeServer{}, &fakeServer{}
	c, err := NewCoordinator(Options{
		Network:   network,
		Bluetooth: bluetooth,
		Proxy:     proxy,
		Gateway:   &fakeGateway{enabled: true},
	})
	require.NoError(t, err)
	defer c.Close(context.Background())

	require.NoError(t, c.StartBluetoothServer(context.Background()))
	assert.True(t, proxy.IsRunning())
	assert.True(t, bluetooth.IsRunning())

	c.StopAll(context.Background())
	assert.False(t, proxy.IsRunning())
	assert.False(t, bluetooth.IsRunning())
}

func TestRegisterNearFieldPayload(t *testing.T) {
	gw := &fakeGateway{}
	settings := staticSettings(false)
	c, err := NewCoordinator(Options{Network: &fakeServer{}, Gateway: gw, Settings: &settings})
	require.NoError(t, err)
	defer c.Close(context.Background())

	assert.False(t, c.RegisterNearFieldPayload("http://10.0.0.2:8888/fdroid/repo"), "unavailable radio")
	assert.False(t, c.View().NearFieldArmed)

	gw.nfcAvailable = true
	assert.False(t, c.RegisterNearFieldPayload("http://10.0.0.2:8888/fdroid/repo"), "hidden by preference")
	assert.Equal(t, "http://10.0.0.2:8888/fdroid/repo", gw.payload, "payload is registered regardless")

	settings = true
	assert.True(t, c.RegisterNearFieldPayload("http://10.0.0.2:8888/fdroid/repo"))
	assert.True(t, c.RegisterNearFieldPayload("http://10.0.0.2:8888/fdroid/repo"))

	c.StopAll(context.Background())
	assert.Empty(t, gw.payload)
	assert.False(t, c.View().NearFieldArmed)
}
