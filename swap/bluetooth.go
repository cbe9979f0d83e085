package swap

import (
	"context"

	"github.com/moyoez/localswap/types"
)

// RequestBluetoothSwap starts the Bluetooth branch: enable the adapter, make it
// discoverable, then arm the Bluetooth server. Each permission request suspends
// the branch until OnPlatformResult delivers the matching result. A denial
// leaves the session on its current step, with the network share as fallback.
func (c *Controller) RequestBluetoothSwap(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ErrSessionClosed
	}
	if c.pending != nil {
		c.logger.Debugf("Bluetooth %s request already pending", c.pending.Kind)
		return nil
	}
	if c.state == types.StateBluetoothDeviceList {
		return nil
	}

	c.logger.Infof("Initiating Bluetooth swap instead of network share")
	if !c.coord.IsBluetoothEnabled() {
		c.logger.Debugf("Bluetooth disabled, asking user to enable it")
		req := c.coord.RequestBluetoothEnable()
		c.pending = &req
		c.renderLocked()
		return nil
	}
	return c.ensureDiscoverableLocked(ctx)
}

// OnPlatformResult resumes the Bluetooth branch. Results that do not match
// the pending request are discarded without side effects.
func (c *Controller) OnPlatformResult(ctx context.Context, result types.PlatformResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ErrSessionClosed
	}

	p := c.pending
	if p == nil || p.Kind != result.Kind || (result.RequestID != "" && result.RequestID != p.ID) {
		c.logger.Debugf("Discarding stale %s result (request %q)", result.Kind, result.RequestID)
		return types.ErrUnknownRequest
	}
	c.pending = nil
	c.coord.ClearBluetoothRequest()

	if !result.Granted {
		switch result.Kind {
		case types.RequestBluetoothEnable:
			c.logger.Infof("User chose not to enable Bluetooth, sticking with network share")
		default:
			c.logger.Infof("User chose not to make Bluetooth discoverable, sticking with network share")
		}
		c.renderLocked()
		return nil
	}

	switch result.Kind {
	case types.RequestBluetoothEnable:
		c.logger.Debugf("User enabled Bluetooth, making sure we are discoverable")
		return c.ensureDiscoverableLocked(ctx)
	case types.RequestBluetoothDiscoverable:
		c.logger.Debugf("User made Bluetooth discoverable, starting Bluetooth server")
		return c.startBluetoothServerLocked(ctx)
	}
	return nil
}

func (c *Controller) ensureDiscoverableLocked(ctx context.Context) error {
	if c.coord.IsBluetoothDiscoverable() {
		c.logger.Debugf("Bluetooth already discoverable")
		return c.startBluetoothServerLocked(ctx)
	}
	c.logger.Debugf("Not discoverable, prompting user")
	req := c.coord.RequestBluetoothDiscoverable()
	c.pending = &req
	c.renderLocked()
	return nil
}

func (c *Controller) startBluetoothServerLocked(ctx context.Context) error {
	if err := c.coord.StartBluetoothServer(ctx); err != nil {
		c.logger.Errorf("Failed to start Bluetooth server, sticking with network share: %v", err)
		c.lastError = err.Error()
		c.renderLocked()
		return err
	}
	c.pushLocked(types.StateBluetoothDeviceList)
	return nil
}
