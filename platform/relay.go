package platform

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/moyoez/localswap/tool"
)

var ErrBluetoothOff = errors.New("bluetooth is off")

// Relay stands in for the Bluetooth repository server on hosts without a
// Bluetooth stack. It advertises the loopback proxy address the host's
// Bluetooth bridge forwards peers to.
type Relay struct {
	gateway  *Headless
	proxyURL string
	logger   *log.Logger

	mu      sync.Mutex
	running bool
}

func NewRelay(gateway *Headless, proxyURL string, logger *log.Logger) *Relay {
	return &Relay{gateway: gateway, proxyURL: proxyURL, logger: tool.LoggerOr(logger, "[Bluetooth]")}
}

func (r *Relay) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.gateway.IsBluetoothEnabled() {
		return ErrBluetoothOff
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		r.running = true
		r.logger.Infof("Relaying repository at %s", r.proxyURL)
	}
	return nil
}

func (r *Relay) Stop(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.running = false
		r.logger.Infof("Relay stopped")
	}
}

func (r *Relay) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ProxyURL is the address peers are relayed to.
func (r *Relay) ProxyURL() string {
	return r.proxyURL
}
