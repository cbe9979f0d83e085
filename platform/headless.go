// Package platform provides the adapter gateway for hosts without a native
// Bluetooth or near-field stack. Permission prompts are forwarded to the UI as
// notifications and answered through the control API.
package platform

import (
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/charmbracelet/log"

	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

// Notifier delivers permission prompts to the UI.
type Notifier interface {
	Notify(notification *types.Notification)
}

// Headless is an in-memory adapter whose permission requests are granted or
// denied by the user through the UI.
type Headless struct {
	notifier Notifier
	logger   *log.Logger

	mu                sync.Mutex
	enabled           bool
	discoverableUntil time.Time
	nfcAvailable      bool
	payload           string
	prompts           *ttlworker.Cache[string, *prompt]
}

type prompt struct {
	kind     types.RequestKind
	duration time.Duration
}

func NewHeadless(notifier Notifier, nfcAvailable bool, logger *log.Logger) *Headless {
	return &Headless{
		notifier:     notifier,
		logger:       tool.LoggerOr(logger, "[Platform]"),
		nfcAvailable: nfcAvailable,
		prompts:      ttlworker.NewCache[string, *prompt](tool.DefaultTTL),
	}
}

func (h *Headless) IsBluetoothEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

func (h *Headless) RequestBluetoothEnable(requestID string) {
	h.ask(types.PlatformRequest{ID: requestID, Kind: types.RequestBluetoothEnable}, "Enable Bluetooth?", 0)
}

// DiscoverableMode reports connectable-discoverable until the granted window ends.
func (h *Headless) DiscoverableMode() types.DiscoverableMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case !h.enabled:
		return types.ScanModeNone
	case time.Now().Before(h.discoverableUntil):
		return types.ScanModeConnectableDiscoverable
	default:
		return types.ScanModeConnectable
	}
}

func (h *Headless) RequestDiscoverable(requestID string, durationSeconds int) {
	h.ask(types.PlatformRequest{ID: requestID, Kind: types.RequestBluetoothDiscoverable},
		"Make this device discoverable over Bluetooth?", durationSeconds)
}

func (h *Headless) IsNearFieldAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nfcAvailable
}

func (h *Headless) SetNearFieldPushPayload(uri string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.nfcAvailable {
		return false
	}
	h.payload = uri
	return true
}

func (h *Headless) ClearNearFieldPushPayload() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payload = ""
}

// NearFieldPayload returns the registered push payload.
func (h *Headless) NearFieldPayload() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.payload
}

// Resolve applies the user's answer to the adapter when it answers a live
// prompt. The prompt is consumed and the result comes back with its kind
// filled in. Answers to unknown, expired or cancelled prompts change nothing
// and report false.
func (h *Headless) Resolve(result types.PlatformResult) (types.PlatformResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if result.RequestID == "" {
		return result, false
	}
	p := h.prompts.Get(result.RequestID)
	if p == nil {
		h.logger.Debugf("No live prompt for %s, ignoring answer", result.RequestID)
		return result, false
	}
	if result.Kind == "" {
		result.Kind = p.kind
	}
	if result.Kind != p.kind {
		return result, false
	}
	h.prompts.Delete(result.RequestID)

	if !result.Granted {
		return result, true
	}
	window := 300 * time.Second
	if p.duration > 0 {
		window = p.duration
	}
	switch result.Kind {
	case types.RequestBluetoothEnable:
		h.enabled = true
	case types.RequestBluetoothDiscoverable:
		h.enabled = true
		h.discoverableUntil = time.Now().Add(window)
	}
	return result, true
}

// CancelRequest withdraws a prompt nobody waits for anymore.
func (h *Headless) CancelRequest(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.prompts.Get(requestID) == nil {
		return
	}
	h.prompts.Delete(requestID)
	h.logger.Debugf("Withdrew permission prompt %s", requestID)
}

func (h *Headless) ask(req types.PlatformRequest, title string, durationSeconds int) {
	h.mu.Lock()
	h.prompts.Set(req.ID, &prompt{kind: req.Kind, duration: time.Duration(durationSeconds) * time.Second})
	h.mu.Unlock()

	h.logger.Infof("Permission prompt %s (%s)", req.Kind, req.ID)
	if h.notifier == nil {
		return
	}
	data := map[string]any{
		"requestId": req.ID,
		"kind":      string(req.Kind),
	}
	if durationSeconds > 0 {
		data["durationSeconds"] = durationSeconds
	}
	h.notifier.Notify(&types.Notification{
		Type:  types.NotifyTypePermissionRequest,
		Title: title,
		Data:  data,
	})
}
