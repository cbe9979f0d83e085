package types

import "errors"

var (
	ErrSessionClosed   = errors.New("swap session is closed")
	ErrRebuildInFlight = errors.New("repository rebuild already running")
	ErrUnknownRequest  = errors.New("no matching platform request pending")
	ErrUnknownApp      = errors.New("application is not in the catalog")
)
