package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/localswap/swap"
	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

// Catalog validates application selections.
type Catalog interface {
	Validate(selection types.Selection) error
}

// SessionController exposes the live swap session to the host UI.
type SessionController struct {
	sessions *swap.Manager
	catalog  Catalog
}

func NewSessionController(sessions *swap.Manager, catalog Catalog) *SessionController {
	return &SessionController{sessions: sessions, catalog: catalog}
}

type selectionRequest struct {
	Apps []string `json:"apps"`
}

// current writes 404 and returns nil when no session is open.
func (sc *SessionController) current(c *gin.Context) *swap.Controller {
	ctrl := sc.sessions.Current()
	if ctrl == nil {
		c.JSON(http.StatusNotFound, tool.FastReturnError("No active swap session"))
	}
	return ctrl
}

// GetSession returns the session snapshot.
// GET /api/swap/v1/session
func (sc *SessionController) GetSession(c *gin.Context) {
	if ctrl := sc.current(c); ctrl != nil {
		c.JSON(http.StatusOK, ctrl.Snapshot())
	}
}

// StartSession opens a session, or returns the one already open.
// POST /api/swap/v1/session/start
func (sc *SessionController) StartSession(c *gin.Context) {
	ctrl, err := sc.sessions.Begin(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, tool.FastReturnError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// Advance moves forward. On SelectApps an optional {"apps": [...]} body
// replaces the selection first.
// POST /api/swap/v1/session/advance
func (sc *SessionController) Advance(c *gin.Context) {
	ctrl := sc.current(c)
	if ctrl == nil {
		return
	}
	var req selectionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, tool.FastReturnError(err.Error()))
			return
		}
	}

	var err error
	if req.Apps != nil {
		selection := types.NewSelection(req.Apps...)
		if err = sc.catalog.Validate(selection); err == nil {
			err = ctrl.RequestAdvanceFromSelectApps(selection)
		}
	} else {
		err = ctrl.Advance(c.Request.Context())
	}
	sc.respond(c, ctrl, err)
}

// Back pops to the previous step. Going back from Start ends the session.
// POST /api/swap/v1/session/back
func (sc *SessionController) Back(c *gin.Context) {
	ctrl := sc.current(c)
	if ctrl == nil {
		return
	}
	ctrl.Back(c.Request.Context())
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// Stop ends the session and every transport.
// POST /api/swap/v1/session/stop
func (sc *SessionController) Stop(c *gin.Context) {
	sc.sessions.Stop(c.Request.Context())
	c.JSON(http.StatusOK, tool.FastReturnSuccess())
}

// Detach leaves the session but keeps the network share serving until its
// idle timeout, so the next start resumes on the QR step.
// POST /api/swap/v1/session/detach
func (sc *SessionController) Detach(c *gin.Context) {
	sc.sessions.Detach()
	c.JSON(http.StatusOK, tool.FastReturnSuccess())
}

// PutSelection replaces the selected applications.
// PUT /api/swap/v1/session/selection
func (sc *SessionController) PutSelection(c *gin.Context) {
	ctrl := sc.current(c)
	if ctrl == nil {
		return
	}
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError(err.Error()))
		return
	}
	selection := types.NewSelection(req.Apps...)
	err := sc.catalog.Validate(selection)
	if err == nil {
		err = ctrl.SetSelection(selection)
	}
	sc.respond(c, ctrl, err)
}

// RequestBluetooth switches the share to Bluetooth.
// POST /api/swap/v1/session/bluetooth
func (sc *SessionController) RequestBluetooth(c *gin.Context) {
	ctrl := sc.current(c)
	if ctrl == nil {
		return
	}
	sc.respond(c, ctrl, ctrl.RequestBluetoothSwap(c.Request.Context()))
}

func (sc *SessionController) respond(c *gin.Context, ctrl *swap.Controller, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, ctrl.Snapshot())
	case errors.Is(err, types.ErrUnknownApp):
		c.JSON(http.StatusBadRequest, tool.FastReturnError(err.Error()))
	case errors.Is(err, types.ErrSessionClosed):
		c.JSON(http.StatusGone, tool.FastReturnError(err.Error()))
	default:
		c.JSON(http.StatusConflict, tool.FastReturnErrorWithData(err.Error(), map[string]any{"session": ctrl.Snapshot()}))
	}
}
