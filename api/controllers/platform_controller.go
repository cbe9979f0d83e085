package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/localswap/swap"
	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

// Resolver applies a permission answer to the platform adapter. It reports
// false, and changes nothing, when the answer matches no live prompt.
type Resolver interface {
	Resolve(result types.PlatformResult) (types.PlatformResult, bool)
}

// PlatformController receives the user's answers to permission prompts.
type PlatformController struct {
	sessions *swap.Manager
	resolver Resolver
}

func NewPlatformController(sessions *swap.Manager, resolver Resolver) *PlatformController {
	return &PlatformController{sessions: sessions, resolver: resolver}
}

// PlatformResult delivers a permission answer to the adapter and then to the
// session waiting on it. A result carrying only a kind answers the session's
// pending request of that kind.
// POST /api/swap/v1/platform-result
func (pc *PlatformController) PlatformResult(c *gin.Context) {
	var result types.PlatformResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError(err.Error()))
		return
	}
	if result.RequestID == "" && result.Kind == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("requestId or kind is required"))
		return
	}

	ctrl := pc.sessions.Current()
	if ctrl == nil {
		c.JSON(http.StatusConflict, tool.FastReturnError(types.ErrUnknownRequest.Error()))
		return
	}
	// only the request the session waits on may reach the adapter
	pending := ctrl.PendingRequest()
	if pending == nil ||
		(result.RequestID != "" && result.RequestID != pending.ID) ||
		(result.Kind != "" && result.Kind != pending.Kind) {
		c.JSON(http.StatusConflict, tool.FastReturnError(types.ErrUnknownRequest.Error()))
		return
	}
	result.RequestID = pending.ID
	result, ok := pc.resolver.Resolve(result)
	if !ok {
		c.JSON(http.StatusConflict, tool.FastReturnError(types.ErrUnknownRequest.Error()))
		return
	}

	err := ctrl.OnPlatformResult(c.Request.Context(), result)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, ctrl.Snapshot())
	case errors.Is(err, types.ErrUnknownRequest):
		c.JSON(http.StatusConflict, tool.FastReturnError(err.Error()))
	case errors.Is(err, types.ErrSessionClosed):
		c.JSON(http.StatusGone, tool.FastReturnError(err.Error()))
	default:
		// the session stays on its step with the network share as fallback
		c.JSON(http.StatusOK, tool.FastReturnErrorWithData(err.Error(), map[string]any{"session": ctrl.Snapshot()}))
	}
}
