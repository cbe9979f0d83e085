package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/localswap/localrepo"
	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

// AppLister lists the application catalog.
type AppLister interface {
	List() ([]localrepo.CatalogApp, error)
}

// HistoryReader reads persisted rebuild outcomes.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]types.RebuildRecord, error)
}

// ListApps returns the applications that can be selected.
// GET /api/swap/v1/apps
func ListApps(catalog AppLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		apps, err := catalog.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, tool.FastReturnError(err.Error()))
			return
		}
		c.JSON(http.StatusOK, tool.FastReturnSuccessWithData(apps))
	}
}

// ListRebuilds returns recent rebuild jobs, newest first. ?limit= defaults to 20.
// GET /api/swap/v1/rebuilds
func ListRebuilds(history HistoryReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if limit <= 0 || limit > 200 {
			limit = 20
		}
		records, err := history.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, tool.FastReturnError(err.Error()))
			return
		}
		c.JSON(http.StatusOK, tool.FastReturnSuccessWithData(records))
	}
}
