package controllers

import (
	"net/http"
	"strconv"
	"strings"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/moyoez/localswap/swap"
	"github.com/moyoez/localswap/tool"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

var qrCache = ttlworker.NewCache[string, []byte](tool.DefaultTTL)

// SessionQRCode returns a PNG QR code of the sharing URI, for the
// NetworkQrReady step. Accepts ?size=256 or ?size=256x256.
// GET /api/swap/v1/qr
func SessionQRCode(sessions *swap.Manager, sharingURI func() (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		uri := ""
		if ctrl := sessions.Current(); ctrl != nil {
			uri = ctrl.Snapshot().SharingURI
		}
		if uri == "" {
			var err error
			if uri, err = sharingURI(); err != nil {
				c.JSON(http.StatusServiceUnavailable, tool.FastReturnError("No sharing address: "+err.Error()))
				return
			}
		}

		size := parseSize(c.Query("size"))
		if size <= 0 {
			size = defaultQRSize
		}
		if size > maxQRSize {
			size = maxQRSize
		}

		key := strconv.Itoa(size) + "|" + uri
		png := qrCache.Get(key)
		if png == nil {
			var err error
			png, err = qrcode.Encode(uri, qrcode.Medium, size)
			if err != nil {
				c.JSON(http.StatusInternalServerError, tool.FastReturnError("Failed to encode QR code: "+err.Error()))
				return
			}
			qrCache.Set(key, png)
		}
		c.Header("X-Sharing-Uri", uri)
		c.Data(http.StatusOK, "image/png", png)
	}
}

// parseSize parses size from "200x200" or "200" and returns the pixel dimension.
func parseSize(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if idx := strings.Index(s, "x"); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
