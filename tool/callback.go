package tool

import (
	"maps"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultTTL bounds short-lived caches (QR images, platform prompts).
var DefaultTTL = 5 * time.Minute

func FastReturnError(msg string) gin.H {
	return gin.H{
		"error": msg,
	}
}

func FastReturnSuccess() gin.H {
	return gin.H{
		"status": "ok",
	}
}

func FastReturnSuccessWithData(data any) gin.H {
	return gin.H{
		"data": data,
	}
}

func FastReturnErrorWithData(msg string, data map[string]any) gin.H {
	resp := gin.H{
		"error": msg,
	}
	maps.Copy(resp, data)
	return resp
}
