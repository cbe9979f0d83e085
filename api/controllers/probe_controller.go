package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	probing "github.com/prometheus-community/pro-bing"

	"github.com/moyoez/localswap/tool"
)

const (
	probeCount   = 3
	probeTimeout = 3 * time.Second
)

// ProbeResult summarises a ping of a peer.
type ProbeResult struct {
	Host        string  `json:"host"`
	Addr        string  `json:"addr"`
	Sent        int     `json:"sent"`
	Received    int     `json:"received"`
	PacketLoss  float64 `json:"packetLoss"`
	AvgRttMs    float64 `json:"avgRttMs"`
	Reachable   bool    `json:"reachable"`
	SameNetwork bool    `json:"sameNetwork"`
}

// Pinger pings a host. Swappable in tests.
var Pinger = pingHost

func pingHost(ctx context.Context, host string) (ProbeResult, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return ProbeResult{}, err
	}
	pinger.SetPrivileged(false)
	pinger.Count = probeCount
	pinger.Interval = 200 * time.Millisecond
	pinger.Timeout = probeTimeout
	if err := pinger.RunWithContext(ctx); err != nil {
		return ProbeResult{}, err
	}
	stats := pinger.Statistics()
	return ProbeResult{
		Host:       host,
		Addr:       stats.IPAddr.String(),
		Sent:       stats.PacketsSent,
		Received:   stats.PacketsRecv,
		PacketLoss: stats.PacketLoss,
		AvgRttMs:   float64(stats.AvgRtt) / float64(time.Millisecond),
		Reachable:  stats.PacketsRecv > 0,
	}, nil
}

// ProbePeer pings ?host= so the user can check both devices share a network.
// GET /api/swap/v1/probe
func ProbePeer(c *gin.Context) {
	host := c.Query("host")
	if host == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing required parameter: host"))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout+time.Second)
	defer cancel()

	result, err := Pinger(ctx, host)
	if err != nil {
		c.JSON(http.StatusBadGateway, tool.FastReturnError("Probe failed: "+err.Error()))
		return
	}
	result.SameNetwork = tool.SameSubnet(result.Addr)
	c.JSON(http.StatusOK, result)
}
