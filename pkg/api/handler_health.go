package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/relay/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"

	// degradedLatency is the probe round-trip above which the store is
	// reachable but considered slow.
	degradedLatency = 1000 * time.Millisecond
)

// HealthCheck is one component's probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health. A reachable store within the latency
// threshold is healthy, reachable but slow is degraded, unreachable is
// unhealthy with HTTP 503.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.opts.Pinger != nil {
		latency, err := s.opts.Pinger.Ping(reqCtx)
		switch {
		case err != nil:
			status = healthStatusUnhealthy
			checks["redis"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		case latency > degradedLatency:
			status = healthStatusDegraded
			checks["redis"] = HealthCheck{Status: healthStatusDegraded, Latency: latency.String()}
		default:
			checks["redis"] = HealthCheck{Status: healthStatusHealthy, Latency: latency.String()}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
