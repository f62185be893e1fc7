package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/credential-service/internal/dto"
	"go.uber.org/zap"
)

const (
	healthCheckTimeout = 2 * time.Second

	healthPass = "pass"
	healthFail = "fail"
	checkOK    = "ok"
)

// dependencyCheck pings one backing store.
type dependencyCheck struct {
	name string
	ping func(ctx context.Context) error
}

// HealthChecker answers /health by pinging the token store and the blacklist/limiter store.
type HealthChecker struct {
	checks  []dependencyCheck
	timeout time.Duration
	logger  *zap.Logger
}

func NewHealthChecker(infra Infrastructure) *HealthChecker {
	return newHealthChecker(infra.Logger(), healthCheckTimeout,
		dependencyCheck{name: "postgres", ping: infra.Postgres().Ping},
		dependencyCheck{name: "redis", ping: infra.Redis().Ping},
	)
}

func newHealthChecker(logger *zap.Logger, timeout time.Duration, checks ...dependencyCheck) *HealthChecker {
	return &HealthChecker{checks: checks, timeout: timeout, logger: logger}
}

// run pings every dependency concurrently and reports each outcome by name.
func (h *HealthChecker) run(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	errs := make([]error, len(h.checks))
	var wg sync.WaitGroup
	for i, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = check.ping(ctx)
		}()
	}
	wg.Wait()

	results := make(map[string]string, len(h.checks))
	healthy := true
	for i, check := range h.checks {
		if errs[i] != nil {
			healthy = false
			results[check.name] = errs[i].Error()
			h.logger.Warn("Health check failed", zap.String("dependency", check.name), zap.Error(errs[i]))
			continue
		}
		results[check.name] = checkOK
	}
	return results, healthy
}

func (h *HealthChecker) Handler(c *gin.Context) {
	results, healthy := h.run(c.Request.Context())

	resp := dto.HealthResponse{Status: healthPass, Checks: results}
	if !healthy {
		resp.Status = healthFail
		resp.Message = "One or more dependencies are unavailable"
		resp.Error = "SERVICE_UNAVAILABLE"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	resp.Succeed("Service is healthy")
	c.JSON(http.StatusOK, resp)
}
