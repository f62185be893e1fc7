package observability

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// PrometheusHandler returns a Gin handler for Prometheus metrics
func PrometheusHandler(handler http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if handler != nil {
			handler.ServeHTTP(c.Writer, c.Request)
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "metrics handler not initialized",
			})
		}
	}
}

// AuthMetrics holds the counters recorded by the credential services.
type AuthMetrics struct {
	loginAttempts   otelmetric.Int64Counter
	tokensIssued    otelmetric.Int64Counter
	tokensRevoked   otelmetric.Int64Counter
	twoFactorChecks otelmetric.Int64Counter
	cleanupRemoved  otelmetric.Int64Counter
}

// NewAuthMetrics registers counters on the given provider. A nil provider yields no-op counters.
func NewAuthMetrics(provider otelmetric.MeterProvider) (*AuthMetrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter("credential-service/auth")

	m := &AuthMetrics{}
	var err error

	if m.loginAttempts, err = meter.Int64Counter("login_attempts",
		otelmetric.WithDescription("Login attempts by method and result")); err != nil {
		return nil, err
	}
	if m.tokensIssued, err = meter.Int64Counter("tokens_issued",
		otelmetric.WithDescription("Tokens issued by kind")); err != nil {
		return nil, err
	}
	if m.tokensRevoked, err = meter.Int64Counter("tokens_revoked",
		otelmetric.WithDescription("Token revocations by kind")); err != nil {
		return nil, err
	}
	if m.twoFactorChecks, err = meter.Int64Counter("two_factor_verifications",
		otelmetric.WithDescription("Two-factor verifications by method and result")); err != nil {
		return nil, err
	}
	if m.cleanupRemoved, err = meter.Int64Counter("token_cleanup_removed",
		otelmetric.WithDescription("Tokens removed by the cleanup sweep")); err != nil {
		return nil, err
	}

	return m, nil
}

// NoopAuthMetrics returns metrics that record nothing, for tests and tools.
func NoopAuthMetrics() *AuthMetrics {
	m, _ := NewAuthMetrics(nil)
	return m
}

func (m *AuthMetrics) LoginAttempt(ctx context.Context, method, result string) {
	m.loginAttempts.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("method", method),
		attribute.String("result", result),
	))
}

func (m *AuthMetrics) TokenIssued(ctx context.Context, kind string) {
	m.tokensIssued.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", kind)))
}

func (m *AuthMetrics) TokenRevoked(ctx context.Context, kind string) {
	m.tokensRevoked.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", kind)))
}

func (m *AuthMetrics) TwoFactorVerification(ctx context.Context, method string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.twoFactorChecks.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("method", method),
		attribute.String("result", result),
	))
}

func (m *AuthMetrics) CleanupRemoved(ctx context.Context, n int64) {
	m.cleanupRemoved.Add(ctx, n)
}
