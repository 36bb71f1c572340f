// Package api exposes the note repository over HTTP. Every route under /v1
// needs a bearer token; its subject becomes the acting professional.
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/health"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/identity"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/monitoring"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/notes"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// Deps are the collaborators of the HTTP server. Health, Metrics,
// MetricsHandler and Logger are optional.
type Deps struct {
	Notes    *notes.Repository
	Verifier *identity.JWTVerifier
	Wiper    identity.Wiper

	Health         *health.Checker
	Metrics        monitoring.MetricsCollector
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

// NewServer builds the echo instance with every route registered.
func NewServer(d Deps) (*echo.Echo, error) {
	if d.Notes == nil || d.Verifier == nil || d.Wiper == nil {
		return nil, fmt.Errorf("%w: notes repository, token verifier and wiper are required", phierr.ErrInvalidConfiguration)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = monitoring.NoOpMetricsCollector{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(Recovery(d.Logger))
	e.Use(RequestLogger(d.Logger))
	e.Use(RequestMetrics(d.Metrics))

	e.GET("/healthz", healthHandler(d.Health))
	if d.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(d.MetricsHandler))
	}

	v1 := e.Group("/v1", BearerAuth(d.Verifier))
	h := &NoteHandler{notes: d.Notes, wiper: d.Wiper, logger: d.Logger}
	h.RegisterRoutes(v1)

	return e, nil
}

func healthHandler(checker *health.Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		if checker == nil {
			return c.JSON(http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
		}
		report := checker.Run(c.Request().Context())
		status := http.StatusOK
		if report.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, report)
	}
}
