// Package routes assembles the HTTP API
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/pkg/entitystore"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/routes/entity"
	"github.com/Ramsey-B/fern/pkg/routes/graph"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/matchcandidate"
	"github.com/Ramsey-B/fern/pkg/routes/resolve"
	"github.com/Ramsey-B/fern/pkg/routes/review"
	"github.com/Ramsey-B/fern/pkg/routes/validation"
)

// Deps are the services behind the API. Candidates and Graph are optional.
type Deps struct {
	Resolver   resolve.Resolver
	Reviewer   review.Reviewer
	Entities   *entitystore.Service
	Merger     entity.Merger
	Candidates matchcandidate.Repository
	Graph      graph.Querier
	Health     *health.Checker
}

// NewRouter builds the echo server with middleware and every route group
func NewRouter(serviceName string, logger ectologger.Logger, deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	if deps.Health != nil {
		deps.Health.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api/v1")
	resolve.NewHandler(deps.Resolver).Register(api.Group("/resolve"))
	review.NewHandler(deps.Reviewer).Register(api.Group("/review/decisions"))

	entities := entity.NewHandler(deps.Entities, deps.Merger)
	entities.Register(api.Group("/entities"))
	entities.RegisterRelationships(api.Group("/relationships"))
	entities.RegisterMerges(api.Group("/merges"))

	if deps.Candidates != nil {
		matchcandidate.NewHandler(deps.Candidates, logger).Register(api.Group("/candidates"))
	}
	graph.NewHandler(deps.Graph).Register(api.Group("/graph"))

	return e
}
