package graph

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	graphpkg "github.com/Ramsey-B/fern/pkg/graph"
)

// Querier reads the graph projection. *graph.QueryService satisfies it.
type Querier interface {
	Neighbors(ctx context.Context, entityID string, hops int) (*graphpkg.Subgraph, error)
	Lineage(ctx context.Context, entityID string) (*graphpkg.Subgraph, error)
}

// Handler handles graph query API endpoints
type Handler struct {
	querier Querier
}

// NewHandler creates a new graph handler. querier may be nil when no graph is
// configured; every route then answers 503.
func NewHandler(querier Querier) *Handler {
	return &Handler{querier: querier}
}

// Register registers the graph routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/entities/:id/neighbors", h.Neighbors)
	g.GET("/entities/:id/lineage", h.Lineage)
}

func (h *Handler) available() error {
	if h.querier == nil {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "graph projection unavailable")
	}
	return nil
}

// Neighbors returns the entities related to id within ?hops= (default 1)
func (h *Handler) Neighbors(c echo.Context) error {
	if err := h.available(); err != nil {
		return err
	}
	hops := 1
	if raw := c.QueryParam("hops"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "hops must be a positive integer")
		}
		hops = v
	}

	res, err := h.querier.Neighbors(c.Request().Context(), c.Param("id"), hops)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Lineage returns the entities merged into id
func (h *Handler) Lineage(c echo.Context) error {
	if err := h.available(); err != nil {
		return err
	}
	res, err := h.querier.Lineage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
