package resolve

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/validation"
)

// Resolver resolves one candidate. *matching.Matcher satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, cand models.RawCandidate) (*models.ResolveResult, error)
}

// BatchRequest resolves several records in order
type BatchRequest struct {
	Records []models.RawCandidate `json:"records" validate:"required,min=1,max=500,dive"`
}

// BatchItem is the outcome for one record of a batch
type BatchItem struct {
	Ref    string                `json:"ref"`
	Result *models.ResolveResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
	Status int                   `json:"status"`
}

type Handler struct {
	resolver Resolver
}

func NewHandler(resolver Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// Register registers resolve routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.Resolve)
	g.POST("/batch", h.ResolveBatch)
}

// Resolve matches one inbound record to a canonical entity
func (h *Handler) Resolve(c echo.Context) error {
	var req models.RawCandidate
	if err := validation.Bind(c, &req); err != nil {
		return err
	}

	res, err := h.resolver.Resolve(c.Request().Context(), req)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	return c.JSON(status, res)
}

// ResolveBatch resolves records one after another. A failed record does not stop the
// batch; its error is reported in place.
func (h *Handler) ResolveBatch(c echo.Context) error {
	var req BatchRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	out := make([]BatchItem, len(req.Records))
	for i, cand := range req.Records {
		out[i] = BatchItem{Ref: cand.Ref(), Status: http.StatusOK}
		res, err := h.resolver.Resolve(ctx, cand)
		if err != nil {
			code, msg, _ := middleware.StatusFor(err)
			out[i].Status = code
			out[i].Error = msg
			continue
		}
		out[i].Result = res
	}
	return c.JSON(http.StatusOK, out)
}
