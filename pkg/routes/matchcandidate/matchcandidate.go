package matchcandidate

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Repository reads and updates batch-generated candidates.
// *matchcandidate.Repository satisfies it.
type Repository interface {
	ListOpen(ctx context.Context, limit int) ([]models.MatchCandidate, error)
	Get(ctx context.Context, id string) (*models.MatchCandidate, error)
	UpdateStatus(ctx context.Context, id, status, resolvedBy string) error
}

type Handler struct {
	repo   Repository
	logger ectologger.Logger
}

func NewHandler(repo Repository, logger ectologger.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// Register registers match candidate routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.ListMatchCandidates)
	g.GET("/:id", h.GetMatchCandidate)
	g.POST("/:id/approve", h.setStatus(models.MatchCandidateStatusApproved))
	g.POST("/:id/reject", h.setStatus(models.MatchCandidateStatusRejected))
	g.POST("/:id/defer", h.setStatus(models.MatchCandidateStatusDeferred))
}

// ListMatchCandidates lists open candidates, highest confidence first
func (h *Handler) ListMatchCandidates(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = v
	}

	candidates, err := h.repo.ListOpen(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if candidates == nil {
		candidates = []models.MatchCandidate{}
	}
	return c.JSON(http.StatusOK, candidates)
}

// GetMatchCandidate gets a match candidate by id
func (h *Handler) GetMatchCandidate(c echo.Context) error {
	candidate, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, candidate)
}

// setStatus records a reviewer's verdict. Approval only marks the candidate; linking the
// record is a separate merge.
func (h *Handler) setStatus(status string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")

		by := fernctx.GetUserID(ctx)
		if by == "" {
			by = "api"
		}
		if err := h.repo.UpdateStatus(ctx, id, status, by); err != nil {
			return err
		}

		h.logger.WithContext(ctx).WithFields(map[string]any{
			"candidate_id": id,
			"status":       status,
			"resolved_by":  by,
		}).Info("Updated match candidate")

		return c.JSON(http.StatusOK, map[string]string{"status": status})
	}
}
