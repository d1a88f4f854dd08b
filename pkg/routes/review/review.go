package review

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/validation"
)

// Reviewer acts on review_pending decisions. *matching.Reviewer satisfies it.
type Reviewer interface {
	ListPending(ctx context.Context, kind models.EntityKind, limit, offset int) ([]models.MatchDecision, error)
	Merge(ctx context.Context, decisionID, targetID, resolvedBy string) (*models.MergeResult, error)
	ConfirmNew(ctx context.Context, decisionID, resolvedBy string) (string, error)
	Reject(ctx context.Context, decisionID, resolvedBy string) error
}

// MergeRequest picks the entity the candidate is merged into. Empty means the
// decision's suggested entity.
type MergeRequest struct {
	TargetEntityID string `json:"target_entity_id"`
}

type Handler struct {
	reviewer Reviewer
}

func NewHandler(reviewer Reviewer) *Handler {
	return &Handler{reviewer: reviewer}
}

// Register registers review routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.ListPending)
	g.POST("/:id/merge", h.Merge)
	g.POST("/:id/confirm-new", h.ConfirmNew)
	g.POST("/:id/reject", h.Reject)
}

// ListPending lists unresolved review_pending decisions, oldest first
func (h *Handler) ListPending(c echo.Context) error {
	kind := models.EntityKind(c.QueryParam("kind"))
	if kind != "" && !kind.Valid() {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown kind "+string(kind))
	}
	limit, err := intParam(c, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return err
	}

	decisions, err := h.reviewer.ListPending(c.Request().Context(), kind, limit, offset)
	if err != nil {
		return err
	}
	if decisions == nil {
		decisions = []models.MatchDecision{}
	}
	return c.JSON(http.StatusOK, decisions)
}

// Merge resolves the decision by merging its candidate into an existing entity
func (h *Handler) Merge(c echo.Context) error {
	var req MergeRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	res, err := h.reviewer.Merge(ctx, c.Param("id"), req.TargetEntityID, resolvedBy(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// ConfirmNew resolves the decision by creating the candidate as a new entity
func (h *Handler) ConfirmNew(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := h.reviewer.ConfirmNew(ctx, c.Param("id"), resolvedBy(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"entity_id": id})
}

// Reject closes the decision without linking anything
func (h *Handler) Reject(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.reviewer.Reject(ctx, c.Param("id"), resolvedBy(ctx)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func resolvedBy(ctx context.Context) string {
	if user := fernctx.GetUserID(ctx); user != "" {
		return user
	}
	return "api"
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return v, nil
}
