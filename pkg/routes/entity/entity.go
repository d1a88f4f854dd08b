package entity

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/entitystore"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/validation"
)

// Merger merges two entities. *merging.Engine satisfies it.
type Merger interface {
	Merge(ctx context.Context, duplicateID, canonicalID string) (*models.MergeResult, error)
}

type Handler struct {
	entities *entitystore.Service
	merger   Merger
}

func NewHandler(entities *entitystore.Service, merger Merger) *Handler {
	return &Handler{entities: entities, merger: merger}
}

// Register registers entity routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.CreateEntity)
	g.GET("/:id", h.GetEntity)
	g.DELETE("/:id", h.PurgeEntity)
	g.POST("/:id/identifiers", h.AttachIdentifier)
}

// RegisterRelationships registers relationship routes
func (h *Handler) RegisterRelationships(g *echo.Group) {
	g.POST("", h.Link)
}

// RegisterMerges registers manual merge routes
func (h *Handler) RegisterMerges(g *echo.Group) {
	g.POST("", h.Merge)
}

// CreateEntity creates a canonical entity with no identifiers
func (h *Handler) CreateEntity(c echo.Context) error {
	var req models.CreateEntityRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}

	id, err := h.entities.CreateEntity(c.Request().Context(), req.Kind, req.DisplayName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

// GetEntity returns the canonical view of an entity. Merged ids resolve to the entity
// they were merged into.
func (h *Handler) GetEntity(c echo.Context) error {
	view, err := h.entities.GetEntity(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// PurgeEntity deletes an unreferenced placeholder
func (h *Handler) PurgeEntity(c echo.Context) error {
	if err := h.entities.Purge(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// AttachIdentifier normalizes and attaches an identifier
func (h *Handler) AttachIdentifier(c echo.Context) error {
	var req models.AttachIdentifierRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}

	source := req.SourceSystem
	if source == "" {
		source = "api"
	}
	ident, err := h.entities.AttachIdentifier(c.Request().Context(), c.Param("id"), req.Type, req.Value, source)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ident)
}

// Link creates a relationship between the canonical entities of both ids
func (h *Handler) Link(c echo.Context) error {
	var req models.CreateRelationshipRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}

	rel, err := h.entities.Link(c.Request().Context(), req.SubjectID, req.ObjectID, req.Role, req.Confidence, req.SourceSystem)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rel)
}

// Merge folds duplicate_id into canonical_id
func (h *Handler) Merge(c echo.Context) error {
	var req models.MergeRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}

	res, err := h.merger.Merge(c.Request().Context(), req.DuplicateID, req.CanonicalID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
