package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "EntityNotFound", err: fmt.Errorf("load: %w", models.ErrEntityNotFound), code: http.StatusNotFound},
		{name: "DecisionNotFound", err: models.ErrDecisionNotFound, code: http.StatusNotFound},
		{name: "TargetAlreadyMerged", err: &models.MergeError{DuplicateID: "a", CanonicalID: "b", Err: models.ErrMergeTargetAlreadyMerged}, code: http.StatusConflict},
		{name: "AlreadyResolved", err: models.ErrAlreadyResolved, code: http.StatusConflict},
		{name: "KindMismatch", err: models.ErrKindMismatch, code: http.StatusUnprocessableEntity},
		{name: "Validation", err: models.NewValidationError("email", "x", "no @"), code: http.StatusBadRequest},
		{name: "ChainCycle", err: &models.ChainCycleError{StartID: "a"}, code: http.StatusInternalServerError},
		{name: "Echo", err: echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), code: http.StatusMethodNotAllowed},
		{name: "Unknown", err: errors.New("boom"), code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := StatusFor(tt.err)
			assert.Equal(t, tt.code, code)
		})
	}

	t.Run("MergeMeta", func(t *testing.T) {
		_, _, meta := StatusFor(&models.MergeError{DuplicateID: "a", CanonicalID: "b", Err: models.ErrMergeTargetAlreadyMerged})
		assert.Equal(t, "a", meta["duplicate_id"])
		assert.Equal(t, "b", meta["canonical_id"])
	})

	t.Run("InternalDetailsHidden", func(t *testing.T) {
		_, msg, _ := StatusFor(errors.New("pq: password authentication failed"))
		assert.Equal(t, "Internal Server Error", msg)
	})
}

func TestErrorHandler(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = Error(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	e.Use(Context())
	e.GET("/missing", func(c echo.Context) error { return models.ErrEntityNotFound })

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, models.ErrEntityNotFound.Error(), body.Message)
}
