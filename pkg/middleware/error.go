package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// domainStatus maps domain sentinels onto HTTP status codes
var domainStatus = []struct {
	err  error
	code int
}{
	{models.ErrEntityNotFound, http.StatusNotFound},
	{models.ErrDecisionNotFound, http.StatusNotFound},
	{models.ErrMergeTargetAlreadyMerged, http.StatusConflict},
	{models.ErrMergeSourceAlreadyMerged, http.StatusConflict},
	{models.ErrAlreadyResolved, http.StatusConflict},
	{models.ErrIdentifierHeld, http.StatusConflict},
	{models.ErrEntityInUse, http.StatusConflict},
	{models.ErrUniquenessConflict, http.StatusConflict},
	{models.ErrKindMismatch, http.StatusUnprocessableEntity},
	{models.ErrSelfRelationship, http.StatusUnprocessableEntity},
	{models.ErrMergeChainCycle, http.StatusInternalServerError},
	{models.ErrConfiguration, http.StatusInternalServerError},
}

// StatusFor returns the response code, message and meta for err
func StatusFor(err error) (int, string, map[string]any) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
		return he.Code, message, map[string]any{}
	}

	if httperror.IsHTTPError(err) {
		httperr := httperror.ToHTTPError(err)
		return httperror.GetStatusCode(err), httperr.Error(), httperr.Meta
	}

	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ve.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason}
	}

	meta := map[string]any{}
	var me *models.MergeError
	if errors.As(err, &me) {
		meta["duplicate_id"] = me.DuplicateID
		meta["canonical_id"] = me.CanonicalID
	}
	for _, d := range domainStatus {
		if errors.Is(err, d.err) {
			if d.code == http.StatusInternalServerError {
				return d.code, "Internal Server Error", meta
			}
			return d.code, err.Error(), meta
		}
	}
	return http.StatusInternalServerError, "Internal Server Error", meta
}

func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		// Check if the response is already committed
		if c.Response().Committed {
			return
		}

		code, message, meta := StatusFor(err)
		log := logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status": code,
			"method": context.GetMethod(ctx),
			"route":  context.GetRoute(ctx),
		})
		if code >= http.StatusInternalServerError {
			log.Error("api is returning an error")
		} else {
			log.Warn("api is returning an error")
		}

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}
