// Package validation binds and validates request bodies for every route
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Validator adapts go-playground/validator to echo.Validator
type Validator struct {
	validate *validator.Validate
}

// New creates a validator
func New() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate reports every failed field in one 400 error
func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
	return httperror.NewHTTPError(http.StatusBadRequest, "invalid request: "+strings.Join(msgs, ", "))
}

// Bind decodes the request into req and validates it
func Bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(req)
}
