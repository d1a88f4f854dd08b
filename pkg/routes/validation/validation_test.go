package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Name  string  `json:"name" validate:"required"`
	Score float64 `json:"score" validate:"gte=0,lte=1"`
}

func TestBind(t *testing.T) {
	e := echo.New()
	e.Validator = New()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "Valid", body: `{"name":"a","score":0.5}`},
		{name: "MissingName", body: `{"score":0.5}`, wantErr: true},
		{name: "ScoreOutOfRange", body: `{"name":"a","score":2}`, wantErr: true},
		{name: "Malformed", body: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			c := e.NewContext(req, httptest.NewRecorder())

			var r request
			err := Bind(c, &r)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
		})
	}
}
