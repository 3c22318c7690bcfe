package httputil

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", rbac.NotFound("role", "admin"), http.StatusNotFound},
		{"invalid", rbac.Invalid("role", "name is required"), http.StatusBadRequest},
		{"directory", rbac.NewManagerError("search failed", errors.New("timeout")), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))

			w := httptest.NewRecorder()
			WriteError(w, tt.err)
			assert.Equal(t, tt.want, w.Code)
			assert.JSONEq(t, `{"error":"`+tt.err.Error()+`"}`, w.Body.String())
		})
	}
}

func TestWriteHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]int{"id": 123}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "123")

	w = httptest.NewRecorder()
	require.NoError(t, WriteSuccess(w, map[string]string{"status": "ok"}))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = httptest.NewRecorder()
	WriteBadRequest(w, "invalid input")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid input")
}

func TestParseJSONOrError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expectOK bool
	}{
		{name: "valid JSON", body: `{"name": "test"}`, expectOK: true},
		{name: "invalid JSON", body: `{invalid}`},
		{name: "unknown field", body: `{"name": "test", "extra": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))
			var dest struct {
				Name string `json:"name"`
			}

			ok := ParseJSONOrError(w, req, &dest)

			assert.Equal(t, tt.expectOK, ok)
			if tt.expectOK {
				assert.Equal(t, "test", dest.Name)
			} else {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestPathStringOrError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/roles/admin", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "admin", "blank": "  "})

	w := httptest.NewRecorder()
	name, ok := PathStringOrError(w, req, "name")
	assert.True(t, ok)
	assert.Equal(t, "admin", name)

	_, ok = PathStringOrError(w, req, "blank")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryList(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?role=a,b&role=c&role=,", nil)
	assert.Equal(t, []string{"a", "b", "c"}, QueryList(req, "role"))
	assert.Nil(t, QueryList(req, "missing"))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := Chain(RequestIDMiddleware(observability.NopLogger()), LoggingMiddleware)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = observability.GetRequestID(r.Context())
			w.WriteHeader(http.StatusTeapot)
		}),
	)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(w, req)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusTeapot, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
}

func TestMaxBytesMiddleware(t *testing.T) {
	handler := MaxBytesMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var dest map[string]string
		if !ParseJSONOrError(w, r, &dest) {
			return
		}
		WriteNoContent(w)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name": "much too long"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
