package serverutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pcerrs "github.com/jdholdren/podcatch/internal/errors"
)

func TestHandlerFuncE(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "structured", err: pcerrs.E(pcerrs.NotFound, "no podcast"), status: http.StatusNotFound, kind: "not_found"},
		{name: "wrapped", err: errors.Join(errors.New("context"), pcerrs.E(pcerrs.Network, "down")), status: http.StatusBadGateway, kind: "network"},
		{name: "unstructured", err: errors.New("boom"), status: http.StatusInternalServerError, kind: "store"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := HandlerFuncE(func(http.ResponseWriter, *http.Request) error { return test.err })
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, test.status, rec.Code)
			var body struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, test.kind, body.Kind)
		})
	}
}

func TestUnstructuredErrorsAreNotLeaked(t *testing.T) {
	h := HandlerFuncE(func(http.ResponseWriter, *http.Request) error { return errors.New("secret path /var/db") })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestWriteEventThroughAccessLog(t *testing.T) {
	h := AccessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, WriteEvent(w, "state", map[string]int{"n": 1}))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "event: state\ndata: {\"n\":1}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestQueryParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=900&followed=true&bad=x", nil)

	limit, err := QueryLimit(r, 50, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, limit)

	limit, err = QueryLimit(httptest.NewRequest(http.MethodGet, "/?limit=0", nil), 50, 500)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)

	followed, err := QueryBool(r, "followed")
	require.NoError(t, err)
	assert.True(t, followed)

	_, err = QueryInt(r, "bad", 0)
	assert.ErrorIs(t, err, &pcerrs.Error{Kind: pcerrs.Invalid})

	_, err = QueryRequired(r, "uri")
	assert.ErrorIs(t, err, &pcerrs.Error{Kind: pcerrs.Invalid})
}
