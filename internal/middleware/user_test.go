package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/triplog/internal/middleware"
)

// echoUser writes the user id found in the request context as the body.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(middleware.UserID(r.Context())))
})

func TestUserScope_HeaderSelectsUser(t *testing.T) {
	h := middleware.NewUserScope("default")(echoUser)

	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set(middleware.UserHeader, "driver-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "driver-42", rec.Body.String())
}

func TestUserScope_MissingHeaderUsesDefault(t *testing.T) {
	h := middleware.NewUserScope("default")(echoUser)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trips", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "default", rec.Body.String())
}

func TestUserScope_MalformedHeader_Returns400(t *testing.T) {
	h := middleware.NewUserScope("default")(echoUser)

	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set(middleware.UserHeader, "../../etc/passwd")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserID_EmptyWithoutScope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, middleware.UserID(req.Context()))
}
