package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSessionID(t *testing.T) {
	assert.Equal(t, "****", MaskSessionID(""))
	assert.Equal(t, "****", MaskSessionID("abcd"))
	assert.Equal(t, "abcd***", MaskSessionID("abcdef123456"))
	assert.Equal(t, "abcd***", MaskSessionID("  abcdef  "))
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("k"))
	}
	assert.False(t, rl.allow("k"))

	// Another key has its own budget.
	assert.True(t, rl.allow("other"))

	// The window slides: old hits age out.
	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.allow("k"))
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/inbox", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRecoverJSONPassthrough(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
