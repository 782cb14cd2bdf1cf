package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/bookshelf-api/middleware"
	"github.com/upb/bookshelf-api/tokenauth"
)

func TestHandleMe(t *testing.T) {
	t.Run("returns identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req = req.WithContext(middleware.WithIdentity(req.Context(), tokenauth.DemoIdentity()))
		w := httptest.NewRecorder()

		HandleMe(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Data tokenauth.CallerIdentity `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "demo@example.com", response.Data.Email)
		assert.Equal(t, tokenauth.ValidationDemo, response.Data.ValidationLevel)
	})

	t.Run("no identity", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleMe(w, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
