package handlers

import (
	"net/http"

	"github.com/upb/bookshelf-api/middleware"
	"github.com/upb/bookshelf-api/utils"
)

// HandleMe handles GET /api/v1/me and echoes the verified caller identity
func HandleMe(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	if identity == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}
	_ = utils.WriteOK(w, identity)
}
