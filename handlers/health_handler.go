package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/bookshelf-api/tokenauth"
	"github.com/upb/bookshelf-api/utils"
)

// Version is reported by GET /; set from main at startup
var Version = "dev"

const readinessTimeout = 5 * time.Second

// Readiness check results
const (
	checkHealthy       = "healthy"
	checkUnhealthy     = "unhealthy"
	checkUnavailable   = "unavailable"
	checkEmpty         = "empty"
	checkNotConfigured = "not_configured"
)

var errNoSigningKeys = errors.New("key set has no keys")

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler serves the unauthenticated probe endpoints. Both db and
// keys are optional; a missing one reports not_configured.
type HealthHandler struct {
	db     *sql.DB
	keys   tokenauth.KeyProvider
	logger *zap.Logger
}

func NewHealthHandler(db *sql.DB, keys tokenauth.KeyProvider, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, keys: keys, logger: logger}
}

func (h *HealthHandler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	_ = utils.WriteOK(w, map[string]string{"service": "bookshelf-api", "version": Version})
}

// HandleHealth is the liveness probe and never touches dependencies
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{Status: checkHealthy, Timestamp: now()})
}

// HandleReadiness answers 503 unless postgres responds and a non-empty
// signing key set can be obtained.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := map[string]string{
		"database":     h.probeDatabase(ctx),
		"signing_keys": h.probeKeys(ctx),
	}

	resp := HealthResponse{Status: checkHealthy, Timestamp: now(), Checks: checks}
	code := http.StatusOK
	for _, result := range checks {
		if result != checkHealthy && result != checkNotConfigured {
			resp.Status = checkUnhealthy
			code = http.StatusServiceUnavailable
			break
		}
	}

	if err := utils.WriteJSON(w, code, utils.SuccessResponse{Data: resp}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) probeDatabase(ctx context.Context) string {
	if h.db == nil {
		return checkNotConfigured
	}
	var one int
	err := h.db.PingContext(ctx)
	if err == nil {
		err = h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	}
	if err != nil {
		h.logger.Warn("readiness: database", zap.Error(err))
		return checkUnhealthy
	}
	return checkHealthy
}

func (h *HealthHandler) probeKeys(ctx context.Context) string {
	if h.keys == nil {
		return checkNotConfigured
	}
	set, _, err := h.keys.Keys(ctx)
	if err != nil {
		h.logger.Warn("readiness: signing keys", zap.Error(err))
		return checkUnavailable
	}
	if len(set.Keys) == 0 {
		h.logger.Warn("readiness: signing keys", zap.Error(errNoSigningKeys))
		return checkEmpty
	}
	return checkHealthy
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
