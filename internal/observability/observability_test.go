package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/upb/bookshelf-api/tokenauth"
)

var _ tokenauth.Metrics = (*Metrics)(nil)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"text debug", "debug", "text", false},
		{"console warn", "warn", "console", false},
		{"default format", "error", "", false},
		{"unknown level", "loud", "json", true},
		{"unknown format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNewLogger_Level(t *testing.T) {
	logger, err := NewLogger("warn", "json")
	require.NoError(t, err)

	assert.Nil(t, logger.Check(zapcore.DebugLevel, "debug"))
	assert.NotNil(t, logger.Check(zapcore.WarnLevel, "warn"))
}

func TestMetrics_Verification(t *testing.T) {
	m := NewMetrics()

	m.ObserveVerification("success", "full", 5*time.Millisecond)
	m.ObserveVerification("success", "full", 5*time.Millisecond)
	m.ObserveVerification("key_not_found", "", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VerificationsTotal.WithLabelValues("success", "full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationsTotal.WithLabelValues("key_not_found", "none")))
}

func TestMetrics_KeyFetch(t *testing.T) {
	m := NewMetrics()

	m.ObserveKeyFetch("https://login.example.com/keys", false, time.Second)
	m.ObserveKeyFetch("https://login.example.com/keys", true, time.Second)
	m.ObserveKeyRefresh("forced")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeyFetchTotal.WithLabelValues("https://login.example.com/keys", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeyFetchTotal.WithLabelValues("https://login.example.com/keys", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeyRefreshTotal.WithLabelValues("forced")))
}

func TestMetrics_Middleware(t *testing.T) {
	m := NewMetrics()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/books/123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/books/{id}", "404")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveVerification("success", "demo", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), "bookshelf_token_verifications_total")
}
