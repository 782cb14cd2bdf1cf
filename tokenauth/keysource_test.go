package tokenauth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordSleeps replaces the backoff wait and records requested delays
func recordSleeps(s *HTTPKeySource) *[]time.Duration {
	var delays []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return &delays
}

func TestHTTPKeySource_FetchKeys(t *testing.T) {
	key := generateRSAKey(t)
	doc := jwksDocumentBytes(t, publicJWK(t, &key.PublicKey, "kid-1", "RS256"))

	t.Run("first endpoint succeeds", func(t *testing.T) {
		primary := newJWKSServer(t, doc)
		secondary := newJWKSServer(t, doc)

		source := NewHTTPKeySource(KeySourceConfig{
			Endpoints:  []string{primary.URL, secondary.URL},
			MaxRetries: 2,
		}, zap.NewNop(), nil)

		set, err := source.FetchKeys(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"kid-1"}, set.KeyIDs())
		assert.Equal(t, primary.URL, set.Source)
		assert.False(t, set.FetchedAt.IsZero())
		assert.Equal(t, 1, primary.count())
		assert.Equal(t, 0, secondary.count())
	})

	t.Run("falls back to next endpoint after retries", func(t *testing.T) {
		primary := newJWKSServer(t, doc)
		primary.setStatus(http.StatusServiceUnavailable)
		secondary := newJWKSServer(t, doc)

		source := NewHTTPKeySource(KeySourceConfig{
			Endpoints:  []string{primary.URL, secondary.URL},
			MaxRetries: 2,
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   time.Second,
		}, zap.NewNop(), nil)
		delays := recordSleeps(source)

		set, err := source.FetchKeys(context.Background())
		require.NoError(t, err)
		assert.Equal(t, secondary.URL, set.Source)
		assert.Equal(t, 3, primary.count())
		assert.Equal(t, 1, secondary.count())
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
	})

	t.Run("unparseable body counts as failure", func(t *testing.T) {
		broken := newJWKSServer(t, []byte(`{"not_keys": []}`))
		good := newJWKSServer(t, doc)

		source := NewHTTPKeySource(KeySourceConfig{
			Endpoints: []string{broken.URL, good.URL},
		}, zap.NewNop(), nil)
		recordSleeps(source)

		set, err := source.FetchKeys(context.Background())
		require.NoError(t, err)
		assert.Equal(t, good.URL, set.Source)
		assert.Equal(t, 1, broken.count())
	})

	t.Run("exhaustion returns fetch error with every attempt", func(t *testing.T) {
		down := newJWKSServer(t, doc)
		down.setStatus(http.StatusInternalServerError)
		gone := unreachableURL(t)

		metrics := &recordingMetrics{}
		source := NewHTTPKeySource(KeySourceConfig{
			Endpoints:  []string{down.URL, gone},
			MaxRetries: 1,
			Timeout:    time.Second,
		}, zap.NewNop(), metrics)
		delays := recordSleeps(source)

		set, err := source.FetchKeys(context.Background())
		require.Error(t, err)
		assert.Nil(t, set)

		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		require.Len(t, fetchErr.Attempts, 4)
		assert.Equal(t, down.URL, fetchErr.Attempts[0].Endpoint)
		assert.Equal(t, 2, fetchErr.Attempts[1].Attempt)
		assert.ErrorIs(t, fetchErr.Attempts[0].Err, ErrUnexpectedStatus)
		assert.Equal(t, gone, fetchErr.Attempts[3].Endpoint)
		assert.Len(t, *delays, 2)
		assert.Equal(t, []bool{false, false, false, false}, metrics.fetches)
	})

	t.Run("cancelled context aborts backoff", func(t *testing.T) {
		down := newJWKSServer(t, doc)
		down.setStatus(http.StatusBadGateway)

		source := NewHTTPKeySource(KeySourceConfig{
			Endpoints:  []string{down.URL},
			MaxRetries: 5,
		}, zap.NewNop(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		source.sleep = func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}

		_, err := source.FetchKeys(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, down.count())
	})

	t.Run("no endpoints", func(t *testing.T) {
		source := NewHTTPKeySource(KeySourceConfig{}, zap.NewNop(), nil)

		_, err := source.FetchKeys(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no key endpoints configured")
	})
}

func TestHTTPKeySource_BackoffDelay(t *testing.T) {
	source := NewHTTPKeySource(KeySourceConfig{
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  time.Second,
	}, nil, nil)

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, source.backoffDelay(tt.retry), "retry %d", tt.retry)
	}
}

func TestParseKeySet(t *testing.T) {
	t.Run("keeps common fields", func(t *testing.T) {
		set, err := ParseKeySet([]byte(`{"keys":[{"kid":"a","kty":"RSA","alg":"RS256","use":"sig","n":"x","e":"AQAB"}, 42]}`))
		require.NoError(t, err)
		require.Len(t, set.Keys, 1)
		assert.Equal(t, "a", set.Keys[0].KeyID)
		assert.Equal(t, "RSA", set.Keys[0].KeyType)
		assert.Equal(t, "RS256", set.Keys[0].Algorithm)
		assert.Equal(t, "sig", set.Keys[0].Use)
	})

	t.Run("missing keys member", func(t *testing.T) {
		_, err := ParseKeySet([]byte(`{}`))
		assert.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParseKeySet([]byte(`<html>`))
		assert.Error(t, err)
	})

	t.Run("marshal round trip keeps raw keys", func(t *testing.T) {
		key := generateRSAKey(t)
		set := keySetOf(t, publicJWK(t, &key.PublicKey, "kid-1", "RS256"))

		data, err := set.Marshal()
		require.NoError(t, err)
		again, err := ParseKeySet(data)
		require.NoError(t, err)
		assert.Equal(t, set.KeyIDs(), again.KeyIDs())
	})
}

func TestParseHeader(t *testing.T) {
	rsaKey := generateRSAKey(t)
	now := time.Now()

	t.Run("reads kid and alg", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodRS256, rsaKey, "kid-1", validClaims(now))

		header, err := ParseHeader(token)
		require.NoError(t, err)
		assert.Equal(t, "kid-1", header.KeyID)
		assert.Equal(t, "RS256", header.Algorithm)
	})

	t.Run("missing kid is allowed", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodRS256, rsaKey, "", validClaims(now))

		header, err := ParseHeader(token)
		require.NoError(t, err)
		assert.Empty(t, header.KeyID)
	})

	t.Run("symmetric algorithm rejected", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, []byte("secret"), "kid-1", validClaims(now))

		_, err := ParseHeader(token)
		assert.Error(t, err)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := ParseHeader("not-a-jwt")
		assert.Error(t, err)
	})
}
