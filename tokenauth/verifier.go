package tokenauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultDemoToken is the development bypass token
const DefaultDemoToken = "demo-token"

// VerifierConfig holds the policy knobs of a Verifier
type VerifierConfig struct {
	// Strategies are tried in order, strictest first
	Strategies []ValidationStrategy

	DemoToken        string
	DemoTokenEnabled bool

	// DegradedMode accepts tokens whose signature could not be verified,
	// marked ValidationUnverified. Never enable outside an outage.
	DegradedMode bool

	// Leeway tolerates clock skew when checking exp
	Leeway time.Duration
}

// Option configures a Verifier
type Option func(*Verifier)

// WithClock overrides the time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// WithMetrics records verification outcomes
func WithMetrics(m Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// Verifier turns a bearer token into a CallerIdentity
type Verifier struct {
	cfg       VerifierConfig
	keys      KeyProvider
	sequencer *Sequencer
	logger    *zap.Logger
	metrics   Metrics
	now       func() time.Time
}

// NewVerifier creates a new Verifier
func NewVerifier(cfg VerifierConfig, keys KeyProvider, logger *zap.Logger, opts ...Option) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DemoToken == "" {
		cfg.DemoToken = DefaultDemoToken
	}

	v := &Verifier{
		cfg:       cfg,
		keys:      keys,
		sequencer: NewSequencer(logger),
		logger:    logger,
		metrics:   NopMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	if cfg.DemoTokenEnabled {
		logger.Warn("demo bypass token is enabled; do not use in production")
	}
	if cfg.DegradedMode {
		logger.Warn("degraded mode is enabled; unverified tokens may be accepted")
	}
	return v
}

// Verify validates token and returns the caller identity. Every failure is an *AuthError.
func (v *Verifier) Verify(ctx context.Context, token string) (*CallerIdentity, error) {
	start := v.now()
	identity, err := v.verify(ctx, token)

	outcome := "success"
	level := ""
	if err != nil {
		outcome = string(KindOf(err))
	} else {
		level = string(identity.ValidationLevel)
	}
	v.metrics.ObserveVerification(outcome, level, v.now().Sub(start))
	return identity, err
}

func (v *Verifier) verify(ctx context.Context, token string) (*CallerIdentity, error) {
	if token == "" {
		return nil, newAuthError(KindTokenFormat, "empty token", nil)
	}

	if v.cfg.DemoTokenEnabled && subtle.ConstantTimeCompare([]byte(token), []byte(v.cfg.DemoToken)) == 1 {
		v.logger.Debug("demo token accepted")
		return DemoIdentity(), nil
	}

	header, err := ParseHeader(token)
	if err != nil {
		return nil, newAuthError(KindTokenFormat, "invalid token header", err)
	}

	set, cached, err := v.keys.Keys(ctx)
	if err != nil {
		authErr := newAuthError(KindKeyServiceUnavailable, "unable to retrieve signing keys", err)
		authErr.KeyID = header.KeyID
		return v.degrade(token, authErr)
	}

	key, keyErr := v.selectKey(ctx, header, set, cached)
	if keyErr != nil {
		return v.degrade(token, keyErr)
	}

	claims, strategy, err := v.sequencer.Validate(token, key, v.cfg.Strategies)
	if err != nil {
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			authErr = newAuthError(KindSignatureValidationFailed, "token validation failed", err)
		}
		return v.degrade(token, authErr)
	}

	identity, err := v.evaluator().Finalize(claims, ValidationFull)
	if err != nil {
		v.logFailure(err, header.KeyID)
		return nil, err
	}

	v.logger.Debug("token verified",
		zap.String("kid", header.KeyID),
		zap.String("strategy", strategy))
	return identity, nil
}

// selectKey matches the token kid, refreshing the key set once when a
// cached snapshot does not know the kid (key rotation).
func (v *Verifier) selectKey(ctx context.Context, header TokenHeader, set *KeySet, cached bool) (VerificationKey, *AuthError) {
	key, rejections, err := SelectKey(header, set)
	if err != nil && cached && header.KeyID != "" {
		fresh, refreshed, refreshErr := v.keys.Refresh(ctx)
		switch {
		case refreshErr != nil:
			v.logger.Warn("key set refresh for unknown kid failed",
				zap.String("kid", header.KeyID),
				zap.Error(refreshErr))
		case refreshed:
			key, rejections, err = SelectKey(header, fresh)
		}
	}
	if err == nil {
		return key, nil
	}

	for _, r := range rejections {
		v.logger.Debug("candidate key rejected",
			zap.String("kid", header.KeyID),
			zap.Int("index", r.Index),
			zap.String("reason", r.Reason))
	}
	authErr := newAuthError(KindKeyNotFound, "no usable signing key for token", err)
	authErr.KeyID = header.KeyID
	return VerificationKey{}, authErr
}

// degrade falls back to an unverified decode when DegradedMode is set;
// otherwise it returns cause unchanged.
func (v *Verifier) degrade(token string, cause *AuthError) (*CallerIdentity, error) {
	if !v.cfg.DegradedMode {
		v.logFailure(cause, cause.KeyID)
		return nil, cause
	}

	v.logger.Error("accepting token without signature verification",
		zap.String("cause", string(cause.Kind)),
		zap.String("kid", cause.KeyID),
		zap.Error(cause.Err))

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, newAuthError(KindClaimsExtractionFailed, "unverified decode failed", err)
	}
	identity, err := v.evaluator().Finalize(claims, ValidationUnverified)
	if err != nil {
		v.logFailure(err, cause.KeyID)
		return nil, err
	}
	return identity, nil
}

func (v *Verifier) evaluator() Evaluator {
	return Evaluator{Now: v.now, Leeway: v.cfg.Leeway}
}

func (v *Verifier) logFailure(err error, kid string) {
	fields := []zap.Field{
		zap.String("kind", string(KindOf(err))),
		zap.String("kid", kid),
	}
	var authErr *AuthError
	if errors.As(err, &authErr) && len(authErr.Strategies) > 0 {
		names := make([]string, 0, len(authErr.Strategies))
		for _, s := range authErr.Strategies {
			names = append(names, s.Strategy)
		}
		fields = append(fields, zap.Strings("strategies", names))
	}
	if errors.As(err, &authErr) && authErr.Err != nil {
		fields = append(fields, zap.NamedError("cause", authErr.Err))
	}
	v.logger.Warn("token verification failed", fields...)
}
