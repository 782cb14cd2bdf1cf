package tokenauth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultAuthority is the Microsoft identity platform login host
const DefaultAuthority = "https://login.microsoftonline.com"

// DefaultStrategies returns the tolerated identity-provider variants, strictest
// first. The relaxed tail (audience or issuer not enforced) is included only
// when relaxed is true.
func DefaultStrategies(authority, tenantID, clientID string, relaxed bool) []ValidationStrategy {
	if authority == "" {
		authority = DefaultAuthority
	}
	authority = strings.TrimRight(authority, "/")
	v2Issuer := fmt.Sprintf("%s/%s/v2.0", authority, tenantID)
	v1Issuer := fmt.Sprintf("https://sts.windows.net/%s/", tenantID)

	strategies := []ValidationStrategy{
		{Name: "v2-issuer", Audience: clientID, Issuer: v2Issuer, EnforceAudience: true, EnforceIssuer: true},
		{Name: "sts-v1-issuer", Audience: clientID, Issuer: v1Issuer, EnforceAudience: true, EnforceIssuer: true},
		{Name: "api-uri-audience", Audience: "api://" + clientID, Issuer: v2Issuer, EnforceAudience: true, EnforceIssuer: true},
	}
	if !relaxed {
		return strategies
	}

	// Graph-API tokens carry the Graph audience; version-qualified issuers vary
	return append(strategies,
		ValidationStrategy{Name: "issuer-only", Issuer: v2Issuer, EnforceIssuer: true},
		ValidationStrategy{Name: "audience-only", Audience: clientID, EnforceAudience: true},
		ValidationStrategy{Name: "signature-only"},
	)
}

// Sequencer tries validation strategies in order and stops at the first success
type Sequencer struct {
	logger *zap.Logger
	verify func(tokenString string, key VerificationKey) (Claims, error)
}

// NewSequencer creates a new Sequencer
func NewSequencer(logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{logger: logger, verify: verifySignature}
}

// Validate returns the claims and strategy name of the first strategy that
// accepts the token. Time-based claims are not checked here; see Evaluator.
func (s *Sequencer) Validate(tokenString string, key VerificationKey, strategies []ValidationStrategy) (Claims, string, error) {
	failures := make([]StrategyFailure, 0, len(strategies))
	var (
		claims       Claims
		signatureErr error
		claimErrs    []error
	)
	// One signature check serves every strategy
	if len(strategies) > 0 {
		claims, signatureErr = s.verify(tokenString, key)
	}

	for _, strategy := range strategies {
		if signatureErr != nil {
			failures = append(failures, StrategyFailure{Strategy: strategy.Name, Reason: signatureErr.Error()})
			continue
		}

		if err := checkClaims(claims, strategy); err != nil {
			claimErrs = append(claimErrs, err)
			failures = append(failures, StrategyFailure{Strategy: strategy.Name, Reason: err.Error()})
			continue
		}

		if len(failures) > 0 {
			s.logger.Warn("token accepted by fallback strategy",
				zap.String("strategy", strategy.Name),
				zap.String("kid", key.KeyID),
				zap.Int("rejected_strategies", len(failures)))
		}
		return claims, strategy.Name, nil
	}

	authErr := newAuthError(KindSignatureValidationFailed, "all validation strategies rejected the token", nil)
	authErr.KeyID = key.KeyID
	authErr.Strategies = failures
	switch {
	case len(strategies) == 0:
		authErr.Message = "no validation strategies configured"
	case signatureErr != nil:
		authErr.Err = signatureErr
	default:
		// Signature was fine everywhere; surface the claim mismatches
		authErr.Err = errors.Join(claimErrs...)
	}

	s.logger.Warn("all validation strategies failed",
		zap.String("kid", key.KeyID),
		zap.String("alg", key.Algorithm),
		zap.Any("strategies", failures))
	return nil, "", authErr
}

func verifySignature(tokenString string, key VerificationKey) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{key.Algorithm}),
		jwt.WithoutClaimsValidation(),
	)
	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return key.Key, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func checkClaims(claims Claims, strategy ValidationStrategy) error {
	if strategy.EnforceAudience {
		aud, err := claims.GetAudience()
		if err != nil {
			return fmt.Errorf("%w: %v", jwt.ErrTokenInvalidAudience, err)
		}
		if !containsString(aud, strategy.Audience) {
			return fmt.Errorf("%w: expected %s", jwt.ErrTokenInvalidAudience, strategy.Audience)
		}
	}
	if strategy.EnforceIssuer {
		iss, err := claims.GetIssuer()
		if err != nil {
			return fmt.Errorf("%w: %v", jwt.ErrTokenInvalidIssuer, err)
		}
		if iss != strategy.Issuer {
			return fmt.Errorf("%w: expected %s, got %s", jwt.ErrTokenInvalidIssuer, strategy.Issuer, iss)
		}
	}
	return nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
