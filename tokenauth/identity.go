package tokenauth

import (
	"time"
)

const (
	// DefaultRole is granted to every caller; role claims are not parsed
	DefaultRole = "user"

	syntheticNamePrefix = "user_"
	syntheticNameLength = 8
)

var (
	displayNameClaims = []string{"name", "preferred_username", "unique_name", "email", "upn"}
	emailClaims       = []string{"email", "preferred_username", "upn"}
)

// Evaluator checks expiry and maps claims to a CallerIdentity
type Evaluator struct {
	Now    func() time.Time
	Leeway time.Duration
}

// Finalize re-checks exp against the current time and extracts the identity.
// A token without exp is rejected whatever the validation level.
func (e Evaluator) Finalize(claims Claims, level ValidationLevel) (*CallerIdentity, error) {
	if claims == nil {
		return nil, newAuthError(KindClaimsExtractionFailed, "token has no claims", nil)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, newAuthError(KindClaimsExtractionFailed, "malformed exp claim", err)
	}
	if exp == nil {
		return nil, newAuthError(KindClaimsExtractionFailed, "token has no exp claim", nil)
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	if now().After(exp.Time.Add(e.Leeway)) {
		return nil, newAuthError(KindTokenExpired, "token expired at "+exp.Time.UTC().Format(time.RFC3339), nil)
	}

	subject := stringClaim(claims, "sub")
	return &CallerIdentity{
		DisplayName:     displayName(claims, subject),
		Email:           firstStringClaim(claims, emailClaims),
		Subject:         subject,
		Tenant:          stringClaim(claims, "tid"),
		Roles:           []string{DefaultRole},
		ValidationLevel: level,
		ExpiresAt:       exp.Time,
	}, nil
}

// DemoIdentity is the fixed identity returned for the development bypass token
func DemoIdentity() *CallerIdentity {
	return &CallerIdentity{
		DisplayName:     "demo-user",
		Email:           "demo@example.com",
		Roles:           []string{DefaultRole},
		ValidationLevel: ValidationDemo,
	}
}

func displayName(claims Claims, subject string) string {
	if name := firstStringClaim(claims, displayNameClaims); name != "" {
		return name
	}
	if subject == "" {
		return syntheticNamePrefix + "unknown"
	}
	if len(subject) > syntheticNameLength {
		subject = subject[:syntheticNameLength]
	}
	return syntheticNamePrefix + subject
}

func firstStringClaim(claims Claims, names []string) string {
	for _, name := range names {
		if v := stringClaim(claims, name); v != "" {
			return v
		}
	}
	return ""
}

// stringClaim returns the claim when it is a non-empty string
func stringClaim(claims Claims, name string) string {
	v, ok := claims[name].(string)
	if !ok {
		return ""
	}
	return v
}
