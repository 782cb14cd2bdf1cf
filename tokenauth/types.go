package tokenauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// supportedAlgorithms are the asymmetric algorithms accepted in token headers.
// Symmetric and "none" algorithms are rejected before any key lookup.
var supportedAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
	"ES256": true, "ES384": true, "ES512": true,
}

// TokenHeader is the unverified JOSE header of a token
type TokenHeader struct {
	KeyID     string
	Algorithm string
}

// ParseHeader decodes the token header without verifying anything
func ParseHeader(tokenString string) (TokenHeader, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return TokenHeader{}, fmt.Errorf("decode token: %w", err)
	}

	// ParseUnverified already rejects a missing or unknown alg
	header := TokenHeader{Algorithm: token.Method.Alg()}
	if kid, ok := token.Header["kid"].(string); ok {
		header.KeyID = kid
	}
	if !supportedAlgorithms[header.Algorithm] {
		return TokenHeader{}, fmt.Errorf("unsupported signing algorithm %q", header.Algorithm)
	}
	return header, nil
}

// SigningKey is one entry of a published key set. Raw keeps the original JWK
// so that conversion into a verification key happens only on selection.
type SigningKey struct {
	KeyID     string
	KeyType   string
	Algorithm string
	Use       string
	Raw       json.RawMessage
}

// KeySet is a snapshot of a provider's published signing keys
type KeySet struct {
	Keys      []SigningKey
	Source    string
	FetchedAt time.Time
}

// KeyIDs returns the kid of every key, in document order
func (s *KeySet) KeyIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Keys))
	for _, k := range s.Keys {
		ids = append(ids, k.KeyID)
	}
	return ids
}

type jwksDocument struct {
	Keys []json.RawMessage `json:"keys"`
}

type jwkHeader struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
}

// ParseKeySet decodes a JWKS document. Entries whose common fields cannot be
// read are dropped; an absent "keys" member is an error.
func ParseKeySet(data []byte) (*KeySet, error) {
	var doc struct {
		Keys *[]json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode JWKS: %w", err)
	}
	if doc.Keys == nil {
		return nil, errors.New("JWKS document has no keys member")
	}

	set := &KeySet{Keys: make([]SigningKey, 0, len(*doc.Keys))}
	for _, raw := range *doc.Keys {
		var h jwkHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			continue
		}
		set.Keys = append(set.Keys, SigningKey{
			KeyID:     h.Kid,
			KeyType:   h.Kty,
			Algorithm: h.Alg,
			Use:       h.Use,
			Raw:       raw,
		})
	}
	return set, nil
}

// Marshal re-encodes the key set as a JWKS document
func (s *KeySet) Marshal() ([]byte, error) {
	doc := jwksDocument{Keys: make([]json.RawMessage, 0, len(s.Keys))}
	for _, k := range s.Keys {
		doc.Keys = append(doc.Keys, k.Raw)
	}
	return json.Marshal(doc)
}

// ValidationStrategy is one named combination of audience/issuer enforcement
type ValidationStrategy struct {
	Name            string
	Audience        string
	Issuer          string
	EnforceAudience bool
	EnforceIssuer   bool
}

// Claims are the decoded payload fields of a token
type Claims = jwt.MapClaims

// ValidationLevel records how much checking backs a CallerIdentity
type ValidationLevel string

const (
	// ValidationFull means signature and claims were verified
	ValidationFull ValidationLevel = "full"
	// ValidationUnverified means the payload was decoded without a signature check (degraded mode)
	ValidationUnverified ValidationLevel = "unverified"
	// ValidationDemo marks the fixed development identity
	ValidationDemo ValidationLevel = "demo"
)

// CallerIdentity is the canonical, request-scoped identity of an API caller
type CallerIdentity struct {
	DisplayName     string          `json:"display_name"`
	Email           string          `json:"email"`
	Subject         string          `json:"subject,omitempty"`
	Tenant          string          `json:"tenant,omitempty"`
	Roles           []string        `json:"roles"`
	ValidationLevel ValidationLevel `json:"validation_level"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// HasRole checks if the identity carries the given role
func (c *CallerIdentity) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
