package tokenauth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// VerificationKey is a public key ready to verify a token signature
type VerificationKey struct {
	KeyID     string
	Algorithm string
	Key       crypto.PublicKey
}

// KeyRejection explains why a candidate with a matching kid was skipped
type KeyRejection struct {
	Index  int
	Reason string
}

// SelectKey finds the first key in set whose kid equals header.KeyID and
// whose material converts into a public key usable with header.Algorithm.
// Candidates that fail conversion are skipped rather than treated as fatal.
func SelectKey(header TokenHeader, set *KeySet) (VerificationKey, []KeyRejection, error) {
	if header.KeyID == "" {
		return VerificationKey{}, nil, errors.New("token header has no kid")
	}
	if set == nil {
		return VerificationKey{}, nil, errors.New("no key set")
	}

	var rejections []KeyRejection
	for i, candidate := range set.Keys {
		if candidate.KeyID != header.KeyID {
			continue
		}
		key, err := convertKey(candidate, header.Algorithm)
		if err != nil {
			rejections = append(rejections, KeyRejection{Index: i, Reason: err.Error()})
			continue
		}
		return VerificationKey{KeyID: candidate.KeyID, Algorithm: header.Algorithm, Key: key}, rejections, nil
	}

	if len(rejections) > 0 {
		return VerificationKey{}, rejections, fmt.Errorf("%d key(s) with kid %s unusable", len(rejections), header.KeyID)
	}
	return VerificationKey{}, nil, fmt.Errorf("key with kid %s not found in JWKS", header.KeyID)
}

// convertKey turns a JWK into a public key and checks it fits alg
func convertKey(k SigningKey, alg string) (crypto.PublicKey, error) {
	if k.Use != "" && k.Use != "sig" {
		return nil, fmt.Errorf("key use %q is not sig", k.Use)
	}
	if k.Algorithm != "" && k.Algorithm != alg {
		return nil, fmt.Errorf("key alg %s does not match token alg %s", k.Algorithm, alg)
	}

	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(k.Raw); err != nil {
		return nil, fmt.Errorf("failed to decode JWK: %w", err)
	}
	if !jwk.Valid() {
		return nil, errors.New("invalid key material")
	}
	if !jwk.IsPublic() {
		return nil, errors.New("JWK is not a public key")
	}

	switch pub := jwk.Key.(type) {
	case *rsa.PublicKey:
		if !strings.HasPrefix(alg, "RS") && !strings.HasPrefix(alg, "PS") {
			return nil, fmt.Errorf("RSA key cannot verify %s", alg)
		}
		return pub, nil
	case *ecdsa.PublicKey:
		want, ok := ecdsaCurves[alg]
		if !ok {
			return nil, fmt.Errorf("EC key cannot verify %s", alg)
		}
		if pub.Curve != want {
			return nil, fmt.Errorf("EC key curve %s does not match %s", pub.Curve.Params().Name, alg)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", jwk.Key)
	}
}

var ecdsaCurves = map[string]elliptic.Curve{
	"ES256": elliptic.P256(),
	"ES384": elliptic.P384(),
	"ES512": elliptic.P521(),
}
