package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/bookshelf-api/tokenauth"
	"github.com/upb/bookshelf-api/utils"
)

const realm = "bookshelf-api"

// TokenVerifier turns a bearer token into a caller identity
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*tokenauth.CallerIdentity, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

func NewAuthMiddleware(verifier TokenVerifier, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, logger: logger}
}

// RequireAuth admits requests carrying a verifiable bearer token and puts
// the caller identity on the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := m.logger.With(zap.String("request_id", RequestIDFrom(ctx)))

		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			log.Warn("missing bearer token")
			w.Header().Set("WWW-Authenticate", utils.BearerChallenge(realm, "", ""))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		identity, err := m.verifier.Verify(ctx, token)
		if err != nil {
			rejectToken(w, log, err)
			return
		}

		if identity.ValidationLevel == tokenauth.ValidationUnverified {
			log.Warn("admitting unverified identity", zap.String("subject", identity.Subject))
		} else {
			log.Debug("authenticated",
				zap.String("subject", identity.Subject),
				zap.String("validation_level", string(identity.ValidationLevel)))
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
	})
}

// RequireRole must be mounted after RequireAuth
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFrom(r.Context())
			switch {
			case identity == nil:
				m.logger.Error("RequireRole mounted without RequireAuth",
					zap.String("request_id", RequestIDFrom(r.Context())))
				_ = utils.WriteUnauthorized(w, "Authentication required")
			case !identity.HasRole(role):
				m.logger.Warn("missing role",
					zap.String("request_id", RequestIDFrom(r.Context())),
					zap.String("required_role", role),
					zap.Strings("roles", identity.Roles))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

var tokenMessages = map[tokenauth.ErrorKind]string{
	tokenauth.KindTokenExpired: "Token has expired",
	tokenauth.KindTokenFormat:  "Malformed token",
}

// rejectToken answers a failed verification. An unreachable key service is
// a 500; every other kind is an RFC 6750 invalid_token challenge.
func rejectToken(w http.ResponseWriter, log *zap.Logger, err error) {
	var authErr *tokenauth.AuthError
	if !errors.As(err, &authErr) {
		log.Error("unexpected verification error", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	log.Warn("token rejected", zap.String("kind", string(authErr.Kind)), zap.Error(err))

	if authErr.Kind == tokenauth.KindKeyServiceUnavailable {
		_ = utils.WriteInternalServerError(w, "Authentication service unavailable")
		return
	}

	message, ok := tokenMessages[authErr.Kind]
	if !ok {
		message = "Invalid token"
	}
	w.Header().Set("WWW-Authenticate", utils.BearerChallenge(realm, "invalid_token", message))
	_ = utils.WriteUnauthorized(w, message)
}

// bearerToken parses "Bearer <token>", matching the scheme case-insensitively
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
