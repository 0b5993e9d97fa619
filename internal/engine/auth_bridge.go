package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Auth header constants (injected by the gateway in front of the service).
const (
	HeaderUserID        = "X-User-ID"
	HeaderGatewaySecret = "X-Gateway-Secret"
)

type authContextKey struct{}

// AuthFromRequest extracts AuthContext from an HTTP request's context.
func AuthFromRequest(r *http.Request) AuthContext {
	if ac, ok := r.Context().Value(authContextKey{}).(AuthContext); ok {
		return ac
	}
	return AuthContext{}
}

// WithAuth stores an AuthContext in a context.
func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// AuthMiddleware extracts the caller identity from gateway headers,
// resolves the user via the engine Store, and injects AuthContext.
func AuthMiddleware(store *Store, sharedSecret string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sharedSecret != "" {
				if r.Header.Get(HeaderGatewaySecret) != sharedSecret {
					writeError(w, http.StatusForbidden, "invalid gateway secret")
					return
				}
			}

			referenceID := r.Header.Get(HeaderUserID)

			// Fallback: bearer token payload when the gateway did not inject headers.
			if referenceID == "" {
				if claims := parseJWTClaims(r); claims != nil {
					referenceID = claims.UserID
				}
			}

			if referenceID == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := store.ResolveUser(r.Context(), referenceID)
			if err != nil {
				logger.Error("failed to resolve user", "reference_id", referenceID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to resolve user identity")
				return
			}

			ac := AuthContext{
				Authenticated: true,
				UserID:        userID,
				ReferenceID:   referenceID,
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), ac)))
		})
	}
}

// jwtClaims represents the relevant fields from a gateway JWT payload.
type jwtClaims struct {
	UserID string `json:"uid"`
	Exp    int64  `json:"exp"`
}

// parseJWTClaims extracts user identity from the Authorization Bearer token.
// Signature verification is skipped: the gateway already validated the token
// and the service is only reachable through it.
func parseJWTClaims(r *http.Request) *jwtClaims {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(auth, "Bearer "), ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil
	}
	if claims.Exp > 0 && time.Now().Unix() > claims.Exp {
		return nil
	}
	if claims.UserID == "" {
		return nil
	}
	return &claims
}
