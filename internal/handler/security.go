package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/gameshop-promo/internal/domain/auth"
	"github.com/xenking/gameshop-promo/pkg/httpmiddleware"
)

// HeaderAPIKey carries an admin API key.
const HeaderAPIKey = "api_key"

var errUnauthorized = errors.New("unauthorized")

// SecurityHandler authenticates admin requests either by an HMAC-hashed API
// key or by an HS256 bearer token.
type SecurityHandler struct {
	apikeys   auth.Repository
	pepper    []byte
	jwtSecret []byte
}

// NewSecurityHandler creates a SecurityHandler. An empty jwtSecret disables
// bearer tokens.
func NewSecurityHandler(apikeys auth.Repository, pepper, jwtSecret []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys:   apikeys,
		pepper:    pepper,
		jwtSecret: jwtSecret,
	}
}

// RequireAdmin rejects requests without a credential granting
// auth.ScopeManagePromos.
func (s *SecurityHandler) RequireAdmin() httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := s.authenticate(r); err != nil {
				zctx.From(r.Context()).Debug("Admin request rejected", zap.Error(err))
				writeMessage(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *SecurityHandler) authenticate(r *http.Request) error {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return s.HandleAPIKey(r.Context(), key)
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return s.HandleBearer(token)
	}
	return errors.Wrap(errUnauthorized, "no credentials")
}

// HandleAPIKey looks the key up by its HMAC and compares the stored hash in
// constant time.
func (s *SecurityHandler) HandleAPIKey(ctx context.Context, key string) error {
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hexHash)
	if err != nil {
		return errors.Wrap(errUnauthorized, "lookup key")
	}

	computed, _ := hex.DecodeString(hexHash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return errors.Wrap(errUnauthorized, "decode stored hash")
	}
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return errors.Wrap(errUnauthorized, "hash mismatch")
	}
	if !info.Active || !info.HasScope(auth.ScopeManagePromos) {
		return errors.Wrap(errUnauthorized, "missing scope")
	}
	return nil
}

type adminClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HandleBearer verifies an HS256 token carrying an expiry and the
// manage_promos scope.
func (s *SecurityHandler) HandleBearer(token string) error {
	if len(s.jwtSecret) == 0 {
		return errors.Wrap(errUnauthorized, "bearer tokens disabled")
	}

	var claims adminClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return errors.Wrap(errUnauthorized, err.Error())
	}
	if !slices.Contains(claims.Scopes, auth.ScopeManagePromos) {
		return errors.Wrap(errUnauthorized, "missing scope")
	}
	return nil
}
