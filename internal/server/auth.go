package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a request carries no usable bearer
// token.
var ErrUnauthenticated = errors.New("server: missing or invalid bearer token")

type playerKey struct{}

// PlayerFrom returns the token subject stored by the auth middleware, or ""
// when auth is disabled.
func PlayerFrom(ctx context.Context) string {
	s, _ := ctx.Value(playerKey{}).(string)
	return s
}

// bearer extracts the raw bearer token from the Authorization header. For
// WebSocket upgrades, where browsers cannot set headers, the access_token
// query parameter is accepted as well.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// verifyToken validates an HS256 token against secret and returns its
// subject.
func verifyToken(raw string, secret []byte) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

// requireAuth rejects requests without a valid bearer token. With an empty
// secret every request passes through.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if len(s.jwtSecret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			s.writeError(w, r, http.StatusUnauthorized, ErrUnauthenticated)
			return
		}
		sub, err := verifyToken(raw, s.jwtSecret)
		if err != nil {
			s.writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), playerKey{}, sub)))
	})
}
