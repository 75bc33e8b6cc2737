/**
 * @description
 * This file contains custom middleware for the HTTP router. Two gates sit in
 * front of the core: a JWT bearer-token check that establishes the caller's
 * chain address, and the membership access gate that admits or rejects that
 * address against the cached registry allow-list.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AddressContextKey is a custom type for the context key to avoid collisions.
type AddressContextKey string

const callerAddressKey AddressContextKey = "callerAddress"

// Authorizer is the membership predicate the access gate satisfies.
type Authorizer interface {
	IsAuthorized(address string) bool
}

// AuthMiddleware creates a middleware that validates HS256 bearer tokens and
// stores the caller's chain address (the token subject) in the request
// context.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || strings.TrimSpace(subject) == "" {
				http.Error(w, "Token subject missing", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerAddressKey, strings.TrimSpace(subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessGateMiddleware rejects callers whose chain address is not on the
// registry allow-list.
func AccessGateMiddleware(gate Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			address, ok := GetCallerAddress(r.Context())
			if !ok {
				http.Error(w, "Caller address not established", http.StatusUnauthorized)
				return
			}
			if !gate.IsAuthorized(address) {
				http.Error(w, "Address is not an admitted member", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetCallerAddress extracts the authenticated caller's chain address from the
// request context.
func GetCallerAddress(ctx context.Context) (string, bool) {
	address, ok := ctx.Value(callerAddressKey).(string)
	return address, ok
}
