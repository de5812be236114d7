// Package auth verifies HS256 bearer tokens and exposes the current actor
// to handlers. Token issuance lives elsewhere; IssueToken exists for local
// tooling and tests.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/slot-admin/generic"
)

// ErrInvalidToken is returned for a missing, malformed, expired or
// wrongly signed token.
var ErrInvalidToken = errors.New("invalid token")

type ctxKey struct{}

// Verifier parses tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse validates token and returns the actor it names.
func (v *Verifier) Parse(token string) (generic.Actor, error) {
	if token == "" {
		return generic.Actor{}, ErrInvalidToken
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return generic.Actor{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return generic.Actor{}, ErrInvalidToken
	}
	id, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)
	if id == "" {
		return generic.Actor{}, ErrInvalidToken
	}
	return generic.Actor{ID: id, FullName: name, Role: generic.Role(role)}, nil
}

// IssueToken signs a token for actor valid for ttl.
func (v *Verifier) IssueToken(actor generic.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  actor.ID,
		"name": actor.FullName,
		"role": string(actor.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest reads "Authorization: Bearer <token>", falling back to
// the token query parameter used by browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid token and stores the actor
// in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := v.Parse(TokenFromRequest(r))
		if err != nil {
			deny(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireRole rejects actors holding none of roles.
func RequireRole(roles ...generic.Role) func(http.Handler) http.Handler {
	return Require(func(a generic.Actor) bool { return a.HasRole(roles...) })
}

// Require rejects actors for which allow returns false.
func Require(allow func(generic.Actor) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok || !allow(actor) {
				deny(w, http.StatusForbidden, generic.ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CanAccessOperatorChat gates the chat management surface.
func CanAccessOperatorChat(a generic.Actor) bool {
	return a.HasRole(generic.RoleOperator, generic.RoleAdmin)
}

// WithActor returns ctx carrying actor.
func WithActor(ctx context.Context, actor generic.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(ctx context.Context) (generic.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(generic.Actor)
	return a, ok
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
