package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultSessionCookie = "session"

var ErrNoSession = errors.New("no valid session")

type contextKey struct{}

// SessionVerifier checks session tokens minted by the external session
// provider. Tokens are HS256 JWTs whose subject is the user id.
type SessionVerifier struct {
	secret []byte
	issuer string
	cookie string
}

func NewSessionVerifier(secret, issuer, cookie string) (*SessionVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret must not be empty")
	}
	if cookie == "" {
		cookie = DefaultSessionCookie
	}
	return &SessionVerifier{secret: []byte(secret), issuer: issuer, cookie: cookie}, nil
}

func (v *SessionVerifier) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrNoSession
	}

	return claims.Subject, nil
}

// Sign mints a token for userId. Used by tests and local tooling; production
// sessions are issued by the session provider.
func (v *SessionVerifier) Sign(userId string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userId,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *SessionVerifier) tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(v.cookie); err == nil {
		return cookie.Value
	}
	return ""
}

func (v *SessionVerifier) userFromRequest(r *http.Request) (string, error) {
	token := v.tokenFromRequest(r)
	if token == "" {
		return "", ErrNoSession
	}
	return v.Verify(token)
}

// Middleware rejects requests that do not carry a valid session.
func Middleware(v *SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userId, err := v.userFromRequest(r)
			if err != nil {
				slog.Debug("rejecting request without session", "path", r.URL.Path, "error", err)
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userId)))
		})
	}
}

// OptionalMiddleware attaches the session user when one is present and lets
// anonymous requests through.
func OptionalMiddleware(v *SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userId, err := v.userFromRequest(r); err == nil {
				r = r.WithContext(WithUserID(r.Context(), userId))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithUserID(ctx context.Context, userId string) context.Context {
	return context.WithValue(ctx, contextKey{}, userId)
}

func UserID(ctx context.Context) (string, bool) {
	userId, ok := ctx.Value(contextKey{}).(string)
	return userId, ok && userId != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"}); err != nil {
		slog.Error("error writing unauthorized response", "error", err)
	}
}
