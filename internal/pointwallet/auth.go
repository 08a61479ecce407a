package pointwallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/twitchtv/twirp"
)

var (
	ErrTokenMissing = errors.New("bearer token missing")
	ErrTokenExpired = errors.New("bearer token expired")
	ErrTokenTooLong = errors.New("bearer token lifetime exceeds max age")
)

// hostClaims is the payload of the HS256 compact JWS the host presents.
type hostClaims struct {
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

type subjectKey struct{}

func withSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

func subjectFromContext(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey{}).(string)
	return v
}

// IssueHostToken signs a short-lived token for the command surface.
func IssueHostToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	payload, err := json.Marshal(hostClaims{
		Subject:   subject,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	signed, err := jws.Sign(payload, jws.WithKey(jwa.HS256(), []byte(secret)))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// VerifyHostToken checks the signature and that the token is current and
// no longer-lived than maxAge.
func VerifyHostToken(token, secret string, maxAge time.Duration, now time.Time) (hostClaims, error) {
	var claims hostClaims
	if token == "" {
		return claims, ErrTokenMissing
	}
	payload, err := jws.Verify([]byte(token), jws.WithKey(jwa.HS256(), []byte(secret)))
	if err != nil {
		return claims, fmt.Errorf("verify bearer token: %w", err)
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return claims, fmt.Errorf("decode bearer token: %w", err)
	}
	exp := time.Unix(claims.ExpiresAt, 0)
	if claims.ExpiresAt == 0 || !now.Before(exp) {
		return claims, ErrTokenExpired
	}
	if exp.Sub(time.Unix(claims.IssuedAt, 0)) > maxAge || exp.Sub(now) > maxAge {
		return claims, ErrTokenTooLong
	}
	return claims, nil
}

// extractBearerToken also reads access_token from the query, since browsers
// cannot set headers on a websocket upgrade.
func extractBearerToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func handleAuth(store *ConfigStore) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			auth := store.Get().Auth
			if auth.Secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := VerifyHostToken(extractBearerToken(r), auth.Secret, auth.MaxAge(), time.Now().UTC())
			if err != nil {
				slog.Warn("command auth rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
				renderErr(w, twirp.Unauthenticated.Error(err.Error()))
				return
			}
			next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), claims.Subject)))
		}
		return http.HandlerFunc(fn)
	}
}
