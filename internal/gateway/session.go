package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionHeader carries the session id to upstream services.
	SessionHeader = "X-Session-ID"
	sessionCookie = "gearup_session"
	sessionMaxAge = 30 * 24 * time.Hour
)

type sessionKey struct{}

// Sessions makes sure every request has a session. Browsers without a valid
// session cookie are issued a new one.
func Sessions(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(sessionCookie); err == nil {
				if _, err := uuid.Parse(c.Value); err == nil {
					id = c.Value
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   int(sessionMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, id)))
		})
	}
}

func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
