package http

import (
	"context"
	"net/http"
	"time"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
	"github.com/roelfdiedericks/chatgate/internal/user"
)

// contextKey is used for storing values in request context
type contextKey string

const userContextKey contextKey = "user"

const realm = `Basic realm="chatgate"`

// basicAuth middleware enforces HTTP Basic Authentication. Failed
// attempts are answered after authDelay and block the client IP for a
// while.
func (s *Server) basicAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)

		if s.rateLimiter.IsLimited(clientIP) {
			L_warn("http: rate limited", "ip", clientIP)
			w.Header().Set("WWW-Authenticate", realm)
			writeError(w, http.StatusTooManyRequests, "Too many failed attempts. Try again later.")
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", realm)
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		u := s.deps.Users.Get(username)
		if !u.VerifyPassword(password) {
			s.rateLimiter.RecordFailure(clientIP)
			L_warn("http: auth failed", "username", username, "ip", clientIP, "known", u != nil)
			s.delayFailure(r.Context())
			w.Header().Set("WWW-Authenticate", realm)
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		s.rateLimiter.ClearFailure(clientIP)
		L_trace("http: auth success", "username", username, "ip", clientIP)

		handler(w, r.WithContext(setUserInContext(r.Context(), u)))
	}
}

func (s *Server) delayFailure(ctx context.Context) {
	if s.authDelay <= 0 {
		return
	}
	t := time.NewTimer(s.authDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// getUserFromContext retrieves the authenticated user from request context
func getUserFromContext(r *http.Request) *user.User {
	if u, ok := r.Context().Value(userContextKey).(*user.User); ok {
		return u
	}
	return nil
}

func setUserInContext(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}
