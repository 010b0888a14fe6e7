// Package middleware enforces route authorization and attaches the
// validated session to the request context.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/r2r72/x-auth-v1/internal/session"
)

// Outcome of an authorization check.
type Outcome int

const (
	Allow Outcome = iota
	RedirectToLogin
	Forbidden
)

// SessionCookie is the name of the session transport cookie.
const SessionCookie = "xauth_session"

// Validator decodes and verifies a session token.
type Validator interface {
	ValidateSession(ctx context.Context, token string) (*session.Claims, error)
}

// Routes holds the three disjoint route sets. Classification is
// longest-prefix, checked admin-first; anything unlisted is public.
type Routes struct {
	Protected []string
	Admin     []string
}

// DefaultRoutes mirrors the reference deployment.
func DefaultRoutes() Routes {
	return Routes{
		Protected: []string{"/dashboard", "/account", "/settings", "/history"},
		Admin:     []string{"/admin"},
	}
}

// Authorizer classifies requests and enforces session validity.
type Authorizer struct {
	routes    Routes
	validator Validator
	loginURL  string
}

func NewAuthorizer(routes Routes, validator Validator, loginURL string) *Authorizer {
	if loginURL == "" {
		loginURL = "/login"
	}
	return &Authorizer{routes: routes, validator: validator, loginURL: loginURL}
}

type routeClass int

const (
	routePublic routeClass = iota
	routeProtected
	routeAdmin
)

// classify resolves the longest matching prefix, admin before
// protected so the sets stay mutually exclusive.
func (a *Authorizer) classify(path string) routeClass {
	if longestPrefix(a.routes.Admin, path) >= 0 {
		return routeAdmin
	}
	if longestPrefix(a.routes.Protected, path) >= 0 {
		return routeProtected
	}
	return routePublic
}

// longestPrefix returns the length of the longest prefix in set that
// matches path on a segment boundary, or -1.
func longestPrefix(set []string, path string) int {
	best := -1
	for _, prefix := range set {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if len(path) > len(prefix) && path[len(prefix)] != '/' {
			continue
		}
		if len(prefix) > best {
			best = len(prefix)
		}
	}
	return best
}

// Authorize is the pure authorization decision for a path and an
// optional token. An invalid token on a protected path redirects to
// login rather than returning Forbidden, so the response never leaks
// whether a presented token was well-formed.
func (a *Authorizer) Authorize(ctx context.Context, path, token string) (Outcome, *session.Claims) {
	class := a.classify(path)

	var claims *session.Claims
	if token != "" {
		c, err := a.validator.ValidateSession(ctx, token)
		if err == nil {
			claims = c
		}
	}

	if class == routePublic {
		return Allow, claims
	}
	if claims == nil {
		return RedirectToLogin, nil
	}
	if class == routeAdmin && claims.Role != "admin" {
		return Forbidden, claims
	}
	return Allow, claims
}

type claimsKey struct{}

// ClaimsFrom returns the session claims attached by Wrap, if any.
func ClaimsFrom(ctx context.Context) (*session.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*session.Claims)
	return c, ok
}

// Wrap applies authorization to an http.Handler. The token is read
// from the session cookie first, then from an Authorization: Bearer
// header. Security headers are attached on every response independent
// of the outcome.
func (a *Authorizer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)

		outcome, claims := a.Authorize(r.Context(), r.URL.Path, ExtractToken(r))
		switch outcome {
		case RedirectToLogin:
			http.Redirect(w, r, a.loginURL, http.StatusSeeOther)
		case Forbidden:
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		default:
			if claims != nil {
				r = r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims))
			}
			next.ServeHTTP(w, r)
		}
	})
}

// ExtractToken reads the session token from the cookie, falling back
// to the Authorization header.
func ExtractToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}

func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

// SetSessionCookie writes the session token as an HTTP-only,
// SameSite=Lax cookie with Max-Age equal to the token lifetime.
// secure must be true in production.
func SetSessionCookie(w http.ResponseWriter, token string, maxAgeSeconds int, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAgeSeconds,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
