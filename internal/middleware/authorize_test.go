package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r2r72/x-auth-v1/internal/session"
)

type fakeValidator struct {
	claims map[string]*session.Claims
	err    error
}

func (f *fakeValidator) ValidateSession(_ context.Context, token string) (*session.Claims, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.claims[token]; ok {
		return c, nil
	}
	return nil, session.ErrInvalid
}

func userClaims() *session.Claims {
	return &session.Claims{Subject: "user-1", Role: "user", DeviceID: "dev-1"}
}

func adminClaims() *session.Claims {
	return &session.Claims{Subject: "admin-1", Role: "admin", DeviceID: "dev-2"}
}

func newTestAuthorizer() *Authorizer {
	v := &fakeValidator{claims: map[string]*session.Claims{
		"user-token":  userClaims(),
		"admin-token": adminClaims(),
	}}
	return NewAuthorizer(DefaultRoutes(), v, "/login")
}

func TestClassify(t *testing.T) {
	a := newTestAuthorizer()

	cases := []struct {
		path string
		want routeClass
	}{
		{"/", routePublic},
		{"/login", routePublic},
		{"/about", routePublic},
		{"/dashboard", routeProtected},
		{"/dashboard/reports", routeProtected},
		{"/account", routeProtected},
		{"/accounting", routePublic}, // prefix must end on a segment boundary
		{"/admin", routeAdmin},
		{"/admin/users", routeAdmin},
		{"/administrator", routePublic},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, a.classify(tc.path), "path %s", tc.path)
	}
}

func TestAdminPrefixWinsOverProtected(t *testing.T) {
	a := NewAuthorizer(Routes{
		Protected: []string{"/admin"},
		Admin:     []string{"/admin/users"},
	}, &fakeValidator{}, "")

	assert.Equal(t, routeAdmin, a.classify("/admin/users/42"))
	assert.Equal(t, routeProtected, a.classify("/admin/settings"))
}

func TestAuthorize(t *testing.T) {
	a := newTestAuthorizer()
	ctx := context.Background()

	t.Run("public path allows everyone", func(t *testing.T) {
		outcome, claims := a.Authorize(ctx, "/", "")
		assert.Equal(t, Allow, outcome)
		assert.Nil(t, claims)
	})

	t.Run("public path still carries valid claims", func(t *testing.T) {
		outcome, claims := a.Authorize(ctx, "/", "user-token")
		assert.Equal(t, Allow, outcome)
		require.NotNil(t, claims)
		assert.Equal(t, "user-1", claims.Subject)
	})

	t.Run("protected path without token redirects", func(t *testing.T) {
		outcome, _ := a.Authorize(ctx, "/dashboard", "")
		assert.Equal(t, RedirectToLogin, outcome)
	})

	t.Run("protected path with valid session allows", func(t *testing.T) {
		outcome, claims := a.Authorize(ctx, "/dashboard", "user-token")
		assert.Equal(t, Allow, outcome)
		require.NotNil(t, claims)
	})

	t.Run("invalid token redirects rather than forbids", func(t *testing.T) {
		outcome, _ := a.Authorize(ctx, "/dashboard", "garbage")
		assert.Equal(t, RedirectToLogin, outcome)

		outcome, _ = a.Authorize(ctx, "/admin", "garbage")
		assert.Equal(t, RedirectToLogin, outcome, "a bad token on an admin path must not reveal the role check")
	})

	t.Run("expired token redirects", func(t *testing.T) {
		expired := NewAuthorizer(DefaultRoutes(), &fakeValidator{err: session.ErrExpired}, "")
		outcome, _ := expired.Authorize(ctx, "/dashboard", "user-token")
		assert.Equal(t, RedirectToLogin, outcome)
	})

	t.Run("admin path forbids non-admin", func(t *testing.T) {
		outcome, claims := a.Authorize(ctx, "/admin/users", "user-token")
		assert.Equal(t, Forbidden, outcome)
		assert.NotNil(t, claims)
	})

	t.Run("admin path allows admin", func(t *testing.T) {
		outcome, _ := a.Authorize(ctx, "/admin/users", "admin-token")
		assert.Equal(t, Allow, outcome)
	})
}

func TestWrap(t *testing.T) {
	a := newTestAuthorizer()

	var gotClaims *session.Claims
	handler := a.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path, cookie, bearer string) *httptest.ResponseRecorder {
		gotClaims = nil
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: SessionCookie, Value: cookie})
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("allowed request reaches handler with claims", func(t *testing.T) {
		rec := do("/dashboard", "user-token", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotClaims)
		assert.Equal(t, "user-1", gotClaims.Subject)
	})

	t.Run("missing session redirects to login", func(t *testing.T) {
		rec := do("/dashboard", "", "")
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
		assert.Nil(t, gotClaims)
	})

	t.Run("non-admin on admin path gets 403", func(t *testing.T) {
		rec := do("/admin", "user-token", "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("bearer header works without cookie", func(t *testing.T) {
		rec := do("/dashboard", "", "user-token")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("security headers set on every outcome", func(t *testing.T) {
		for _, rec := range []*httptest.ResponseRecorder{
			do("/", "", ""),
			do("/dashboard", "", ""),
			do("/admin", "user-token", ""),
		} {
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
			assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
		}
	})
}

func TestExtractToken(t *testing.T) {
	t.Run("cookie takes precedence over header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "from-cookie"})
		req.Header.Set("Authorization", "Bearer from-header")
		assert.Equal(t, "from-cookie", ExtractToken(req))
	})

	t.Run("bearer is case insensitive", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer tok")
		assert.Equal(t, "tok", ExtractToken(req))
	})

	t.Run("other schemes ignored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		assert.Empty(t, ExtractToken(req))
	})

	t.Run("no credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.Empty(t, ExtractToken(req))
	})
}

func TestSessionCookieHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "tok", 3600, true)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookie, c.Name)
	assert.Equal(t, "tok", c.Value)
	assert.Equal(t, 3600, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	rec = httptest.NewRecorder()
	ClearSessionCookie(rec, false)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}
