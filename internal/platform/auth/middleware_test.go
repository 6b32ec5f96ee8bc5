package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func signToken(t *testing.T, key []byte, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	key := []byte("test-signing-key")
	token := signToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "8a2b7c1d-0000-0000-0000-000000000042",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"doctor"},
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotUID string
	var gotRoles []string
	h := JWTMiddleware(JWTConfig{SigningKey: key})(func(c echo.Context) error {
		gotUID = UserIDFromContext(c.Request().Context())
		gotRoles = RolesFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUID != "8a2b7c1d-0000-0000-0000-000000000042" {
		t.Errorf("user id = %q", gotUID)
	}
	if len(gotRoles) != 1 || gotRoles[0] != "doctor" {
		t.Errorf("roles = %v", gotRoles)
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	key := []byte("test-signing-key")
	expired := signToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expired},
	}

	e := echo.New()
	mw := JWTMiddleware(JWTConfig{SigningKey: key})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %v", err)
			}
		})
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var ctx context.Context
	h := DevAuthMiddleware()(func(c echo.Context) error {
		ctx = c.Request().Context()
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid := UserIDFromContext(ctx); uid != DevUserID {
		t.Errorf("user id = %q, want %q", uid, DevUserID)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != "admin" {
		t.Errorf("roles = %v", roles)
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	if uid := UserIDFromContext(context.Background()); uid != "" {
		t.Errorf("expected empty user id, got %q", uid)
	}
}
