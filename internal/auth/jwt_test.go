package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voice-agent-platform/internal/config"

	"github.com/gin-gonic/gin"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newTestManager(t)

	pair, err := m.IssuePair(fixedNow, "user-1", "tenant-1", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, fixedNow.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.TenantID != "tenant-1" || claims.Role != "member" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), "u", "t", "r")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := newTestManager(t)
	p, _ := m.IssuePair(fixedNow, "u", "t", "owner")
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, fixedNow.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsMissingTenant(t *testing.T) {
	m := newTestManager(t)
	p, _ := m.IssuePair(fixedNow, "u", "", "owner")
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, fixedNow); err == nil {
		t.Fatalf("expected tenant_id missing")
	}
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t).WithClock(func() time.Time { return fixedNow })
	p, _ := m.IssuePair(fixedNow, "user-1", "tenant-1", "owner")

	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		tid, _ := TenantID(c.Request.Context())
		c.String(http.StatusOK, tid)
	})

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"valid", "Bearer " + p.AccessToken, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"refresh token", "Bearer " + p.RefreshToken, http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, w.Code)
			}
			if tc.code == http.StatusOK && w.Body.String() != "tenant-1" {
				t.Fatalf("expected tenant-1 in context, got %q", w.Body.String())
			}
		})
	}
}

func TestRefreshIssuesNewPair(t *testing.T) {
	m := newTestManager(t)
	p, err := m.IssuePair(fixedNow, "user-1", "tenant-1", "owner")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	later := fixedNow.Add(time.Hour)
	next, err := m.Refresh(p.RefreshToken, later)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := m.Verify(next.AccessToken, TokenTypeAccess, later)
	if err != nil {
		t.Fatalf("verify refreshed access token: %v", err)
	}
	if claims.UserID != "user-1" || claims.TenantID != "tenant-1" || claims.Role != "owner" {
		t.Fatalf("expected identity carried over, got %+v", claims)
	}

	if _, err := m.Refresh(p.AccessToken, later); err == nil {
		t.Fatalf("expected access token to be rejected for refresh")
	}
	if _, err := m.Refresh(p.RefreshToken, fixedNow.Add(48*time.Hour)); err == nil {
		t.Fatalf("expected expired refresh token to be rejected")
	}
}
