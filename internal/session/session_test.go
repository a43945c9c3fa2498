package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager([]byte("0123456789abcdef0123456789abcdef"), time.Hour, false)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestIssueVerifyAudience(t *testing.T) {
	m := newTestManager(t)
	token, _, err := m.Issue(Admin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !m.Verify(Admin, token) {
		t.Fatal("expected admin token to verify for admin")
	}
	if m.Verify(Site, token) {
		t.Fatal("admin token must not open the site gate")
	}
	if m.Verify(Admin, "authenticated") {
		t.Fatal("sentinel strings are not sessions")
	}
}

func TestVerifyRejectsForeignSecretAndExpiry(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager([]byte("another-secret-another-secret-xx"), time.Hour, false)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := other.Issue(Site)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if m.Verify(Site, token) {
		t.Fatal("token signed with another secret must be rejected")
	}

	past := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return past }
	old, _, err := m.Issue(Site)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	m.now = time.Now
	if m.Verify(Site, old) {
		t.Fatal("expired token must be rejected")
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	m := newTestManager(t)
	claims := jwt.RegisteredClaims{
		Subject:   string(Admin),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if m.Verify(Admin, token) {
		t.Fatal("unsigned token must be rejected")
	}
}

func TestCookieRoundTrip(t *testing.T) {
	m := newTestManager(t)
	rec := httptest.NewRecorder()
	if err := m.SetCookie(rec, Site); err != nil {
		t.Fatalf("set cookie: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != SiteCookie || !c.HttpOnly || c.Path != "/" || c.MaxAge != 3600 {
		t.Fatalf("unexpected cookie %+v", c)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	if !m.FromRequest(req, Site) {
		t.Fatal("expected site session from request")
	}
	if m.FromRequest(req, Admin) {
		t.Fatal("site cookie must not grant admin")
	}

	rec = httptest.NewRecorder()
	m.ClearCookie(rec, Admin)
	cleared := rec.Result().Cookies()
	if len(cleared) != 1 || cleared[0].Name != AdminCookie || cleared[0].MaxAge >= 0 {
		t.Fatalf("unexpected cleared cookie %+v", cleared)
	}
}

func TestRequireAdmin(t *testing.T) {
	m := newTestManager(t)
	h := m.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config/models", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != `{"error":"Unauthorized"}` {
		t.Fatalf("unexpected body %q", body)
	}

	token, _, err := m.Issue(Admin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/config/models", nil)
	req.AddCookie(&http.Cookie{Name: AdminCookie, Value: token})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewManager([]byte("short"), time.Hour, false); err != ErrSecretTooShort {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
}
