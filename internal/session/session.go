package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Audience says which gate a session token opens.
type Audience string

const (
	Admin Audience = "admin"
	Site  Audience = "site"
)

const (
	AdminCookie = "admin_session"
	SiteCookie  = "site_access_token"

	DefaultTTL = 7 * 24 * time.Hour
)

var ErrSecretTooShort = errors.New("session secret must be at least 16 bytes")

// CookieName maps an audience to the cookie carrying its token.
func (a Audience) CookieName() string {
	if a == Admin {
		return AdminCookie
	}
	return SiteCookie
}

type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewManager(secret []byte, ttl time.Duration, secure bool) (*Manager, error) {
	if len(secret) < 16 {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return &Manager{secret: cp, ttl: ttl, secure: secure, now: time.Now}, nil
}

// RandomSecret returns a 32 byte key for deployments that did not configure
// one. Sessions signed with it do not survive a restart.
func RandomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return b, nil
}

func (m *Manager) Issue(aud Audience) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   string(aud),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, exp, nil
}

// Verify reports whether token is an unexpired HS256 token issued for aud.
func (m *Manager) Verify(aud Audience, token string) bool {
	if token == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return false
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(m.now()) {
		return false
	}
	return claims.Subject == string(aud)
}

func (m *Manager) SetCookie(w http.ResponseWriter, aud Audience) error {
	token, exp, err := m.Issue(aud)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     aud.CookieName(),
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) ClearCookie(w http.ResponseWriter, aud Audience) {
	http.SetCookie(w, &http.Cookie{
		Name:     aud.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) FromRequest(r *http.Request, aud Audience) bool {
	c, err := r.Cookie(aud.CookieName())
	if err != nil {
		return false
	}
	return m.Verify(aud, c.Value)
}

// RequireAdmin rejects requests without a valid admin session with
// 401 {"error":"Unauthorized"}.
func (m *Manager) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.FromRequest(r, Admin) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
