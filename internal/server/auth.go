package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"aichat/internal/session"
)

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, session.Admin, s.verifyAdminPassword)
}

func (s *Server) handleSiteLogin(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, session.Site, s.verifyGlobalPassword)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, aud session.Audience, verify func(context.Context, string) (bool, error)) {
	kind := string(aud)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	allowed, _, resetAt, err := s.cfg.Limiter.Allow(r.Context(), kind, clientIP(r), time.Now())
	if err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("login rate limiter failed")
	}
	if !allowed {
		s.m.LoginAttempts.WithLabelValues(kind, "limited").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "Too many attempts")
		return
	}

	ok, err := verify(r.Context(), req.Password)
	if err != nil {
		s.m.LoginAttempts.WithLabelValues(kind, "error").Inc()
		s.logger.Error().Err(err).Str("kind", kind).Msg("login verification failed")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if !ok {
		s.m.LoginAttempts.WithLabelValues(kind, "invalid").Inc()
		s.logger.Warn().Str("kind", kind).Str("ip", clientIP(r)).Msg("invalid login password")
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	if err := s.cfg.Sessions.SetCookie(w, aud); err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("issue session")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	s.m.LoginAttempts.WithLabelValues(kind, "ok").Inc()
	writeSuccess(w)
}

// verifyAdminPassword checks the stored bcrypt hash. Until one is stored the
// plaintext ADMIN_INIT_PASSWORD is accepted.
func (s *Server) verifyAdminPassword(ctx context.Context, password string) (bool, error) {
	hash, found, err := s.cfg.Store.AdminPasswordHash(ctx)
	if err != nil {
		return false, err
	}
	if found && hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
	}
	return constantTimeEqual(password, s.cfg.AdminInitPassword), nil
}

func (s *Server) verifyGlobalPassword(ctx context.Context, password string) (bool, error) {
	stored, found, err := s.cfg.Store.GlobalPassword(ctx)
	if err != nil {
		return false, err
	}
	if !found || stored == "" {
		return false, nil
	}
	return constantTimeEqual(password, stored), nil
}

type logoutRequest struct {
	Type string `json:"type"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	switch req.Type {
	case string(session.Admin):
		s.cfg.Sessions.ClearCookie(w, session.Admin)
	case string(session.Site):
		s.cfg.Sessions.ClearCookie(w, session.Site)
	default:
		s.cfg.Sessions.ClearCookie(w, session.Admin)
		s.cfg.Sessions.ClearCookie(w, session.Site)
	}
	writeSuccess(w)
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
