package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"aichat/internal/catalog"
	"aichat/internal/storage"
)

// bcrypt only looks at the first 72 bytes and newer x/crypto rejects more.
const maxPasswordBytes = 72

const (
	settingAdminPassword     = "admin_password"
	settingGlobalAuthEnabled = "global_auth_enabled"
	settingGlobalPassword    = "global_password"
)

func (s *Server) handlePublicModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Store.Models(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list public models")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, catalog.PublicModels(list.Models))
}

func (s *Server) handleGetModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Store.Models(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list models")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	w.Header().Set("ETag", formatETag(list.Version))
	writeJSON(w, http.StatusOK, list.Models)
}

func (s *Server) handleReplaceModels(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	var models []catalog.ProviderConfig
	if trimmed := strings.TrimSpace(string(raw)); !strings.HasPrefix(trimmed, "[") {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if err := json.Unmarshal(raw, &models); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if err := catalog.Validate(models); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	expected, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid If-Match header")
		return
	}

	version, err := s.cfg.Store.ReplaceModels(r.Context(), models, expected)
	if errors.Is(err, storage.ErrVersionConflict) {
		writeError(w, http.StatusConflict, "Model list was changed by someone else; reload and retry")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("replace models")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	s.m.ModelListUpdates.Inc()
	s.logger.Info().Int("count", len(models)).Int64("version", version).Msg("model list replaced")
	w.Header().Set("ETag", formatETag(version))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "version": version})
}

type settingsResponse struct {
	GlobalAuthEnabled bool `json:"globalAuthEnabled"`
	HasGlobalPassword bool `json:"hasGlobalPassword"`
	HasAdminPassword  bool `json:"hasAdminPassword"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	enabled, found, err := s.cfg.Store.GlobalAuthEnabled(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("read global auth toggle")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if !found {
		enabled = s.cfg.EnvGlobalAuth
	}
	globalPwd, _, err := s.cfg.Store.GlobalPassword(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("read global password")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	adminHash, _, err := s.cfg.Store.AdminPasswordHash(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("read admin password hash")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		GlobalAuthEnabled: enabled,
		HasGlobalPassword: globalPwd != "",
		HasAdminPassword:  adminHash != "",
	})
}

type settingsUpdate struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	ctx := r.Context()

	var err error
	switch req.Type {
	case settingAdminPassword:
		var pw string
		if json.Unmarshal(req.Value, &pw) != nil || pw == "" {
			writeError(w, http.StatusBadRequest, "Password must be a non-empty string")
			return
		}
		if len(pw) > maxPasswordBytes {
			writeError(w, http.StatusBadRequest, "Password must be at most 72 bytes")
			return
		}
		var hash []byte
		hash, err = bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err == nil {
			err = s.cfg.Store.SetAdminPasswordHash(ctx, string(hash))
		}
	case settingGlobalAuthEnabled:
		// Only a literal true enables the gate.
		err = s.cfg.Store.SetGlobalAuthEnabled(ctx, strings.TrimSpace(string(req.Value)) == "true")
	case settingGlobalPassword:
		var pw string
		if json.Unmarshal(req.Value, &pw) != nil {
			writeError(w, http.StatusBadRequest, "Password must be a string")
			return
		}
		err = s.cfg.Store.SetGlobalPassword(ctx, pw)
	default:
		writeError(w, http.StatusBadRequest, "Unknown setting type")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("type", req.Type).Msg("update setting")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	s.logger.Info().Str("type", req.Type).Msg("setting updated")
	writeSuccess(w)
}

func formatETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// parseIfMatch reads the version stamp handed out in ETag. A missing header
// or * means an unconditional write.
func parseIfMatch(h string) (int64, error) {
	h = strings.TrimSpace(h)
	if h == "" || h == "*" {
		return storage.AnyVersion, nil
	}
	h = strings.TrimPrefix(h, "W/")
	h = strings.Trim(h, `"`)
	v, err := strconv.ParseInt(h, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("invalid version")
	}
	return v, nil
}
