package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/server/services"
)

const healthTimeout = 2 * time.Second

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type presignResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn(r.Context(), "health check: database unreachable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.users.Register(r.Context(), in.Email, in.Password, in.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info(r.Context(), "user registered", "user", u.ID)
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.users.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.RefreshToken == "" {
		s.writeError(w, r, common.ErrInvalidToken)
		return
	}
	sess, err := s.users.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.users.Logout(r.Context(), in.RefreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	recs, err := s.records.Fetch(r.Context(), r.PathValue("userId"), r.PathValue("entity"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleFetchAll(w http.ResponseWriter, r *http.Request) {
	all, err := s.records.FetchAll(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var recs []json.RawMessage
	if err := decodeBody(w, r, &recs); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.records.Push(r.Context(), r.PathValue("userId"), r.PathValue("entity"), recs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.records.Delete(r.Context(), r.PathValue("userId"), r.PathValue("entity"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePresignUpload(w http.ResponseWriter, r *http.Request) {
	key, url, err := s.backups.PresignUpload(r.Context(), callerFrom(r.Context()).userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presignResponse{Key: key, URL: url})
}

func (s *Server) handlePresignDownload(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, r, services.ErrInvalidInput)
		return
	}
	url, err := s.backups.PresignDownload(r.Context(), callerFrom(r.Context()).userID, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presignResponse{Key: key, URL: url})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	objs, err := s.backups.List(r.Context(), callerFrom(r.Context()).userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objs)
}
