package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"cocalc-hub/internal/storage"
)

func (s *Router) stats(w http.ResponseWriter, r *http.Request) {
	st, ok, err := storage.LatestStats(r.Context(), s.opts.DB)
	if err != nil {
		s.log.WithError(err).Warn("stats: query failed")
		writeError(w, r, http.StatusInternalServerError, "stats unavailable")
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "stats not computed yet")
		return
	}
	render.JSON(w, r, st)
}

var customizeSettings = []string{
	storage.SettingSiteName,
	storage.SettingVersionRecommended,
	storage.SettingVersionMin,
}

func (s *Router) customize(w http.ResponseWriter, r *http.Request) {
	all, err := storage.ServerSettings(r.Context(), s.opts.DB)
	if err != nil {
		s.log.WithError(err).Warn("customize: query failed")
		writeError(w, r, http.StatusInternalServerError, "settings unavailable")
		return
	}
	out := map[string]any{"personal": s.opts.Personal}
	for _, k := range customizeSettings {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	render.JSON(w, r, out)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Router) signIn(w http.ResponseWriter, r *http.Request) {
	if s.opts.Personal {
		render.JSON(w, r, map[string]string{"account_id": s.personal.ID})
		return
	}

	var req signInRequest
	if strings.HasPrefix(r.Header.Get("content-type"), "application/json") {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad request")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad request")
			return
		}
		req.Email = r.FormValue("email")
		req.Password = r.FormValue("password")
	}

	a, ok, err := storage.VerifyAccountPassword(r.Context(), s.opts.DB, req.Email, req.Password)
	if err != nil {
		s.log.WithError(err).Warn("sign in: query failed")
		writeError(w, r, http.StatusInternalServerError, "sign in failed")
		return
	}
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
		return
	}
	token, err := storage.CreateSession(r.Context(), s.opts.DB, a.ID, s.opts.Cookies.TTL)
	if err != nil {
		s.log.WithError(err).Warn("sign in: create session failed")
		writeError(w, r, http.StatusInternalServerError, "sign in failed")
		return
	}
	s.opts.Cookies.set(w, token)
	render.JSON(w, r, map[string]string{"account_id": a.ID})
}

func (s *Router) signOut(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(s.opts.Cookies.Name); err == nil && c.Value != "" {
		if err := storage.DeleteSession(r.Context(), s.opts.DB, c.Value); err != nil {
			s.log.WithError(err).Warn("sign out: delete session failed")
		}
	}
	s.opts.Cookies.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Router) me(w http.ResponseWriter, r *http.Request) {
	a, _ := r.Context().Value(accountKey).(storage.Account)
	render.JSON(w, r, map[string]string{"account_id": a.ID, "email": a.Email})
}

func (s *Router) touchProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "project_id")
	err := storage.TouchProject(r.Context(), s.opts.DB, id, time.Now())
	switch {
	case errors.Is(err, storage.ErrProjectNotFound):
		writeError(w, r, http.StatusNotFound, "no such project")
	case err != nil:
		s.log.WithError(err).Warn("touch project failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
