// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relabs-tech/posture_monitor/internal/alert"
	"github.com/relabs-tech/posture_monitor/internal/auth"
	"github.com/relabs-tech/posture_monitor/internal/batch"
	"github.com/relabs-tech/posture_monitor/internal/storage"
)

// Server is the HTTP face of the monitor.
type Server struct {
	pipeline    *Pipeline
	store       storage.Repository
	auth        *auth.Service
	session     *auth.Session
	hub         *Hub
	monitor     *alert.Monitor
	calibration CalibrationTiming
	staticDir   string
	now         func() time.Time
}

// ServerConfig wires a Server. Hub and Monitor are optional.
type ServerConfig struct {
	Pipeline    *Pipeline
	Store       storage.Repository
	Auth        *auth.Service
	Session     *auth.Session
	Hub         *Hub
	Monitor     *alert.Monitor
	Calibration CalibrationTiming
	StaticDir   string
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Calibration.Countdown == 0 && cfg.Calibration.Timeout == 0 {
		cfg.Calibration = DefaultCalibrationTiming
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = "web"
	}
	return &Server{
		pipeline:    cfg.Pipeline,
		store:       cfg.Store,
		auth:        cfg.Auth,
		session:     cfg.Session,
		hub:         cfg.Hub,
		monitor:     cfg.Monitor,
		calibration: cfg.Calibration,
		staticDir:   cfg.StaticDir,
		now:         time.Now,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/reading", s.getReading)
		r.Get("/stats", s.getStats)
		r.Post("/records", s.registerNow)
		r.Post("/calibrate", s.calibrate)
		r.Post("/lifecycle", s.lifecycle)
		r.Get("/config/{key}", s.getConfig)
		r.Put("/config/{key}", s.putConfig)

		r.Post("/auth/register", s.register)
		r.Post("/auth/login", s.login)
		r.Post("/auth/logout", s.logout)
		r.Post("/auth/password", s.changePassword)

		r.Get("/profile", s.getProfile)
		r.Put("/profile", s.putProfile)
		r.Delete("/profile", s.deleteProfile)

		r.Get("/hud.png", s.hudImage)
	})

	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}
	r.Get("/ws/calibration", s.HandleCalibrationWS)

	r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	return r
}

func (s *Server) getReading(w http.ResponseWriter, r *http.Request) {
	live, ok := s.pipeline.Live()
	if !ok {
		respondError(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, live, http.StatusOK)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipeline.Stats(r.Context(), s.now())
	if err != nil {
		log.Printf("stats: %v", err)
		respondError(w, "failed to load statistics", http.StatusInternalServerError)
		return
	}
	respondJSON(w, snap, http.StatusOK)
}

func (s *Server) registerNow(w http.ResponseWriter, r *http.Request) {
	stored, err := s.pipeline.RegisterNow(r.Context())
	if err != nil {
		log.Printf("store: register now: %v", err)
		respondError(w, "failed to store reading", http.StatusInternalServerError)
		return
	}
	if !stored {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, map[string]bool{"stored": true}, http.StatusCreated)
}

func (s *Server) calibrate(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Calibrate(r.Context()); err != nil {
		log.Printf("calibration: %v", err)
		respondError(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	state, err := batch.ParseAppState(req.State)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	// A failed flush is already logged and its rows dropped; the app
	// transition itself still succeeds.
	s.pipeline.AppState(r.Context(), state)
	w.WriteHeader(http.StatusNoContent)
}

type configValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func configKnown(key string) bool {
	return key == storage.KeySensorIP || key == storage.KeyFeedbackType
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !configKnown(key) {
		respondError(w, "unknown config key", http.StatusNotFound)
		return
	}
	value, err := s.store.GetConfig(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		if key == storage.KeyFeedbackType {
			value, err = alert.DefaultFeedback.String(), nil
		} else {
			respondError(w, "not set", http.StatusNotFound)
			return
		}
	}
	if err != nil {
		log.Printf("store: get config %s: %v", key, err)
		respondError(w, "failed to read config", http.StatusInternalServerError)
		return
	}
	respondJSON(w, configValue{Key: key, Value: value}, http.StatusOK)
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !configKnown(key) {
		respondError(w, "unknown config key", http.StatusNotFound)
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	value := req.Value
	if key == storage.KeyFeedbackType {
		fb, err := alert.ParseFeedback(value)
		if err != nil {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		value = fb.String()
	}

	if err := s.store.SetConfig(r.Context(), key, value); err != nil {
		log.Printf("store: set config %s: %v", key, err)
		respondError(w, "failed to save config", http.StatusInternalServerError)
		return
	}
	s.pipeline.RefreshConfig(r.Context())
	respondJSON(w, configValue{Key: key, Value: value}, http.StatusOK)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	u, err := s.auth.Register(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrEmailTaken):
		respondError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		log.Printf("auth: %v", err)
		respondError(w, "registration failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, u, http.StatusCreated)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	u, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		respondError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		log.Printf("auth: %v", err)
		respondError(w, "login failed", http.StatusInternalServerError)
		return
	}

	// Readings buffered so far belong to whoever was signed in before.
	s.pipeline.Flush(r.Context())
	s.session.Login(u.ID)
	log.Printf("auth: user %d signed in", u.ID)
	respondJSON(w, u, http.StatusOK)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Flush(r.Context())
	s.session.Logout()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireUser(w)
	if !ok {
		return
	}
	var req struct {
		Current string `json:"current"`
		Next    string `json:"next"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	err := s.auth.ChangePassword(r.Context(), id, req.Current, req.Next)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, auth.ErrWeakPassword):
		respondError(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		log.Printf("auth: %v", err)
		respondError(w, "password change failed", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireUser(w)
	if !ok {
		return
	}
	u, err := s.store.GetUserByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("store: get user %d: %v", id, err)
		respondError(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	respondJSON(w, u, http.StatusOK)
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireUser(w)
	if !ok {
		return
	}
	var u storage.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	u.ID = id
	if err := s.store.UpdateProfile(r.Context(), &u); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, "user not found", http.StatusNotFound)
			return
		}
		log.Printf("store: update profile %d: %v", id, err)
		respondError(w, "failed to save profile", http.StatusInternalServerError)
		return
	}
	s.getProfile(w, r)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireUser(w)
	if !ok {
		return
	}
	s.pipeline.Flush(r.Context())
	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		log.Printf("store: delete user %d: %v", id, err)
		respondError(w, "failed to delete account", http.StatusInternalServerError)
		return
	}
	s.session.Logout()
	log.Printf("auth: user %d deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) hudImage(w http.ResponseWriter, r *http.Request) {
	var state alert.HUDState
	if s.monitor != nil {
		state = alert.HUDState{Visible: s.monitor.HUDVisible(), BadFor: s.monitor.BadFor()}
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, alert.RenderHUD(state)); err != nil {
		log.Printf("hud: encode: %v", err)
	}
}

func (s *Server) requireUser(w http.ResponseWriter) (int64, bool) {
	id := s.session.UserID()
	if id == nil {
		respondError(w, "not signed in", http.StatusUnauthorized)
		return 0, false
	}
	return *id, true
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
