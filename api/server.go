// Package api is the HTTP facade of the hub. It translates external requests
// into registry and bus operations; all domain logic lives behind it.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wirehome/core"
	"github.com/wirehome/core/componentgroups"
	"github.com/wirehome/core/components"
	"github.com/wirehome/core/config"
	"github.com/wirehome/core/messagebus"
	"github.com/wirehome/core/repository"
	"github.com/wirehome/core/systemstatus"
)

// Deps are the collaborators the HTTP facade exposes.
type Deps struct {
	Components      *components.Registry
	ComponentGroups *componentgroups.Registry
	Bus             *messagebus.MessageBus
	Status          *systemstatus.Service
	Notifications   *Notifications
	Gatherer        prometheus.Gatherer
	Logger          wirehome.Logger
}

// Server hosts the HTTP API.
type Server struct {
	cfg    config.APIConfig
	deps   Deps
	router chi.Router
	logger wirehome.Logger
}

// NewServer builds the router and wires all endpoints.
func NewServer(cfg config.APIConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = wirehome.NewSlogLogger(nil)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler, usable directly in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "address", s.cfg.Address)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Std())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return server.Close()
	}
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/areas", s.handleGetAreas)

		r.Get("/components", s.handleGetComponents)
		r.Route("/components/{uid}", func(r chi.Router) {
			r.Get("/", s.handleGetComponent)
			r.Get("/settings/{settingUID}", s.handleGetComponentSetting)
			r.Post("/settings/{settingUID}", s.handleSetComponentSetting)
			r.Delete("/settings/{settingUID}", s.handleRemoveComponentSetting)
			r.Get("/status/{statusUID}", s.handleGetComponentStatus)
			r.Post("/status/{statusUID}", s.handleSetComponentStatus)
		})

		r.Get("/component_groups", s.handleGetComponentGroups)
		r.Route("/component_groups/{uid}", func(r chi.Router) {
			r.Get("/", s.handleGetComponentGroup)
			r.Post("/components/{componentUID}", s.handleAssignComponent)
			r.Delete("/components/{componentUID}", s.handleUnassignComponent)
			r.Post("/macros/{macroUID}", s.handleAssignMacro)
			r.Delete("/macros/{macroUID}", s.handleUnassignMacro)
			r.Get("/settings/{settingUID}", s.handleGetGroupSetting)
			r.Post("/settings/{settingUID}", s.handleSetGroupSetting)
			r.Delete("/settings/{settingUID}", s.handleRemoveGroupSetting)
		})

		r.Get("/repository/{uid}/{filename}", s.handleRepositoryFileURI)

		r.Get("/global_variables", s.handleGetGlobalVariables)
		r.Get("/system/status", s.handleGetSystemStatus)

		r.Get("/notifications", s.handleGetNotifications)
		r.Post("/notifications", s.handlePublishNotification)
		r.Delete("/notifications/{uid}", s.handleDeleteNotification)

		r.Post("/message_bus/wait_for", s.handleWaitFor)
		r.Get("/message_bus/history", s.handleHistory)
		r.Get("/message_bus/stream", s.handleStream)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleGetAreas(w http.ResponseWriter, r *http.Request) {
	// Areas are the polling client's view of component groups.
	s.writeJSON(w, http.StatusOK, s.deps.ComponentGroups.GetComponentGroups())
}

func (s *Server) handleGetComponents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Components.GetComponents())
}

func (s *Server) handleGetComponent(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Components.GetComponent(chi.URLParam(r, "uid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetComponentSetting(w http.ResponseWriter, r *http.Request) {
	value, err := s.deps.Components.GetSetting(chi.URLParam(r, "uid"), chi.URLParam(r, "settingUID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleSetComponentSetting(w http.ResponseWriter, r *http.Request) {
	var value wirehome.Value
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := s.deps.Components.SetSetting(chi.URLParam(r, "uid"), chi.URLParam(r, "settingUID"), value); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveComponentSetting(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Components.RemoveSetting(chi.URLParam(r, "uid"), chi.URLParam(r, "settingUID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetComponentStatus(w http.ResponseWriter, r *http.Request) {
	value, err := s.deps.Components.GetStatus(chi.URLParam(r, "uid"), chi.URLParam(r, "statusUID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleSetComponentStatus(w http.ResponseWriter, r *http.Request) {
	var value wirehome.Value
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := s.deps.Components.SetStatus(chi.URLParam(r, "uid"), chi.URLParam(r, "statusUID"), value); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetComponentGroups(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.ComponentGroups.GetComponentGroups())
}

func (s *Server) handleGetComponentGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.ComponentGroups.GetComponentGroup(chi.URLParam(r, "uid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleAssignComponent(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.ComponentGroups.AssignComponent(chi.URLParam(r, "uid"), chi.URLParam(r, "componentUID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnassignComponent(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.ComponentGroups.UnassignComponent(chi.URLParam(r, "uid"), chi.URLParam(r, "componentUID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignMacro(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.ComponentGroups.AssignMacro(chi.URLParam(r, "uid"), chi.URLParam(r, "macroUID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnassignMacro(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.ComponentGroups.UnassignMacro(chi.URLParam(r, "uid"), chi.URLParam(r, "macroUID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetGroupSetting(w http.ResponseWriter, r *http.Request) {
	value, err := s.deps.ComponentGroups.GetComponentGroupSetting(chi.URLParam(r, "uid"), chi.URLParam(r, "settingUID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleSetGroupSetting(w http.ResponseWriter, r *http.Request) {
	var value wirehome.Value
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := s.deps.ComponentGroups.SetComponentGroupSetting(chi.URLParam(r, "uid"), chi.URLParam(r, "settingUID"), value); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveGroupSetting(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.ComponentGroups.RemoveComponentGroupSetting(chi.URLParam(r, "uid"), chi.URLParam(r, "settingUID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRepositoryFileURI(w http.ResponseWriter, r *http.Request) {
	uri, err := repository.FileURI(chi.URLParam(r, "uid"), chi.URLParam(r, "filename"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"uri": uri})
}

func (s *Server) handleGetGlobalVariables(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Status.Snapshot())
}

func (s *Server) handleGetSystemStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message_bus":      s.deps.Bus.Stats(),
		"components":       len(s.deps.Components.GetComponentUids()),
		"component_groups": len(s.deps.ComponentGroups.GetComponentGroupUids()),
	})
}

func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Notifications.List())
}

func (s *Server) handlePublishNotification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type    string         `json:"type"`
		Message string         `json:"message"`
		Payload wirehome.Value `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	entry := s.deps.Notifications.Publish(body.Type, body.Message, body.Payload)
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Notifications.Delete(chi.URLParam(r, "uid")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWaitFor implements the long-poll contract: the body is a JSON array
// of filter objects, timeout (seconds) and last_timestamp come from the
// query string. The response is the possibly empty array of matched
// messages.
func (s *Server) handleWaitFor(w http.ResponseWriter, r *http.Request) {
	var filters messagebus.FilterList
	if err := json.NewDecoder(r.Body).Decode(&filters); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON array of filter objects"})
		return
	}

	timeout := time.Duration(0)
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid timeout"})
			return
		}
		timeout = time.Duration(seconds * float64(time.Second))
	}

	var since int64
	if raw := r.URL.Query().Get("last_timestamp"); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid last_timestamp"})
			return
		}
		since = value
	}

	messages := s.deps.Bus.WaitAsync(r.Context(), filters, since, timeout)
	if messages == nil {
		messages = []messagebus.Message{}
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = value
	}
	messages := s.deps.Bus.History(limit)
	if messages == nil {
		messages = []messagebus.Message{}
	}
	s.writeJSON(w, http.StatusOK, messages)
}
