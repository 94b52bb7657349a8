package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/dispatch"
	"notification-workers/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		if err := s.deps.Checks[name](ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respond(w, r, status, map[string]interface{}{"ready": ready, "checks": checks})
}

func (s *Server) handleTrackingWebhook(w http.ResponseWriter, r *http.Request) {
	var event models.TrackingEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, r, apperrors.NewInvalidInputError("malformed tracking payload: "+err.Error()))
		return
	}
	if err := validate.Struct(event); err != nil {
		respondError(w, r, apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if !s.tracking.enqueue(event) {
		respondErrorStatus(w, r, http.StatusServiceUnavailable, apperrors.NewTimeoutError("tracking queue", nil))
		return
	}
	respond(w, r, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (s *Server) handleChannelHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, s.deps.Channels.GetAllChannelHealth())
}

func (s *Server) handleChannelStats(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, s.deps.Channels.GetStats())
}

func (s *Server) handleChannelReset(w http.ResponseWriter, r *http.Request) {
	ch := models.Channel(chi.URLParam(r, "channel"))
	if err := s.deps.Channels.ResetChannelHealth(ch); err != nil {
		respondError(w, r, err)
		return
	}
	s.logger.Info("Channel health reset", map[string]interface{}{"channel": ch})
	respond(w, r, http.StatusOK, map[string]interface{}{"channel": ch, "reset": true})
}

func (s *Server) handleTemplateMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Templates == nil {
		respondError(w, r, apperrors.NewInvalidInputError("template service not configured"))
		return
	}
	respond(w, r, http.StatusOK, map[string]interface{}{
		"operations": s.deps.Templates.GetPerformanceMetrics(),
		"cacheSize":  s.deps.Templates.CacheSize(),
	})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		respondError(w, r, apperrors.NewInvalidInputError("dispatch not enabled"))
		return
	}
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, apperrors.NewInvalidInputError("malformed notification request: "+err.Error()))
		return
	}
	result, err := s.deps.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, result)
}

func (s *Server) handleNotificationEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		respondError(w, r, apperrors.NewInvalidInputError("delivery audit not enabled"))
		return
	}
	size := 100
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, r, apperrors.NewInvalidInputError("size must be a positive integer"))
			return
		}
		size = n
	}
	events, err := s.deps.Audit.EventsForNotification(r.Context(), chi.URLParam(r, "id"), size)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, events)
}
