package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"speechbridge/internal/domain"
	"speechbridge/internal/session"
)

const maxBodyBytes = 8 << 20

// SpeechService is the session controller behind the HTTP binding.
type SpeechService interface {
	Start(ctx context.Context, sessionID string) (string, error)
	Audio(ctx context.Context, sessionID, audioData string) (*domain.Result, error)
	Poll(ctx context.Context, sessionID string) (*domain.Result, error)
	Stop(ctx context.Context, sessionID string) error
	Sessions() []domain.SessionInfo
	ActiveCount() int
}

// EventLog serves the lifecycle audit trail. It is optional.
type EventLog interface {
	RecentSessionEvents(ctx context.Context, sessionID string, limit int) ([]domain.SessionEvent, error)
}

type Handler struct {
	svc    SpeechService
	events EventLog
	logger *slog.Logger
}

func NewRouter(svc SpeechService, events EventLog, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{svc: svc, events: events, logger: logger.With("component", "httpapi")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": svc.ActiveCount()})
	})
	r.Get("/v1/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": svc.Sessions()})
	})
	if events != nil {
		r.Get("/v1/sessions/{sessionID}/events", h.sessionEvents)
	}
	r.Post("/api/speech/stream", h.stream)
	r.Get("/api/speech/stream", h.poll)
	return r
}

func (h *Handler) stream(w http.ResponseWriter, req *http.Request) {
	var body domain.StreamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "invalid json"})
		return
	}
	ctx := req.Context()

	switch strings.ToLower(strings.TrimSpace(body.Action)) {
	case "start":
		id, err := h.svc.Start(ctx, body.SessionID)
		if err != nil {
			h.fail(w, req, "start", body.SessionID, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.StartResponse{Status: "started", SessionID: id})
	case "audio":
		res, err := h.svc.Audio(ctx, body.SessionID, body.AudioData)
		if err != nil {
			h.fail(w, req, "audio", body.SessionID, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.AudioResponse{Status: "processing", Result: res})
	case "stop":
		if err := h.svc.Stop(ctx, body.SessionID); err != nil {
			h.fail(w, req, "stop", body.SessionID, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.StopResponse{Status: "stopped"})
	default:
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "invalid action"})
	}
}

func (h *Handler) poll(w http.ResponseWriter, req *http.Request) {
	sessionID := req.URL.Query().Get("sessionId")
	res, err := h.svc.Poll(req.Context(), sessionID)
	if err != nil {
		h.fail(w, req, "poll", sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.PollResponse{Result: res})
}

func (h *Handler) sessionEvents(w http.ResponseWriter, req *http.Request) {
	sessionID := chi.URLParam(req, "sessionID")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	events, err := h.events.RecentSessionEvents(req.Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("list session events failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "events": events})
}

func (h *Handler) fail(w http.ResponseWriter, req *http.Request, action, sessionID string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("speech request failed",
			"action", action,
			"session_id", sessionID,
			"request_id", middleware.GetReqID(req.Context()),
			"error", err,
		)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	} else {
		h.logger.Debug("speech request rejected", "action", action, "session_id", sessionID, "error", err)
	}
	writeJSON(w, status, domain.ErrorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, session.ErrAudioDecode),
		errors.Is(err, session.ErrSessionNotActive):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrRecognizerUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
