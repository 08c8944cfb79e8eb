package httpapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/invigilo/invigilo/internal/config"
	"github.com/invigilo/invigilo/internal/detector"
	"github.com/invigilo/invigilo/internal/observability"
	"github.com/invigilo/invigilo/internal/session"
	"github.com/invigilo/invigilo/internal/signal"
	"github.com/invigilo/invigilo/internal/store"
	"github.com/invigilo/invigilo/internal/violation"
)

const (
	maxFrameBytes = 8 << 20
	maxAudioBytes = 2 << 20
)

type Server struct {
	cfg      config.Config
	sessions *session.Registry
	faces    detector.Face
	voices   detector.Voice
	alerts   store.Store
	metrics  *observability.Metrics
	watchers *watchHub
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Registry, faces detector.Face, voices detector.Voice, alerts store.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		faces:    faces,
		voices:   voices,
		alerts:   alerts,
		metrics:  metrics,
		watchers: newWatchHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				return strings.Contains(origin, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api/anti-cheat", func(api chi.Router) {
		api.Use(s.requireBearer)
		api.Post("/session/start", s.handleStartSession)
		api.Post("/session/stop", s.handleStopSession)
		api.Post("/frame", s.handleFrame)
		api.Post("/audio", s.handleAudio)
		api.Get("/session/{id}/alerts", s.handleRecentAlerts)
		api.Get("/session/{id}/watch", s.handleWatch)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartSession(w http.ResponseWriter, _ *http.Request) {
	id := s.sessions.Create()
	s.metrics.ActiveSessions.Set(float64(s.sessions.Count()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	respondJSON(w, http.StatusOK, startResponse{SessionID: id})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if id == "" {
		var req stopRequest
		if err := decodeJSON(r, &req); err == nil {
			id = strings.TrimSpace(req.SessionID)
		}
	}
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing sessionId")
		return
	}

	if err := s.sessions.Destroy(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.watchers.closeSession(id)
	s.metrics.ActiveSessions.Set(float64(s.sessions.Count()))
	s.metrics.SessionEvents.WithLabelValues("stopped").Inc()
	respondJSON(w, http.StatusOK, stopResponse{Stopped: true})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.requireSessionID(w, r)
	if !ok {
		return
	}

	payload, contentType, ok := s.readUpload(w, r, maxFrameBytes)
	if !ok {
		return
	}
	if contentType != "image/jpeg" && contentType != "image/png" {
		respondError(w, http.StatusBadRequest, "unsupported_media_type", "Unsupported image type")
		return
	}

	res, err := s.faces.Detect(r.Context(), payload)
	if err != nil {
		s.metrics.DetectorErrors.WithLabelValues("face").Inc()
	}
	sig := signal.FaceFromDetection(res, err)

	var (
		alerts  []violation.Alert
		metrics violation.Metrics
	)
	werr := s.sessions.WithSession(sessionID, func(sess *session.Session) error {
		alerts, metrics = sess.Monitor.ProcessFrame(sig)
		return nil
	})
	if errors.Is(werr, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", werr.Error())
		return
	}

	s.metrics.FramesProcessed.Inc()
	s.recordAlerts(r.Context(), sessionID, alerts)
	respondJSON(w, http.StatusOK, composeFrameResponse(alerts, sig, metrics))
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.requireSessionID(w, r)
	if !ok {
		return
	}

	payload, contentType, ok := s.readUpload(w, r, maxAudioBytes)
	if !ok {
		return
	}
	switch contentType {
	case "", "application/octet-stream", "audio/raw", "audio/pcm":
	default:
		respondError(w, http.StatusBadRequest, "unsupported_media_type", "Unsupported audio type; expected raw PCM16 mono 16k")
		return
	}

	res, err := s.voices.Detect(r.Context(), payload)
	if err != nil {
		s.metrics.DetectorErrors.WithLabelValues("voice").Inc()
	}
	sig := signal.AudioFromDetection(res, err)

	var (
		alerts  []violation.Alert
		metrics violation.Metrics
	)
	werr := s.sessions.WithSession(sessionID, func(sess *session.Session) error {
		alerts, metrics = sess.Monitor.ProcessAudio(sig)
		return nil
	})
	if errors.Is(werr, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", werr.Error())
		return
	}

	s.metrics.AudioChunksProcessed.Inc()
	s.recordAlerts(r.Context(), sessionID, alerts)
	respondJSON(w, http.StatusOK, composeAudioResponse(alerts, metrics))
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.alerts.RecentAlerts(r.Context(), id, limit)
	if err != nil {
		log.Printf("httpapi: recent alerts lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "store_error", "could not load alerts")
		return
	}
	if records == nil {
		records = []store.AlertRecord{}
	}
	respondJSON(w, http.StatusOK, alertHistoryResponse{Alerts: records})
}

// recordAlerts persists and fans out emitted alerts. Persistence is best
// effort: a broken store must not fail the upload.
func (s *Server) recordAlerts(ctx context.Context, sessionID string, alerts []violation.Alert) {
	for _, a := range alerts {
		s.metrics.AlertsEmitted.WithLabelValues(string(a.Kind)).Inc()
		err := s.alerts.SaveAlert(ctx, store.AlertRecord{
			SessionID:      sessionID,
			Kind:           string(a.Kind),
			Message:        a.Message,
			ElapsedSeconds: a.ElapsedSeconds,
			CreatedAt:      a.At,
		})
		if err != nil {
			log.Printf("httpapi: persist alert failed: %v", err)
		}
	}
	s.watchers.publish(sessionID, alerts)
}

func (s *Server) requireSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-Session-Id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "Missing X-Session-Id header")
		return "", false
	}
	return id, true
}

// readUpload extracts the uploaded "file" part, falling back to the raw body
// for clients that post bytes directly.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_upload", "missing file part")
			return nil, "", false
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_upload", "could not read file part")
			return nil, "", false
		}
		return data, header.Header.Get("Content-Type"), true
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds limit")
		return nil, "", false
	}
	return data, r.Header.Get("Content-Type"), true
}
