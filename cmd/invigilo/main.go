package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/invigilo/invigilo/internal/config"
	"github.com/invigilo/invigilo/internal/detector"
	"github.com/invigilo/invigilo/internal/httpapi"
	"github.com/invigilo/invigilo/internal/observability"
	"github.com/invigilo/invigilo/internal/session"
	"github.com/invigilo/invigilo/internal/store"
	"github.com/invigilo/invigilo/internal/violation"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	alertStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("alert store init failed: %v", err)
	}
	defer alertStore.Close()
	if cfg.DatabaseURL != "" {
		log.Printf("alert store: postgres")
	} else {
		log.Printf("alert store: in-memory")
	}

	var faces detector.Face
	if cfg.FaceDetectorURL != "" {
		faces = detector.NewRemoteFace(cfg.FaceDetectorURL)
		log.Printf("face detector: remote (%s)", cfg.FaceDetectorURL)
	} else {
		faces = detector.NewMockFace()
		log.Printf("face detector: mock (FACE_DETECTOR_URL not set)")
	}

	var voices detector.Voice
	if cfg.VoiceDetectorURL != "" {
		voices = detector.NewRemoteVoice(cfg.VoiceDetectorURL)
		log.Printf("voice detector: remote (%s)", cfg.VoiceDetectorURL)
	} else {
		vad, err := detector.NewLocalVAD(cfg.VADAggressiveness)
		if err != nil {
			log.Fatalf("local vad init failed: %v", err)
		}
		voices = vad
		log.Printf("voice detector: local vad (aggressiveness %d)", cfg.VADAggressiveness)
	}

	sessions := session.NewRegistry(violation.Config{
		LookAwayThresholdDegrees: cfg.LookAwayThresholdDegrees,
		LookAwayDuration:         cfg.LookAwayDuration,
		FaceAbsenceThreshold:     cfg.FaceAbsenceThreshold,
		AlertCooldown:            cfg.AlertCooldown,
		StartupGracePeriod:       cfg.StartupGracePeriod,
	}, cfg.SessionIdleTimeout)
	sessions.SetEvictHook(func(info session.Info) {
		log.Printf("session %s reaped after idle timeout", info.ID)
		metrics.SessionEvents.WithLabelValues("reaped").Inc()
		metrics.ActiveSessions.Set(float64(sessions.Count()))
	})

	api := httpapi.New(cfg, sessions, faces, voices, alertStore, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartReaper(runCtx, cfg.ReaperInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
