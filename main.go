package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/shellmux/shellmux/internal/collab"
	"github.com/shellmux/shellmux/internal/config"
	"github.com/shellmux/shellmux/internal/connection"
	"github.com/shellmux/shellmux/internal/events"
	"github.com/shellmux/shellmux/internal/handlers"
	"github.com/shellmux/shellmux/internal/logging"
	"github.com/shellmux/shellmux/internal/profiles"
	"github.com/shellmux/shellmux/internal/registry"
	"github.com/shellmux/shellmux/internal/scheduler"
)

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func main() {
	config.Load()
	logging.Init()

	if err := profiles.Init(); err != nil {
		log.Fatalf("Profile store init: %v", err)
	}
	defer profiles.Close()

	bus := events.NewBus()
	sched := scheduler.NewReal()

	manager := connection.NewManager(bus, connection.Options{
		RateLimitAttempts:   config.Cfg.RateLimitAttempts,
		RateLimitWindow:     parseDuration(config.Cfg.RateLimitWindow, 300*time.Second),
		ConnectTimeout:      parseDuration(config.Cfg.ConnectTimeout, connection.DefaultConnectTimeout),
		InactivityThreshold: parseDuration(config.Cfg.InactivityThreshold, connection.DefaultInactivityThreshold),
	})
	tabs := registry.New(manager, bus, config.Cfg.MaxTabs, config.Cfg.ScrollbackSize)
	hub := collab.NewHub(bus, sched, collab.Options{
		HeartbeatInterval:    parseDuration(config.Cfg.HeartbeatInterval, collab.DefaultHeartbeatInterval),
		ReconnectBaseDelay:   parseDuration(config.Cfg.ReconnectBaseDelay, collab.DefaultReconnectBaseDelay),
		ReconnectMaxAttempts: config.Cfg.ReconnectMaxAttempts,
		ThrottleWindow:       parseDuration(config.Cfg.CursorThrottleWindow, collab.DefaultThrottleWindow),
	})

	handlers.Sessions = manager
	handlers.Tabs = tabs
	handlers.Collab = hub

	// Periodic inactivity sweep. The registry listens for the resulting
	// disconnect events and drops the swept sessions' tabs.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(config.Cfg.InactivitySweepSpec, func() {
		if n := manager.CleanupInactiveSessions(); n > 0 {
			log.Printf("Swept %d inactive sessions", n)
		}
	}); err != nil {
		log.Fatalf("Invalid sweep spec %q: %v", config.Cfg.InactivitySweepSpec, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tabs", handlers.ListTabs)
		r.Post("/tabs", handlers.CreateTab)
		r.Post("/tabs/{tabID}/connect", handlers.ConnectTab)
		r.Post("/tabs/{tabID}/activate", handlers.ActivateTab)
		r.Delete("/tabs/{tabID}", handlers.CloseTab)
		r.Get("/tabs/{tabID}/terminal", handlers.TabTerminalWS)

		r.Get("/sessions/{sessionID}/metrics", handlers.SessionMetrics)
		r.Get("/sessions/{sessionID}/events", handlers.SessionEvents)
		r.Post("/sessions/{sessionID}/mobile", handlers.OptimizeMobile)

		r.Get("/profiles", handlers.ListProfiles)
		r.Post("/profiles", handlers.CreateProfile)
		r.Put("/profiles/{id}", handlers.UpdateProfile)
		r.Delete("/profiles/{id}", handlers.DeleteProfile)
		r.Post("/profiles/{id}/connect", handlers.ConnectProfile)

		r.Get("/collab/status", handlers.CollabStatus)
		r.Post("/collab/connect", handlers.CollabConnect)
		r.Post("/collab/disconnect", handlers.CollabDisconnect)
		r.Post("/collab/sessions", handlers.CollabCreateSession)
		r.Post("/collab/sessions/join", handlers.CollabJoinSession)
		r.Post("/collab/sessions/leave", handlers.CollabLeaveSession)

		r.Get("/logs", handlers.GetServerLogs)
		r.Delete("/logs", handlers.ClearServerLogs)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	hub.Disconnect()
	for _, tab := range tabs.AllTabs() {
		tabs.CloseTab(tab.ID)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
