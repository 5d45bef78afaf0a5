package main

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/codedeck/backend/internal/api"
	"github.com/codedeck/backend/internal/config"
	"github.com/codedeck/backend/internal/execute"
	"github.com/codedeck/backend/internal/history"
	"github.com/codedeck/backend/internal/identity"
	"github.com/codedeck/backend/internal/ratelimit"
	"github.com/codedeck/backend/internal/room"
	"github.com/codedeck/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	runs, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		slog.Error("failed to open history store", "err", err)
		os.Exit(1)
	}
	defer runs.Close()

	retention := history.NewRetention(runs, history.RetentionConfig{
		Interval:    cfg.HistoryPruneInterval,
		KeepPerRoom: cfg.HistoryKeepPerRoom,
	})
	retention.Start()

	registry := identity.NewRegistry()
	rooms := room.NewStore()

	hub := ws.NewHub(registry, rooms)
	go hub.Run()

	relay := execute.NewRelay(execute.Settings{
		ClientID:     cfg.JDoodleClientID,
		ClientSecret: cfg.JDoodleClientSecret,
		URL:          cfg.JDoodleURL,
		Timeout:      cfg.ExecuteTimeout,
	}, rooms, hub, runs)
	runLimiters := ratelimit.NewKeyedLimiters(cfg.RunPerMinute/60, cfg.RunBurst)
	apiHandler := api.New(hub, relay, runs, runLimiters)

	pumpLimits := ws.PumpLimits{
		MessagesPerSecond: cfg.WSMessagesPerSecond,
		MessageBurst:      cfg.WSMessageBurst,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, pumpLimits, w, r)
	})
	mux.HandleFunc("/run", apiHandler.RunHandler)
	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.HandleFunc("/api/runs", apiHandler.RunsHandler)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: corsMiddleware(mux),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		slog.Info("shutting down")
		retention.Stop()
		runs.Close()
		os.Exit(0)
	}()

	slog.Info("server starting", "port", cfg.Port)
	slog.Info("endpoints",
		"ws", "/ws",
		"run", "POST /run",
		"health", "GET /health",
		"stats", "GET /api/stats",
		"runs", "GET /api/runs?room_id={id}")

	if err := server.ListenAndServe(); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
