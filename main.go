package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gluk-w/claworc/sshrelay/internal/config"
	"github.com/gluk-w/claworc/sshrelay/internal/database"
	"github.com/gluk-w/claworc/sshrelay/internal/handlers"
	"github.com/gluk-w/claworc/sshrelay/internal/logging"
	"github.com/gluk-w/claworc/sshrelay/internal/middleware"
	"github.com/gluk-w/claworc/sshrelay/internal/relay"
	"github.com/gluk-w/claworc/sshrelay/internal/sshaudit"
	"github.com/gluk-w/claworc/sshrelay/internal/sshmanager"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
)

func main() {
	config.Load()
	logging.Init(config.Cfg.LogPath)
	defer logging.Close()

	// The command log is the primary audit trail; refuse to run without it.
	fileSink, err := sshaudit.NewFileSink(config.Cfg.AuditLogPath)
	if err != nil {
		log.Fatalf("Audit log init: %v", err)
	}
	defer fileSink.Close()

	if err := database.Init(config.Cfg.DBPath()); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	auditor := sshaudit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
	handlers.Auditor = auditor

	hosts, err := relay.ParseHostPolicy(config.Cfg.AllowedHosts)
	if err != nil {
		log.Fatalf("ALLOWED_HOSTS: %v", err)
	}
	if hosts.Empty() {
		log.Printf("WARNING: no ALLOWED_HOSTS configured, any upstream host is reachable")
	}

	dialer, err := sshmanager.NewSSHDialer(sshmanager.DialerOptions{
		HandshakeTimeout: config.Cfg.Handshake(),
		KnownHostsPath:   config.Cfg.KnownHostsPath,
	})
	if err != nil {
		log.Fatalf("SSH dialer init: %v", err)
	}
	if config.Cfg.KnownHostsPath == "" {
		log.Printf("WARNING: KNOWN_HOSTS_PATH not set, upstream host keys are not verified")
	}

	limiter := sshmanager.NewRateLimiter(sshmanager.RateLimitConfig{
		MaxAttemptsPerMinute: config.Cfg.RateLimitPerMinute,
		MaxConsecFailures:    config.Cfg.RateLimitMaxFailures,
		BlockDuration:        config.Cfg.RateLimitBlockDuration(),
	})
	handlers.RateLimiter = limiter

	gateway := relay.NewGateway(dialer, sshaudit.MultiSink{fileSink, auditor}, relay.Options{
		Auditor:        auditor,
		Hosts:          hosts,
		RateLimiter:    limiter,
		MaxMessageSize: config.Cfg.MaxMessageSize,
		OriginPatterns: config.Cfg.AllowedOrigins,
	})
	handlers.Gateway = gateway
	log.Printf("Relay initialized (ws=%s, audit=%s, db=%s, handshake_timeout=%s)",
		config.Cfg.WSPath, fileSink.Path(), config.Cfg.DBPath(), config.Cfg.Handshake())

	jobs := cron.New()
	if _, err := jobs.AddFunc(config.Cfg.StatsSchedule, func() {
		pruned := limiter.Prune()
		log.Printf("[relay] stats: active=%d total=%d ratelimit_keys=%d pruned=%d",
			gateway.ActiveCount(), gateway.TotalCount(), limiter.Len(), pruned)
	}); err != nil {
		log.Fatalf("STATS_SCHEDULE %q: %v", config.Cfg.StatsSchedule, err)
	}
	if _, err := jobs.AddFunc("@daily", func() {
		if _, err := auditor.PurgeOlderThan(0); err != nil {
			log.Printf("[ssh-audit] scheduled purge: %v", err)
		}
	}); err != nil {
		log.Fatalf("Audit purge job: %v", err)
	}
	jobs.Start()

	r := chi.NewRouter()
	if config.Cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.HealthCheck)
	r.Handle(config.Cfg.WSPath, gateway)

	if config.Cfg.APIToken == "" {
		log.Printf("WARNING: API_TOKEN not set, /api/v1 is unauthenticated")
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(config.Cfg.APIToken))

		r.Get("/audit", handlers.GetAuditLogs)
		r.Post("/audit/purge", handlers.PurgeAuditLogs)
		r.Get("/audit/rate-limit", handlers.GetRateLimitStatus)
		r.Get("/connections", handlers.ListConnections)
		r.Get("/logs", handlers.GetServerLogs)
	})

	// Graceful shutdown
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gateway.Shutdown(shutdownCtx); err != nil {
		log.Printf("Relay shutdown: %v", err)
	}
	<-jobs.Stop().Done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
