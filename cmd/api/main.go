package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citykey.org/internal/access"
	"citykey.org/internal/audit"
	"citykey.org/internal/httpapi"
	"citykey.org/internal/obs"
	"citykey.org/internal/session"
	"citykey.org/internal/store/pg"
	"citykey.org/internal/stream"
	"citykey.org/internal/sweep"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("CITYKEY_PG_DSN")
	if dsn == "" {
		log.Fatal("CITYKEY_PG_DSN is required")
	}
	secret := os.Getenv("CITYKEY_AUTH_SECRET")
	if secret == "" {
		log.Fatal("CITYKEY_AUTH_SECRET is required")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var sessionOpts []session.Option
	if ttl := os.Getenv("CITYKEY_ACCESS_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			log.Fatalf("parse CITYKEY_ACCESS_TTL: %v", err)
		}
		sessionOpts = append(sessionOpts, session.WithAccessTTL(d))
	}
	if ttl := os.Getenv("CITYKEY_REFRESH_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			log.Fatalf("parse CITYKEY_REFRESH_TTL: %v", err)
		}
		sessionOpts = append(sessionOpts, session.WithRefreshTTL(d))
	}

	sessions, err := session.NewService([]byte(secret), store, store, sessionOpts...)
	if err != nil {
		log.Fatalf("session service: %v", err)
	}

	hub := stream.NewHub()
	recorder := audit.NewRecorder(store)
	engine := access.NewEngine(store,
		access.WithNotifier(hub),
		access.WithAuditSink(recorder),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sweepOpts []sweep.Option
	if raw := os.Getenv("CITYKEY_CREDENTIAL_SWEEP_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse CITYKEY_CREDENTIAL_SWEEP_INTERVAL: %v", err)
		}
		sweepOpts = append(sweepOpts, sweep.WithCredentialInterval(d))
	}
	if raw := os.Getenv("CITYKEY_TOKEN_PURGE_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse CITYKEY_TOKEN_PURGE_INTERVAL: %v", err)
		}
		sweepOpts = append(sweepOpts, sweep.WithPurgeInterval(d))
	}
	sweeper := sweep.NewRunner(store, recorder, sweepOpts...)
	go sweeper.Run(ctx)

	api := httpapi.New(httpapi.Config{
		Engine:     engine,
		Store:      store,
		Sessions:   sessions,
		Recorder:   recorder,
		Hub:        hub,
		ReadyProbe: httpapi.ReadyProbe{DB: store.DB()},
		Version:    version,
	})

	addr := os.Getenv("CITYKEY_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting citykey-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
