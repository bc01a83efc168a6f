package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"udhaar.org/internal/feed"
	"udhaar.org/internal/httpapi"
	"udhaar.org/internal/identity"
	"udhaar.org/internal/obs"
	"udhaar.org/internal/store"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	attempts := envInt("UDHAAR_DB_RETRY_ATTEMPTS", store.DefaultAttempts)
	delay := time.Duration(envInt("UDHAAR_DB_RETRY_DELAY_MS", int(store.DefaultDelay/time.Millisecond))) * time.Millisecond

	ctx := context.Background()
	backends, err := store.Select(ctx, os.Getenv("UDHAAR_PG_DSN"), attempts, delay)
	if err != nil {
		log.Fatalf("select store: %v", err)
	}
	defer backends.Close()
	if backends.Fallback {
		logger.Println(`{"type":"store","msg":"serving from in-memory fallback; data will not persist"}`)
	}

	ready := httpapi.ReadyProbe{}
	if pg := backends.PG(); pg != nil {
		ready.DB = pg.DB()
	}

	api := httpapi.New(httpapi.Options{
		Ledger:   backends.Ledger,
		Identity: identity.NewService(backends.Identity),
		Feed:     feed.New(),
		Ready:    ready,
		Version:  version,
		Fallback: backends.Fallback,
	})

	addr := os.Getenv("UDHAAR_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// No WriteTimeout: /v1/events holds the connection open.
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting udhaar-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
