package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/config"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/persist"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/ws"
)

func main() {
	logger := log.Default()
	if err := config.LoadEnv(".env"); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatal(err)
	}
	flag.StringVar(&cfg.Port, "port", cfg.Port, "listen port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite snapshot database")
	flag.Parse()

	db, err := persist.Open(cfg.DBPath, persist.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	hub := ws.NewHub(cfg.Origins, store.NewMemory(), ws.HubOptions{
		Logger:        logger,
		Snapshots:     db,
		SnapshotEvery: cfg.SnapshotEvery,
	})
	docs, err := db.LoadSnapshot()
	if err != nil {
		log.Fatal(err)
	}
	if err := hub.Restore(docs); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: cors(cfg.Origins, mux)}

	go func() {
		<-ctx.Done()
		hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Info(logger, "relay listening", "port", cfg.Port, "documents", len(docs))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	<-hubDone
	logging.Info(logger, "relay stopped")
}

func cors(allow []string, next http.Handler) http.Handler {
	allowSet := map[string]struct{}{}
	for _, a := range allow {
		if a != "" {
			allowSet[a] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
