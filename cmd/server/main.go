// The server command runs the demo analytics backend the chartfeed library
// fetches from: four chart endpoints over seeded synthetic datasets, with
// optional server-side aggregation and a websocket pushing invalidation
// hints whenever the data is reseeded.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/chartfeed/chartfeed/pkg/config"
	"github.com/chartfeed/chartfeed/pkg/logger"
	"github.com/chartfeed/chartfeed/pkg/store"
	badgerstore "github.com/chartfeed/chartfeed/pkg/store/badger"
	"github.com/chartfeed/chartfeed/pkg/store/memory"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is fine; the defaults below cover local runs.
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: envOr("LOG_FORMAT", "text"),
	})
	if err != nil {
		panic(err)
	}

	st, persistent := openStore(log)
	defer st.Close()

	seedDays := envInt("CHARTFEED_SEED_DAYS", config.DefaultSeedDays)
	ctx := context.Background()
	if needsSeed(ctx, st) {
		log.WithField("days", seedDays).Info("seeding demo datasets")
		if err := seed(ctx, st, seedDays); err != nil {
			log.WithError(err).Fatal("seeding failed")
		}
	}

	hub := newInvalidationHub(log)
	srv := &server{store: st, hub: hub, log: log}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	for _, dataset := range []string{"sales", "kpis", "inventory", "dashboard"} {
		api.HandleFunc("/"+dataset, srv.handleDataset(dataset)).Methods(http.MethodGet)
	}
	api.HandleFunc("/reseed", srv.handleReseed(seedDays)).Methods(http.MethodPost)
	r.HandleFunc("/ws/invalidations", hub.handleWS)
	r.HandleFunc("/health", srv.handleHealth).Methods(http.MethodGet)

	port := envOr("PORT", config.DefaultPort)
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":       port,
			"persistent": persistent,
		}).Info("chartfeed demo backend listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.closeAll(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
	}
}

// openStore picks badger when a data dir is configured, memory otherwise.
func openStore(log *logrus.Logger) (store.Store, bool) {
	dataDir := os.Getenv("CHARTFEED_DATA_DIR")
	if dataDir == "" {
		return memory.New(), false
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create data directory")
	}
	st, err := badgerstore.New(badgerstore.Config{Path: dataDir})
	if err != nil {
		log.WithError(err).Fatal("failed to open badger store")
	}
	return st, true
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func needsSeed(ctx context.Context, st store.Store) bool {
	datasets, err := st.Datasets(ctx)
	return err == nil && len(datasets) == 0
}
