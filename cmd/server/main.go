package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/homeledger/internal/backend"
	"github.com/mmynk/homeledger/internal/backend/memdb"
	"github.com/mmynk/homeledger/internal/backend/server"
	"github.com/mmynk/homeledger/pkg/logging"
)

const defaultPort = "8080"

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	logging.Setup()

	db := memdb.New()
	defer db.Close()

	// Joining by creator mail needs an index on the creator field at the
	// household root.
	db.AddIndex(backend.HouseholdsPath, "creator")

	mux := http.NewServeMux()
	mux.Handle("/ws", server.Handler(db))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	addr := ":" + getEnv("PORT", defaultPort)
	slog.Info("realtime backend starting", "address", addr, "endpoint", "/ws")
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
