package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/taskbucket/internal/taskbucket"
)

// newAdminServer builds the admin HTTP server exposed alongside a running
// worker: /healthz for liveness, /metrics for Prometheus scraping, /stats
// for a quick human-readable counter dump, /active for whether a worker is
// actually draining the bucket.
func newAdminServer(addr string, reg *prometheus.Registry, b *taskbucket.Bucket) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		count, err := b.GetTaskCount(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		busy, err := b.IsBusy(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"taskCount": count,
			"busy":      busy,
		})
	})

	mux.HandleFunc("/active", func(w http.ResponseWriter, r *http.Request) {
		// CheckActive polls for up to CheckActiveAmount*CheckActiveDelay, so
		// bound it well under typical scrape/request timeouts.
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		active, err := b.CheckActive(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"active": active})
	})

	return &http.Server{Addr: addr, Handler: mux}
}
