package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	chronosync "github.com/chronodo/chrono-sync"
	"github.com/chronodo/chrono-sync/metrics"
	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the service config file")
	httpAddr := flag.String("http", ":8080", "listen address for the ws/metrics/health endpoints")
	flag.Parse()

	service, err := chronosync.NewService(context.Background(), *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build service: %v\n", err)
		os.Exit(1)
	}

	go serveHTTP(service, *httpAddr)

	if err := service.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "service failed: %v\n", err)
		os.Exit(1)
	}
}

// serveHTTP mounts the websocket fanout, prometheus exposition and health
// report on a plain mux. The service owns component lifecycles; this
// server just exposes them.
func serveHTTP(service *chronosync.Service, addr string) {
	mux := http.NewServeMux()

	if service.Fanout != nil {
		mux.Handle("/ws", service.Fanout)
	}

	if prom, ok := service.Metrics.(*metrics.PrometheusMetrics); ok {
		mux.Handle("/metrics", prom.Handler())
	}

	if service.Health != nil {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			report := service.Health.LastReport()

			payload, err := utils.Marshal(report)
			if err != nil {
				http.Error(w, "failed to encode health report", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			if report.Status != types.StatusHealthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			w.Write(payload)
		})
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-service.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	server.ListenAndServe()
}
