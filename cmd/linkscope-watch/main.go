/*
 * Copyright 2026 LinkScope Contributors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command linkscope-watch follows the realtime device feed of a LinkScope
// backend, either as a live terminal table or as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linkscope/linkscope-go/pkg/config"
	"github.com/linkscope/linkscope-go/pkg/devices"
	"github.com/linkscope/linkscope-go/pkg/feed"
	"github.com/linkscope/linkscope-go/pkg/logger"
	"github.com/linkscope/linkscope-go/pkg/models"
	"github.com/linkscope/linkscope-go/pkg/snapshot"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to JSON config file")
		apiURL      = flag.String("api", "", "Backend base URL (overrides config)")
		wsURL       = flag.String("ws", "", "Stream URL (overrides config)")
		scanRange   = flag.String("scan", "", "Trigger a scan of this address range on startup")
		plain       = flag.Bool("plain", false, "Print snapshots as JSON lines instead of the TUI")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if *apiURL != "" {
		cfg.APIURL = *apiURL
		cfg.Feed.StreamURL = ""
		cfg.Normalize()
	}

	if *wsURL != "" {
		cfg.Feed.StreamURL = *wsURL
	}

	cfg.Logging.Debug = cfg.Logging.Debug || *debug
	if !*plain {
		// Keep the TUI free of interleaved log output.
		cfg.Logging.Output = "stderr"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	client, err := devices.NewClient(cfg.APIURL, nil, log.WithComponent("devices"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create devices client")
	}

	registry := prometheus.NewRegistry()
	store := snapshot.NewStore(log.WithComponent("snapshot"))

	manager, err := feed.NewManager(&cfg.Feed, store, feed.Options{
		Prober:  client,
		Fetcher: client,
		Scanner: client,
		Metrics: feed.NewMetrics(registry),
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create feed manager")
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry, log)
	}

	manager.Start()
	defer manager.Stop()

	if *scanRange != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := manager.TriggerScan(ctx, *scanRange); err != nil {
			log.Warn().Err(err).Str("ip_range", *scanRange).Msg("Scan trigger failed")
		}

		cancel()
	}

	if *plain {
		runPlain(manager, store, log)
		return
	}

	if err := runTUI(manager, store); err != nil {
		log.Fatal().Err(err).Msg("TUI failed")
	}
}

// runPlain streams every snapshot to stdout as a JSON line until interrupted.
func runPlain(manager *feed.Manager, store *snapshot.Store, log logger.Logger) {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	updates := store.Subscribe()
	defer store.Unsubscribe(updates)

	enc := json.NewEncoder(os.Stdout)

	for {
		select {
		case devs := <-updates:
			status := manager.Status()
			line := struct {
				State   string          `json:"state"`
				Devices []models.Device `json:"devices"`
			}{State: status.State.String(), Devices: devs}

			if err := enc.Encode(line); err != nil {
				log.Error().Err(err).Msg("Failed to encode snapshot")
			}
		case <-interrupt:
			log.Info().Msg("Interrupted, shutting down")
			return
		}
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log.Info().Str("addr", addr).Msg("Serving metrics")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}
