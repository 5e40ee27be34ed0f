package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/midea/internal/config"
	"github.com/joshp123/midea/internal/core"
	"github.com/joshp123/midea/internal/plugins"
	"github.com/joshp123/midea/internal/router"
	"github.com/joshp123/midea/internal/server"
)

const healthSyncInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", envOrDefault("MIDEA_CONFIG", config.DefaultPath), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	active := plugins.Compiled(ctx, cfg)
	if len(active) == 0 {
		log.Fatalf("no plugins configured")
	}
	for _, p := range active {
		if p.Health() == core.HealthError {
			log.Printf("%s plugin unhealthy: %s", p.ID(), p.HealthMessage())
		}
	}
	if err := core.ValidatePlugins(active); err != nil {
		log.Fatalf("validate plugins: %v", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	healthServer := router.RegisterPlugins(grpcServer.Server, active)

	metricsRegistry := core.MetricsRegistry(active, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "midea_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	httpMux := http.NewServeMux()
	httpMux.Handle("/health", server.HealthHandler(active))
	httpMux.Handle("/metrics", server.MetricsHandler(metricsRegistry))
	for _, p := range active {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(httpMux)
		}
	}
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, httpMux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("http listening on %s", cfg.Core.HTTPAddr)
		return httpServer.ListenAndServe()
	})
	g.Go(func() error {
		log.Printf("grpc listening on %s", grpcServer.Listener.Addr())
		return grpcServer.Serve()
	})
	for _, p := range active {
		if runner, ok := p.(core.Runner); ok {
			g.Go(func() error { return runner.Run(gctx) })
		}
	}
	g.Go(func() error {
		ticker := time.NewTicker(healthSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				core.SyncHealth(healthServer, active)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.Stop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("midea: %v", err)
	}
	log.Printf("midea: shut down")
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
