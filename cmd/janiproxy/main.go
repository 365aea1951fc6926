package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/runixer/janiproxy/internal/app"
	"github.com/runixer/janiproxy/internal/config"
	"github.com/runixer/janiproxy/internal/upstream"
	"github.com/runixer/janiproxy/internal/web"
)

var Version = "dev"

const defaultHealthcheckPort = "9090"

var buildInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "janiproxy",
		Name:      "build_info",
		Help:      "Build information with version and Go runtime details",
	},
	[]string{"version", "go_version"},
)

func init() {
	buildInfo.WithLabelValues(Version, runtime.Version()).Set(1)
}

// healthcheckURL resolves the port from the config file, then the
// environment, then the default.
func healthcheckURL(configPath string) string {
	port := defaultHealthcheckPort
	cfg, err := config.Load(configPath)
	if err == nil && cfg.Server.ListenPort != "" {
		port = cfg.Server.ListenPort
	} else if envPort := os.Getenv("JANIPROXY_SERVER_PORT"); envPort != "" {
		port = envPort
	}
	return fmt.Sprintf("http://localhost:%s/healthz", port)
}

func runHealthcheck(url string) int {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Healthcheck failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Healthcheck returned status: %d\n", resp.StatusCode)
		return 1
	}
	return 0
}

func main() {
	// JSON logging at INFO until the config tells us the level.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := app.LoadEnv(); err != nil {
		slog.Warn("failed to load .env, relying on environment variables", "error", err)
	}

	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	healthcheck := flag.Bool("healthcheck", false, "run healthcheck and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("janiproxy", Version)
		os.Exit(0)
	}

	if *healthcheck {
		os.Exit(runHealthcheck(healthcheckURL(*configPath)))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)
	logger.Info("Config loaded successfully",
		"upstream", cfg.Upstream.BaseURL,
		"model_override", cfg.Upstream.Model != "",
		"debug_mode", cfg.Server.DebugMode,
	)

	store, err := app.OpenStore(logger, cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("Database initialized successfully.", "path", cfg.Database.Path)

	services, err := app.SetupServices(logger, cfg)
	if err != nil {
		logger.Error("failed to set up services", "error", err)
		os.Exit(1)
	}

	client, err := upstream.NewClient(logger, cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.ProxyURL, cfg.Upstream.GetTimeout())
	if err != nil {
		logger.Error("failed to create upstream client", "error", err)
		os.Exit(1)
	}

	webServer, err := web.NewServer(logger, cfg, store, services.Pipeline, client)
	if err != nil {
		logger.Error("failed to create web server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srvDone := make(chan struct{})
	go func() {
		defer close(srvDone)
		if err := webServer.Start(ctx); err != nil {
			logger.Error("web server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("Starting janiproxy", "version", Version, "addr", cfg.ListenAddr())

	<-ctx.Done()
	logger.Info("Shutting down...")

	<-srvDone
	logger.Info("Web server stopped")
}
