package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/handlers"
	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	"github.com/opj161/smart-comfyui-gallery/internal/media"
	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
	"github.com/opj161/smart-comfyui-gallery/internal/metrics"
	"github.com/opj161/smart-comfyui-gallery/internal/middleware"
	"github.com/opj161/smart-comfyui-gallery/internal/startup"
	syncengine "github.com/opj161/smart-comfyui-gallery/internal/sync"
	"github.com/opj161/smart-comfyui-gallery/internal/workflow"
)

func main() {
	var cfgFile, outputDir, port string

	root := &cobra.Command{
		Use:           "smartgallery",
		Short:         "Gallery index and API server for AI-generated media",
		Version:       startup.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgFile, outputDir, port)
		},
	}

	root.Flags().StringVar(&cfgFile, "config", "", "config file (default is ./config.json)")
	root.Flags().StringVar(&outputDir, "output-path", "", "media output directory to index")
	root.Flags().StringVar(&port, "port", "", "HTTP listen port")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgFile, outputDir, port string) error {
	startTime := time.Now()

	config, err := startup.LoadConfig(cfgFile, outputDir, port)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		return fmt.Errorf("initializing index store: %w", err)
	}
	defer db.Close()
	startup.LogDatabaseInit(time.Since(dbStart))

	classifier := mediatypes.NewClassifier(mediatypes.DefaultExtensions())
	prober := media.NewProber(config.FFprobePath)
	workflows := media.NewWorkflowSource(classifier, prober, config.SidecarDir)
	analyzer := media.NewAnalyzer(classifier, prober, workflows)
	thumbs := media.NewThumbnailGenerator(config.ThumbnailDir, config.ThumbnailWidth, config.ThumbnailsEnabled)

	extractor := &workflow.Extractor{
		Dimensions: func(path string) (int, int, bool) {
			return media.ImageDimensions(path)
		},
	}
	if config.DebugDir != "" {
		extractor.Debug = workflow.NewDebugSink(config.DebugDir)
		logging.Info("Workflow debug artifacts: %s", config.DebugDir)
	}

	h := handlers.New(db, nil, workflows, thumbs, classifier, config.OutputDir)
	engine := syncengine.NewEngine(db, analyzer, extractor, thumbs, syncengine.Config{
		RootDir:    config.OutputDir,
		Workers:    config.SyncWorkers,
		OnComplete: h.InvalidateQueryCaches,
	})
	h.SetEngine(engine)

	startup.LogSyncInit(engine.Workers())
	go func() {
		if _, err := engine.FullSync(context.Background()); err != nil {
			logging.Error("Initial sync failed: %v", err)
		}
		h.SetReady()
	}()

	var collector *metrics.Collector
	if config.MetricsEnabled {
		collector = metrics.NewCollector(db, 30*time.Second)
		collector.Start()
		go serveMetrics(config.MetricsPort)
	}

	router := setupRouter(h)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Compression(middleware.DefaultCompressionConfig())(
		middleware.Metrics(middleware.DefaultMetricsConfig())(
			middleware.Logger(loggingConfig)(router)))

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own lifetime
		IdleTimeout:  60 * time.Second,
	}

	go handleShutdown(srv, collector)

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/files", h.QueryFiles).Methods("GET")
	api.HandleFunc("/filters", h.GetFilterOptions).Methods("GET")
	api.HandleFunc("/folders", h.GetFolders).Methods("GET")
	api.HandleFunc("/samplers/{id}", h.GetSamplers).Methods("GET")
	api.HandleFunc("/workflow/{id}", h.GetWorkflow).Methods("GET")
	api.HandleFunc("/file/{id}", h.ServeFile).Methods("GET")
	api.HandleFunc("/thumbnail/{id}", h.GetThumbnail).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")

	api.HandleFunc("/sync", h.TriggerSync).Methods("POST")
	api.HandleFunc("/sync/folder", h.SyncFolder).Methods("GET")

	api.HandleFunc("/favorites", h.SetFavorites).Methods("POST")
	api.HandleFunc("/rename", h.RenameFile).Methods("POST")
	api.HandleFunc("/move", h.MoveFiles).Methods("POST")
	api.HandleFunc("/delete", h.DeleteFiles).Methods("POST")

	return r
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil && err != http.ErrServerClosed {
		logging.Error("Metrics server error: %v", err)
	}
}

func handleShutdown(srv *http.Server, collector *metrics.Collector) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if collector != nil {
		collector.Stop()
		startup.LogShutdownStepComplete("Metrics collector stopped")
	}

	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownComplete()
}
