package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vodgate/work/auth"
	"vodgate/work/buffer"
	"vodgate/work/config"
	"vodgate/work/convert"
	"vodgate/work/database"
	"vodgate/work/handlers"
	"vodgate/work/jobs"
	"vodgate/work/logger"
	"vodgate/work/middleware"
	"vodgate/work/probe"
	"vodgate/work/remote"
	"vodgate/work/resolve"
	"vodgate/work/stream"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// set the log level before anything chatty runs
	if cfg.Debug {
		logger.SetLevel("debug")
	} else if lvl := os.Getenv("VODGATE_LOG_LEVEL"); lvl != "" {
		logger.SetLevel(lvl)
	}

	// Initialize buffer pool
	bufferPool := buffer.NewPool(cfg.CopyBufferKB * 1024)

	// Open the job history database; the gateway still serves video
	// without it, so a failure only loses restart-surviving history
	var db *database.DB
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Warn("{main - main} Job history disabled, database unavailable: %v", err)
		db = nil
	} else {
		defer db.Close()
	}

	// Initialize the worker pool backed job tracker
	tracker, err := jobs.NewTracker(cfg.WorkerThreads, db)
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer tracker.Close()

	// Initialize the SSH connection manager
	runner := remote.NewManager(cfg)
	defer runner.Close()

	// Create the domain services
	prober := probe.NewProber(cfg, runner)
	engine := convert.NewEngine(cfg, runner)
	streamer := stream.NewStreamer(cfg, runner, bufferPool)

	gateway := &handlers.Gateway{
		Config:    cfg,
		Runner:    runner,
		Verifier:  auth.NewJWTVerifier(cfg.AuthSecret),
		Resolver:  resolve.NewResolver(cfg.ContentRoot),
		Prober:    prober,
		Engine:    engine,
		Streamer:  streamer,
		Tracker:   tracker,
		DB:        db,
		StartTime: time.Now(),
	}

	// Setup HTTP routes
	router := mux.NewRouter()

	// Video byte delivery, with Range support
	router.HandleFunc("/stream/{videoId}", handlers.HandleStream(gateway)).Methods("GET", "HEAD")

	// Media metadata and compatibility verdict
	router.HandleFunc("/info/{videoId}", middleware.Gzip(handlers.HandleInfo(gateway))).Methods("GET")

	// Background transcode submission
	router.HandleFunc("/convert/{videoId}", handlers.HandleConvert(gateway)).Methods("POST")

	// Poster frame capture
	router.HandleFunc("/thumbnail/{videoId}", handlers.HandleThumbnail(gateway)).Methods("GET")

	// Job state polling
	router.HandleFunc("/jobs/{id}", middleware.Gzip(handlers.HandleJob(gateway))).Methods("GET")

	// CORS preflights for the browser players
	router.PathPrefix("/").HandlerFunc(handlers.HandleOptions()).Methods("OPTIONS")

	// Operational endpoints
	router.HandleFunc("/healthz", handlers.HandleHealthz()).Methods("GET")
	router.HandleFunc("/stats", middleware.Gzip(handlers.HandleStats(gateway))).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("{main - main} Starting VODGate %s", Version)
	logger.Info("{main - main} Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Content Root: %s", cfg.ContentRoot)
	logger.Info("  - Hosts: %d", len(cfg.Hosts))
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Bitrate Ceiling: %d kbps", cfg.BitrateCeilingKbps)
	logger.Info("  - Copy Buffer: %d KB", cfg.CopyBufferKB)
	logger.Info("  - Probe Cache Enabled: %v", cfg.ProbeCacheEnabled)
	logger.Info("  - Probe Cache Duration: %s", cfg.ProbeCacheDuration)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - Path Obfuscation: %v", cfg.ObfuscatePaths)

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
