package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"edge-nvr/api"
	"edge-nvr/config"
	"edge-nvr/database"
	"edge-nvr/detection"
	"edge-nvr/logging"
	"edge-nvr/recording"
	"edge-nvr/shutdown"
	"edge-nvr/streamstate"
	"edge-nvr/supervisor"
	"edge-nvr/worker"
	"edge-nvr/wshub"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	recStore, err := recording.NewGormStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize recording store: %v", err)
	}

	detGormSink, err := detection.NewGormSink(db)
	if err != nil {
		log.Fatalf("Failed to initialize detection sink: %v", err)
	}

	// Core collaborators shared by every stream worker (§4.A, §4.B, §6)
	coordinator := shutdown.New()
	state := streamstate.New()
	hub := wshub.New(logging.New("events", ""))
	detSink := detection.NewMultiSink(detGormSink, detection.NewWsSink(hub))

	streams := make(map[string]config.StreamConfig, len(cfg.Streams))
	for _, sc := range cfg.Streams {
		if err := sc.Validate(); err != nil {
			log.Fatalf("invalid stream config %q: %v", sc.Name, err)
		}
		streams[sc.Name] = sc
	}

	factory := func(sc config.StreamConfig) supervisor.Worker {
		return worker.New(sc, worker.Deps{
			State:       state,
			Coordinator: coordinator,
			RecStore:    recStore,
			DetSink:     detSink,
			DetModel:    buildModel(sc),
			Events:      hub,
		})
	}

	sup := supervisor.New(state, coordinator, cfg.MaxStreams, factory)

	// Reconcile any recordings left dangling by an unclean shutdown, and
	// start a low-priority retention sweeper, before any worker runs
	// (§4.F "Reconciliation on startup").
	for _, sc := range cfg.Streams {
		if err := recording.ReconcileStartup(recStore, sc.Name); err != nil {
			log.Printf("reconcile %q: %v", sc.Name, err)
		}
		sweeper := recording.NewRetentionSweeper(sc.Name, recStore, sc.RetentionDays)
		go sweeper.Run(1 * time.Hour)
	}

	for _, sc := range cfg.Streams {
		if err := sup.Start(sc); err != nil {
			log.Printf("failed to start stream %q: %v", sc.Name, err)
		}
	}

	srv := api.NewServer(sup, hub, streams)
	router := api.NewRouter(srv, cfg.JWT)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutdown signal received, draining streams")
	coordinator.InitiateShutdown()
	sup.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}

// buildModel constructs the stream's detection model from its
// ModelKind/ModelRef, or nil to disable detection entirely (§4.G).
func buildModel(sc config.StreamConfig) detection.Model {
	switch sc.ModelKind {
	case config.ModelLocal:
		return detection.NewLocalModel(sc.ModelRef)
	case config.ModelRemote:
		return detection.NewRemoteModel(sc.ModelRef)
	case config.ModelOnvif:
		endpoint, creds, err := detection.DeriveOnvifEndpoint(sc.URL, sc.ModelRef, sc.OnvifPort)
		if err != nil {
			log.Printf("onvif endpoint for %q: %v", sc.Name, err)
			return nil
		}
		return detection.NewOnvifModel(endpoint, creds)
	default:
		return nil
	}
}
