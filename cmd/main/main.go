package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"event-ingestor/src/bridge"
	"event-ingestor/src/config"
	"event-ingestor/src/grpc_control"
	"event-ingestor/src/logger"
	"event-ingestor/src/rest"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(config.LogLevel, config.Name)

	// Create bridge from config
	bridgeService, err := bridge.NewBridge(config, appLogger)
	if err != nil {
		appLogger.Critical("failed to create bridge: %v", err)
		os.Exit(1)
	}
	defer bridgeService.Stop()

	// Create control service
	controlService, err := grpc_control.NewGRPCService(config, appLogger, bridgeService)
	if err != nil {
		appLogger.Critical("failed to create control service: %v", err)
		os.Exit(1)
	}
	defer controlService.Stop(context.Background())

	// Start REST API server
	go func() {
		appLogger.Info("starting REST API server on :%d", config.Port)
		if err := startAPIServer(bridgeService, appLogger, config.Port); err != nil && err != http.ErrServerClosed {
			appLogger.Error("REST API server error: %v", err)
			os.Exit(1)
		}
	}()

	// Start gRPC control server
	go func() {
		appLogger.Info("starting gRPC control service on %s:%d", config.GRPC_Host, config.GRPC_Port)
		if err := controlService.Start(); err != nil {
			appLogger.Critical("control server error: %v", err)
			os.Exit(1)
		}
	}()

	// Start bridge
	if err := bridgeService.Start(); err != nil {
		appLogger.Critical("failed to start bridge: %v", err)
		os.Exit(1)
	}

	appLogger.Info("event ingestor running. REST API: :%d, gRPC: %s:%d",
		config.Port, config.GRPC_Host, config.GRPC_Port)
	appLogger.Info("Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("shutting down...")
}

// startAPIServer starts the HTTP REST API server
func startAPIServer(bridgeService *bridge.Bridge, logger *logger.Logger, port int) error {
	apiHandler := rest.NewAPIHandler(bridgeService, logger)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	logger.Info("REST API server started on :%d", port)
	return server.ListenAndServe()
}
