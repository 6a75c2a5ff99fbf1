// pmld is the mediator process: it loads the fleet configuration, opens
// the database and embedding connections, wires the Hybrid Search Engine,
// Capability Store, Planner, Controlled Executor, sandbox, Speculative
// Executor, and event bus, and serves the Gateway Facade's HTTP/WebSocket
// API.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/casys-ai/pml/pkg/capability"
	"github.com/casys-ai/pml/pkg/config"
	"github.com/casys-ai/pml/pkg/embedding"
	"github.com/casys-ai/pml/pkg/endpoint"
	"github.com/casys-ai/pml/pkg/eventbus"
	"github.com/casys-ai/pml/pkg/executor"
	"github.com/casys-ai/pml/pkg/gateway"
	"github.com/casys-ai/pml/pkg/planner"
	"github.com/casys-ai/pml/pkg/registry"
	"github.com/casys-ai/pml/pkg/sandbox"
	"github.com/casys-ai/pml/pkg/search"
	"github.com/casys-ai/pml/pkg/speculative"
	"github.com/casys-ai/pml/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	logger := slog.Default()
	ctx := context.Background()

	log.Printf("Starting pmld")
	log.Printf("Config Directory: %s", *configDir)

	cfg, err := config.Load(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	stats := cfg.Stats()
	log.Printf("Loaded %d endpoint(s)", stats.Endpoints)

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	db, err := store.NewStore(ctx, dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL database")

	embedder, err := embedding.NewGRPCEmbedder(cfg.Embedding.Address, cfg.Embedding.Dimension)
	if err != nil {
		log.Fatalf("Failed to build embedding client: %v", err)
	}

	endpointRegistry := config.NewEndpointRegistry(cfg.Endpoints)
	pool := endpoint.NewPool(endpointRegistry, cfg.PerEndpointInflightCap)
	healthMonitor := endpoint.NewHealthMonitor(pool, endpointRegistry)
	healthMonitor.Start(ctx)

	toolRegistry := registry.New(pool, db.Tools, embedder)
	endpointIDs := make([]string, 0, len(cfg.Endpoints))
	for id := range cfg.Endpoints {
		endpointIDs = append(endpointIDs, id)
	}
	if err := toolRegistry.Refresh(ctx, endpointIDs); err != nil {
		log.Printf("Warning: initial tool discovery failed: %v", err)
	}

	searchEngine := search.New(db, embedder)
	caps := capability.New(db, embedder, cfg.CapabilityMatchThreshold)
	plan := planner.New(searchEngine, caps, toolRegistry, embedder)

	sandboxExec := sandbox.New(cfg.Sandbox, pool, logger)
	exec := executor.New(pool, db, caps, sandboxExec, *cfg)

	bus := eventbus.New(db.Traces, logger)
	exec.SetEventPublisher(bus)

	specExec, err := speculative.New(sandboxExec, cfg.Speculation.LRUSize, cfg.Speculation.TTL, cfg.Speculation.Cap)
	if err != nil {
		log.Fatalf("Failed to build speculative executor: %v", err)
	}

	gw := gateway.New(searchEngine, caps, plan, exec, bus, specExec)
	router := gw.Router()

	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := db.Pool().Ping(reqCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":             "healthy",
			"endpoints":          stats.Endpoints,
			"active_connections": bus.ActiveConnections(),
		})
	})

	httpPort := cfg.HTTPPort
	if httpPort == "" {
		httpPort = getEnv("HTTP_PORT", "8080")
	}
	log.Printf("HTTP server listening on :%s", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
