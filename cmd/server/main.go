// Package main runs the launchpad service: agent registry, proposal
// voting, bonding-curve markets and the launch orchestrator behind a
// JSON HTTP API, with trade analytics archived to ClickHouse and
// events fanned out over AMQP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/analytics"
	"github.com/iono-such-things/headless-markets/internal/event"
	"github.com/iono-such-things/headless-markets/internal/launch"
	"github.com/iono-such-things/headless-markets/internal/market"
	"github.com/iono-such-things/headless-markets/internal/proposal"
	"github.com/iono-such-things/headless-markets/internal/registry"
	"github.com/iono-such-things/headless-markets/internal/storage"
	chstore "github.com/iono-such-things/headless-markets/internal/storage/clickhouse"
	"github.com/iono-such-things/headless-markets/internal/storage/memory"
	"github.com/iono-such-things/headless-markets/internal/storage/migrations"
	pgstore "github.com/iono-such-things/headless-markets/internal/storage/postgres"
)

// Server wires the engines and serves the HTTP API.
type Server struct {
	// Configuration
	postgresDSN   string
	clickhouseDSN string
	amqpURL       string
	useMemory     bool
	listenAddr    string
	metricsAddr   string

	// Stores
	stores *allStores

	// Components
	registry     *registry.Registry
	proposals    *proposal.Engine
	markets      *market.Engine
	orchestrator *launch.Orchestrator
	venue        *launch.MemoryVenue
	bus          *event.MemoryBus
	logger       *log.Logger

	// State
	mu      sync.Mutex
	started time.Time
}

// allStores holds all storage implementations. analyticsStore is nil
// when running without ClickHouse.
type allStores struct {
	agentStore       storage.AgentStore
	proposalStore    storage.ProposalStore
	marketStore      storage.MarketStore
	tradeRecordStore storage.TradeRecordStore
	launchStore      storage.LaunchStore
	analyticsStore   storage.TradeAnalyticsStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	amqpURL := flag.String("amqp-url", os.Getenv("AMQP_URL"), "RabbitMQ URL for event publishing (optional)")
	adminAddr := flag.String("admin", os.Getenv("REGISTRY_ADMIN"), "Registry admin address (hex)")
	orchestratorAddr := flag.String("orchestrator", os.Getenv("ORCHESTRATOR_ADDRESS"), "Launch orchestrator address (hex)")
	listenAddr := flag.String("listen-addr", ":8080", "API HTTP address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if !common.IsHexAddress(*adminAddr) {
		logger.Fatal("--admin must be a hex address")
	}
	if !common.IsHexAddress(*orchestratorAddr) {
		logger.Fatal("--orchestrator must be a hex address")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Event bus: in-process fanout always, AMQP mirror when configured
	memBus := event.NewMemoryBus()
	var bus event.Bus = memBus
	if *amqpURL != "" {
		amqpPub, err := event.NewAMQPPublisher(event.AMQPConfig{URL: *amqpURL, Durable: true})
		if err != nil {
			logger.Fatalf("Failed to connect to AMQP: %v", err)
		}
		defer amqpPub.Close()
		bus = event.MultiBus{memBus, amqpPub}
		logger.Println("AMQP event publishing enabled")
	}

	server := newServer(stores, bus, memBus, *adminAddr, *orchestratorAddr, logger)
	server.postgresDSN = *postgresDSN
	server.clickhouseDSN = *clickhouseDSN
	server.amqpURL = *amqpURL
	server.useMemory = *useMemory
	server.listenAddr = *listenAddr
	server.metricsAddr = *metricsAddr

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// newServer builds the engine stack on top of the stores.
func newServer(stores *allStores, bus event.Bus, memBus *event.MemoryBus, adminAddr, orchestratorAddr string, logger *log.Logger) *Server {
	admin := common.HexToAddress(adminAddr)
	self := common.HexToAddress(orchestratorAddr)

	reg := registry.New(registry.Options{
		Admin:      admin,
		AgentStore: stores.agentStore,
		Bus:        bus,
	})

	proposals := proposal.New(proposal.Options{
		ProposalStore: stores.proposalStore,
		AgentStore:    stores.agentStore,
		Registry:      reg,
		Orchestrator:  self,
		Bus:           bus,
	})

	markets := market.New(market.Options{
		MarketStore:      stores.marketStore,
		TradeRecordStore: stores.tradeRecordStore,
		Bus:              bus,
	})

	venue := launch.NewMemoryVenue()
	orch := launch.New(launch.Options{
		Self:             self,
		ProposalExecutor: proposals,
		MarketEngine:     markets,
		LaunchStore:      stores.launchStore,
		Venue:            venue,
	})

	return &Server{
		stores:       stores,
		registry:     reg,
		proposals:    proposals,
		markets:      markets,
		orchestrator: orch,
		venue:        venue,
		bus:          memBus,
		logger:       logger,
		started:      time.Now(),
	}
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			agentStore:       memory.NewAgentStore(),
			proposalStore:    memory.NewProposalStore(),
			marketStore:      memory.NewMarketStore(),
			tradeRecordStore: memory.NewTradeRecordStore(),
			launchStore:      memory.NewLaunchStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	// ClickHouse
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
	}

	stores := &allStores{
		agentStore:       pgstore.NewAgentStore(pool),
		proposalStore:    pgstore.NewProposalStore(pool),
		marketStore:      pgstore.NewMarketStore(pool),
		tradeRecordStore: pgstore.NewTradeRecordStore(pool),
		launchStore:      pgstore.NewLaunchStore(pool),
		analyticsStore:   chstore.NewTradeAnalyticsStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// Run serves the API until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting launchpad server...")

	errCh := make(chan error, 3)

	// Archive executed trades into ClickHouse
	if s.stores.analyticsStore != nil {
		archiver := analytics.New(analytics.Options{
			Store: s.stores.analyticsStore,
			Bus:   s.bus,
		})
		go func() {
			err := archiver.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("analytics archiver: %w", err)
			}
		}()
	}

	// Metrics endpoint on its own listener
	go func() {
		if err := s.serveMetrics(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// API server
	go func() {
		if err := s.serveAPI(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
