/**
 * @description
 * This is the main entry point for the pool-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * in-memory ledger, external clients (chain gateway, member registry),
 * the RabbitMQ event producer, the Redis-backed rate limiter, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/redis/go-redis/v9: Redis client for settlement rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/chainclient: Client for the chain gateway API.
 * - pkg/registryclient: Client for the member registry service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/aidring/pool-service/internal/api"
	"github.com/aidring/pool-service/internal/app"
	"github.com/aidring/pool-service/internal/config"
	"github.com/aidring/pool-service/internal/store"
	"github.com/aidring/pool-service/pkg/chainclient"
	"github.com/aidring/pool-service/pkg/rabbitmq"
	"github.com/aidring/pool-service/pkg/registryclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	if !chainclient.ValidAddress(cfg.TreasuryAddress) {
		log.Fatalf("level=fatal component=bootstrap msg=\"treasury address must be a valid chain address\" env=TREASURY_ADDRESS")
	}

	log.Printf("level=info component=bootstrap msg=\"starting pool-service\" port=%s", cfg.ServerPort)

	// Initialize the RabbitMQ producer to publish events. This service only
	// needs to publish, so a missing broker degrades to a no-op fallback.
	var eventProducer rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the chain gateway and the settlement executor
	// that drives the two-leg fee and payout transfers through it.
	chainClient := chainclient.NewClient(cfg.ChainGatewayURL, cfg.ChainGatewayAPIKey, cfg.TreasurySignerKey)
	settler := app.NewChainSettlementExecutor(chainClient, time.Duration(cfg.ConfirmPollIntervalMillis)*time.Millisecond)

	// Initialize the access gate over the member registry's allow-list.
	// A missing registry config means the gate never loads a snapshot and
	// denies all callers, which is the safe default.
	registryClient := registryclient.NewClient(cfg.RegistryURL, cfg.RegistryInternalAPIKey)
	gate := app.NewAccessGate(registryClient, time.Duration(cfg.AllowListRefreshSeconds)*time.Second)
	gateCtx, cancelGate := context.WithCancel(context.Background())
	defer cancelGate()
	gate.Start(gateCtx)

	var redisClient *redis.Client
	if cfg.SettlementRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; settlement rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; settlement rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; settlement rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer. The ledger is in-memory: restarting
	// the service starts from an empty set of networks.
	ledger := store.NewMemoryLedger()

	// Initialize the core application service with its dependencies.
	poolService := app.NewService(
		ledger,
		settler,
		eventProducer,
		cfg.EventExchange,
		cfg.TreasuryAddress,
		time.Duration(cfg.ClaimTimeoutSeconds)*time.Second,
		time.Duration(cfg.RedistributionTimeoutSeconds)*time.Second,
	)
	if redisClient != nil {
		poolService.SetSettlementRateLimiter(
			app.NewRedisSettlementRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.SettlementRateLimitPerMinute,
		)
	}

	// Initialize the API handlers.
	poolHandlers := api.NewPoolHandlers(poolService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.PoolRoutes(poolHandlers, cfg.JWTSecret, gate))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
