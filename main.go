package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ciphertalk/internal/auth"
	"ciphertalk/internal/config"
	"ciphertalk/internal/crypto"
	"ciphertalk/internal/db"
	grpcclient "ciphertalk/internal/grpc"
	"ciphertalk/internal/handlers"
	"ciphertalk/internal/keyring"
	"ciphertalk/internal/messages"
	"ciphertalk/internal/middleware"
	"ciphertalk/internal/notify"
	"ciphertalk/internal/observability"
	"ciphertalk/internal/presence"
	"ciphertalk/internal/rabbitmq"
	"ciphertalk/internal/repositories"
	"ciphertalk/internal/sweeper"
	"ciphertalk/internal/telemetry"
	"ciphertalk/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := observability.NewLogger(cfg.IsDevelopment(), cfg.LogLevel, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}

	database, err := db.Connect(cfg.DBDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to db")
	}

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	presenceRepo := repositories.NewPresenceRepo(database)
	roomKeyRepo := repositories.NewRoomKeyRepo(database)

	engine := crypto.NewEngine()
	privatePEM, err := serverPrivateKey(cfg, engine, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("load server key")
	}
	keys, err := keyring.New(engine, roomKeyRepo, privatePEM)
	if err != nil {
		logger.Fatal().Err(err).Msg("init keyring")
	}

	store := messages.NewStore(messageRepo, engine, keys, logger)
	tracker := presence.NewTracker(presenceRepo, logger)

	var relay ws.Relay
	var redisRelay *ws.RedisRelay
	if cfg.RedisURL != "" {
		redisRelay, err = ws.NewRedisRelay(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect redis relay")
		}
		relay = redisRelay
	}
	hub := ws.NewHub(relay, logger)
	if redisRelay != nil {
		go func() {
			err := redisRelay.Run(ctx, func(room string, payload []byte) {
				hub.DeliverLocal(room, payload, nil)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("redis relay stopped")
			}
		}()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	if reason := rabbitmq.PublisherNoopReason(publisher); reason != "" {
		logger.Warn().Str("reason", reason).Msg("amqp publishing disabled")
	}
	audit := telemetry.NewAuditEmitter(publisher, "audit.ciphertalk", cfg.ServiceName, cfg.Env, logger)
	wsEvents := telemetry.NewWSEventEmitter(publisher, "ws_events.rooms", logger)
	notifier := notify.NewNotifier(roomRepo, tracker, publisher, cfg.NotifyIncludePreview, logger)

	identities, closeIdentities, err := identityProvider(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init identity provider")
	}

	gateway := ws.NewGateway(ws.Deps{
		Hub:        hub,
		Rooms:      roomRepo,
		Messages:   store,
		Presence:   tracker,
		Identities: identities,
		Notifier:   notifier,
		Events:     wsEvents,
		Logger:     logger,
	})
	roomHandler := handlers.NewRoomHandler(roomRepo, store, keys, hub, audit, logger)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.UseRawPath = true
	router.UnescapePathValues = false

	// middlewares
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(observability.RequestLogger(logger))
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "publisher": rabbitmq.PublisherMode(publisher)})
	})

	gateway.Register(router)
	roomHandler.Register(router, middleware.AuthMiddleware(identities))

	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc server error")
		}
	}()

	sweep := sweeper.New(store, tracker, ws.NewExpiryAnnouncer(hub, roomRepo, logger), cfg.SweepInterval, cfg.PresenceStaleAfter, logger)
	go sweep.Run(ctx)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("grpc_addr", cfg.GRPCAddr).Msg("ciphertalk listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	hub.Close()
	if err := gateway.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("sessions did not finish in time")
	}
	grpcServer.GracefulStop()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown")
	}
	if err := publisher.Close(); err != nil {
		logger.Warn().Err(err).Msg("publisher close")
	}
	if redisRelay != nil {
		_ = redisRelay.Close()
	}
	if closeIdentities != nil {
		_ = closeIdentities()
	}
	_ = database.Close()
}

// serverPrivateKey returns the configured key pair used to wrap room keys.
// Development runs without one get an ephemeral pair.
func serverPrivateKey(cfg *config.Config, engine *crypto.Engine, logger zerolog.Logger) ([]byte, error) {
	pemBytes, err := cfg.ServerPrivateKeyPEM()
	if err != nil || pemBytes != nil {
		return pemBytes, err
	}
	if !cfg.IsDevelopment() {
		return nil, errors.New("SERVER_PRIVATE_KEY is not set")
	}
	logger.Warn().Msg("SERVER_PRIVATE_KEY not set, generating an ephemeral key; stored room keys will not survive a restart")
	pair, err := engine.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return pair.PrivatePEM, nil
}

func identityProvider(cfg *config.Config) (middleware.IdentityProvider, func() error, error) {
	if cfg.AuthMode == config.AuthModeGRPC {
		conn, err := grpcclient.Dial(cfg.AuthGRPCAddr)
		if err != nil {
			return nil, nil, err
		}
		return grpcclient.NewAuthClient(conn), conn.Close, nil
	}
	return auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer), nil, nil
}
