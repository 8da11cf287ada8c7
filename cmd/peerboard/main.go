package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"
	"peerboard/internal/core/services"
	httphandlers "peerboard/internal/handlers/http"
	"peerboard/internal/handlers/ws"
	backupinfra "peerboard/internal/infrastructure/backup"
	"peerboard/internal/infrastructure/eventloop"
	"peerboard/internal/infrastructure/middleware"
	"peerboard/internal/infrastructure/monitoring"
	repositories "peerboard/internal/infrastructure/repositories"
	signalcodec "peerboard/internal/infrastructure/signal"
	webrtcinfra "peerboard/internal/infrastructure/webrtc"
	"peerboard/pkg/backup"
	"peerboard/pkg/circuitbreaker"
	"peerboard/pkg/config"
	"peerboard/pkg/logger"
	"peerboard/pkg/retry"
	"peerboard/pkg/tracing"
	"peerboard/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	printToken := flag.Bool("print-token", false, "print a control API token and exit")
	restore := flag.String("restore", "", `snapshot to load into the room at startup, or "latest"`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peerboard: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var zapLogger *zap.Logger
	if cfg.Logging.Format == "console" {
		zapLogger = logger.NewDevelopment(cfg.Logging.Level)
	} else {
		zapLogger = logger.New(cfg.Logging.Level)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	authService := services.NewAuthService(cfg.Control.AuthSecret, cfg.Control.TokenTTL)
	local := localParticipant(cfg)

	if *printToken {
		if !authService.Enabled() {
			log.Fatal("control.auth_secret is not set, the control API is unauthenticated")
		}
		token, err := authService.GenerateToken(local.ID, "cli")
		if err != nil {
			log.Fatalw("failed to generate token", "error", err)
		}
		fmt.Println(token)
		return
	}

	roomID := domain.RoomID(cfg.Room.ID)
	if roomID == "" {
		roomID = domain.RoomID(utils.GenerateRoomID())
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "peerboard",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	var (
		metrics   ports.MetricsRecorder = ports.NopMetrics{}
		gatherer  prometheus.Gatherer
		collector *monitoring.PrometheusCollector
	)
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
		metrics = collector
		gatherer = prometheus.DefaultGatherer
	}

	// Storage
	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	boardRepo := repoFactory.CreateBoardRepository()
	writeBehind := services.NewWriteBehind(boardRepo, roomID, services.WriteBehindConfig{
		BatchSize:     cfg.Storage.BatchSize,
		FlushInterval: cfg.Storage.FlushInterval,
		WriteTimeout:  cfg.Storage.WriteTimeout,
		Retry: retry.Config{
			MaxAttempts:  cfg.Storage.Retry.MaxAttempts,
			InitialDelay: cfg.Storage.Retry.InitialDelay,
			MaxDelay:     cfg.Storage.Retry.MaxDelay,
			Jitter:       true,
		},
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.Storage.Breaker.FailureThreshold,
			Timeout:          cfg.Storage.Breaker.Timeout,
		},
	}, log)

	// Board state and replication
	registry := services.NewPeerRegistry(local)
	locks := services.NewLockTable(local.ID, registry)
	if collector != nil {
		collector.WatchStaleParticipants(func() int {
			return len(registry.Stale(cfg.Monitoring.StaleAfter))
		})
	}
	bridge := ws.NewRenderBridge(ws.Config{
		PingInterval: cfg.Render.PingInterval,
		PongTimeout:  cfg.Render.PongTimeout,
	}, log)
	engine := services.NewReplicationEngine(services.EngineConfig{
		RoomID:               roomID,
		CursorInterval:       cfg.Sync.CursorInterval,
		StreamAppendInterval: cfg.Sync.StreamAppendInterval,
	}, registry, locks, services.NewBoardState(), writeBehind, bridge, metrics, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := eventloop.New(cfg.Sync.QueueSize, log)
	loop.Start(ctx)

	// Peer connections
	sessionCfg := webrtcinfra.Config{ICEServers: iceServers(cfg)}
	sessionCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	sessionCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	sessionFactory, err := webrtcinfra.NewPionSessionFactory(sessionCfg)
	if err != nil {
		log.Fatalw("failed to create WebRTC session factory", "error", err)
	}
	manager := webrtcinfra.NewConnectionManager(webrtcinfra.ManagerConfig{
		RoomID:        roomID,
		GatherTimeout: cfg.WebRTC.GatherTimeout,
	}, sessionFactory, registry, locks, loop, metrics, log)
	manager.SetListener(engine)
	engine.SetTransport(manager)

	rooms := services.NewRoomService(boardRepo, engine, roomID, log)
	var initErr error
	if err := loop.Do(ctx, func() { _, initErr = rooms.Init(ctx) }); err != nil {
		initErr = err
	}
	if initErr != nil {
		log.Fatalw("failed to initialize room", "room_id", roomID, "error", initErr)
	}

	// Snapshots
	var scheduler *backupinfra.Scheduler
	if cfg.Backup.Enabled || *restore != "" {
		storage, err := backup.NewFileStorage(cfg.Backup.Dir)
		if err != nil {
			log.Fatalw("failed to open snapshot directory", "dir", cfg.Backup.Dir, "error", err)
		}
		snapshots := backup.NewService(storage)

		if *restore != "" {
			restoreRoom(ctx, backupinfra.NewRestorer(snapshots, roomID), *restore, loop, rooms, log)
		}
		if cfg.Backup.Enabled {
			scheduler = backupinfra.NewScheduler(snapshots, loop, rooms, roomID, backupinfra.Config{
				Interval: cfg.Backup.Interval,
				Keep:     cfg.Backup.Keep,
			}, log)
			scheduler.Start(ctx)
		}
	}

	// Health checks
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("store", repoFactory.HealthCheck, 0)
	healthChecker.AddCheck("store_writes", writeBehind.HealthCheck, 0)
	healthChecker.AddCheck("event_loop", func(ctx context.Context) error {
		return loop.Do(ctx, func() {})
	}, 0)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.TracingMiddleware(string(roomID), logger.NewContextLogger(zapLogger)))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	authMiddleware := middleware.AuthMiddleware(authService)
	codec := signalcodec.NewCodec(cfg.WebRTC.MaxTokenLength)

	httphandlers.NewBoardHandler(loop, engine, rooms, manager, codec, cfg.Server.PublicURL, log).
		SetupRoutes(router, authMiddleware)
	httphandlers.NewAuthHandler(authService, int(cfg.Control.TokenTTL.Seconds())).
		SetupRoutes(router, authMiddleware)
	httphandlers.NewHealthHandler(healthChecker, repoFactory.Backend()).
		SetupRoutes(router, gatherer)
	bridge.SetupRoutes(router)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting PeerBoard node",
			"address", cfg.Server.Address,
			"room_id", roomID,
			"participant_id", local.ID,
			"display_name", local.DisplayName,
			"storage", repoFactory.Backend(),
			"auth_enabled", authService.Enabled(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	bridge.Close()
	manager.Close()
	if scheduler != nil {
		scheduler.Stop()
		if _, err := scheduler.SnapshotNow(shutdownCtx); err != nil {
			log.Errorw("failed to write final snapshot", "error", err)
		}
	}
	loop.Stop()
	writeBehind.Stop()

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer provider", "error", err)
	}

	log.Infow("PeerBoard node stopped", "room_id", roomID)
}

func restoreRoom(ctx context.Context, restorer *backupinfra.Restorer, name string, loop *eventloop.Loop, rooms *services.RoomService, log *zap.SugaredLogger) {
	export, loaded, err := restorer.Load(ctx, name)
	if err != nil {
		log.Fatalw("failed to load snapshot", "snapshot", name, "error", err)
	}

	var imported int
	var importErr error
	if err := loop.Do(ctx, func() { imported, importErr = rooms.Import(ctx, export, services.ImportReplace) }); err != nil {
		importErr = err
	}
	if importErr != nil {
		log.Fatalw("failed to restore snapshot", "snapshot", loaded, "error", importErr)
	}
	log.Infow("room restored from snapshot", "snapshot", loaded, "objects", imported)
}

func localParticipant(cfg *config.Config) domain.Participant {
	p := domain.Participant{
		ID:          domain.ParticipantID(cfg.Participant.ID),
		DisplayName: utils.SanitizeDisplayName(cfg.Participant.DisplayName),
		Color:       cfg.Participant.Color,
	}
	if p.ID == "" {
		p.ID = domain.ParticipantID(utils.GenerateParticipantID())
	}
	if p.DisplayName == "" {
		p.DisplayName = utils.GenerateDisplayName()
	}
	if p.Color == "" {
		p.Color = utils.GenerateColor()
	}
	return p
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}
