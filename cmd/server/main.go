package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ridedispatch/internal/config"
	"ridedispatch/internal/handlers"
	"ridedispatch/internal/middleware"
	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"
	"ridedispatch/internal/repositories/memory"
	"ridedispatch/internal/repositories/mongodb"
	"ridedispatch/internal/services"
	"ridedispatch/internal/utils"
	"ridedispatch/pkg/cache"
	"ridedispatch/pkg/database"
	"ridedispatch/pkg/logger"
	"ridedispatch/pkg/maps"
	"ridedispatch/pkg/mq"
	"ridedispatch/pkg/push"
	"ridedispatch/pkg/sms"
	"ridedispatch/pkg/websocket"
	"ridedispatch/routes"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(&logger.Config{
		Level:   logger.LogLevel(cfg.App.LogLevel),
		Format:  cfg.App.LogFormat,
		Output:  "stdout",
		Colors:  cfg.App.Debug,
		AppName: cfg.App.Name,
		Version: cfg.App.Version,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.WithError(err).Fatal("Server stopped with error")
	}
	appLogger.Info("Server stopped")
}

type store struct {
	rides   interfaces.RideRepository
	drivers interfaces.DriverRepository
	tx      interfaces.Transactor
	checks  map[string]handlers.HealthCheck
	close   func()
}

func run(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) error {
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(&cache.RedisConfig{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		redisCache = rc
	}

	st, err := openStore(ctx, cfg, redisCache, appLogger)
	if err != nil {
		return err
	}
	defer st.close()

	hub := websocket.NewHub(appLogger)
	go hub.Run(ctx)

	var publisher websocket.Publisher = hub
	if redisCache != nil {
		relay := websocket.NewRelay(redisCache, cfg.Redis.RelayChannel, hub, appLogger)
		go func() {
			if err := relay.Run(ctx); err != nil {
				appLogger.WithError(err).Error("Event relay stopped")
			}
		}()
		publisher = relay
		st.checks["redis"] = redisCache.Ping
	}

	sinks := []services.Notifier{services.NewChannelNotifier(publisher)}
	if pusher := buildPushRouter(ctx, cfg.Push, appLogger); pusher.Enabled() {
		sinks = append(sinks, services.NewDevicePushNotifier(st.drivers, pusher))
	}
	if provider := buildSMSProvider(ctx, cfg.SMS, appLogger); provider != nil {
		sinks = append(sinks, services.NewSMSNotifier(provider))
	}
	notifications := services.NewNotificationService(appLogger, utils.NotificationTimeout, sinks...)

	matching := services.NewMatchingService(st.rides, st.drivers, st.tx, notifications, cfg.Dispatch, appLogger)
	lifecycle := services.NewLifecycleService(st.rides, st.drivers, st.tx, notifications, cfg.Dispatch, appLogger)

	dispatcher := services.NewDispatcher(matching, cfg.Dispatch.DispatchWorkers, cfg.Dispatch.DispatchQueueSize, appLogger)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	var queue services.MatchQueue = dispatcher
	if cfg.Broker.Enabled {
		broker, err := mq.NewRabbitMQ(ctx, &mq.Config{
			URL:        cfg.Broker.URL,
			Exchange:   cfg.Broker.Exchange,
			Queue:      cfg.Broker.Queue,
			RoutingKey: cfg.Broker.RoutingKey,
			Prefetch:   cfg.Broker.Prefetch,
			MaxRetries: cfg.Broker.MaxRetries,
			RetryDelay: cfg.Broker.RetryDelay,
		}, appLogger)
		if err != nil {
			return err
		}
		defer broker.Close()

		brokerQueue := services.NewBrokerQueue(broker, dispatcher, appLogger)
		go func() {
			if err := brokerQueue.Run(ctx, cfg.Broker.ConsumerName); err != nil {
				appLogger.WithError(err).Error("Match queue consumer stopped")
			}
		}()
		queue = brokerQueue
		st.checks["rabbitmq"] = broker.Ping
	}

	rideService := services.NewRideService(st.rides, st.drivers, st.tx, matching, lifecycle, notifications,
		queue, buildMapsProvider(cfg.Maps, appLogger), cfg.Dispatch, appLogger)
	driverService := services.NewDriverService(st.drivers, st.rides, notifications, appLogger)

	realtime := handlers.NewRealtimeHandler(driverService, appLogger)
	wsHandler := websocket.NewHandler(ctx, hub, websocket.Options{
		ReadBufferSize:    cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:   cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout:  cfg.WebSocket.HandshakeTimeout,
		WriteTimeout:      cfg.WebSocket.WriteTimeout,
		PingInterval:      cfg.WebSocket.PingInterval,
		PongTimeout:       cfg.WebSocket.PongTimeout,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		SendBufferSize:    cfg.WebSocket.SendBufferSize,
		MaxConnections:    cfg.WebSocket.MaxConnections,
		EnableCompression: cfg.WebSocket.EnableCompression,
		AllowedOrigins:    cfg.WebSocket.AllowedOrigins,
	}, handlers.ChannelsFor)
	wsHandler.OnInbound(realtime.HandleInbound)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(appLogger))
	router.Use(middleware.LoggingMiddleware(appLogger))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORSAllowedOrigins))

	routes.SetupDispatchRoutes(router, routes.Handlers{
		Rides:     handlers.NewRideHandler(rideService, lifecycle),
		Drivers:   handlers.NewDriverHandler(driverService),
		Health:    handlers.NewHealthHandler(st.checks),
		WebSocket: wsHandler,
	}, cfg.Security.JWTSecret)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.WithFields(logger.Fields{
			"port":  cfg.App.Port,
			"store": cfg.Dispatch.StoreDriver,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	appLogger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, redisCache *cache.RedisCache, appLogger *logger.Logger) (*store, error) {
	if cfg.Dispatch.StoreDriver == config.StoreMemory {
		appLogger.Warn("Using in-memory store, state is lost on restart")
		mem := memory.NewStore()
		return &store{
			rides:   memory.NewRideRepository(mem),
			drivers: memory.NewDriverRepository(mem),
			tx:      mem,
			checks:  map[string]handlers.HealthCheck{},
			close:   func() {},
		}, nil
	}

	db, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Database.RunMigrations {
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		err := database.NewMigrator(db.Database, appLogger).Up(migrateCtx)
		cancel()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	var rideCache services.CacheService
	if redisCache != nil {
		rideCache = services.NewCacheService(redisCache, appLogger, cfg.Redis.CacheTTL)
	}

	return &store{
		rides:   mongodb.NewRideRepository(db.Database, rideCache),
		drivers: mongodb.NewDriverRepository(db.Database),
		tx:      db,
		checks:  map[string]handlers.HealthCheck{"mongodb": db.Ping},
		close: func() {
			if err := db.Close(); err != nil {
				appLogger.WithError(err).Warn("Failed to close mongodb")
			}
		},
	}, nil
}

func buildPushRouter(ctx context.Context, cfg *config.PushConfig, appLogger *logger.Logger) *push.Router {
	router := push.NewRouter()
	if !cfg.Enabled {
		return router
	}

	if cfg.FCM.Configured() {
		fcm, err := push.NewFCMProvider(ctx, cfg.FCM.ProjectID, cfg.FCM.Credentials)
		if err != nil {
			appLogger.WithError(err).Warn("FCM disabled")
		} else {
			router.Register(string(models.PlatformAndroid), fcm)
		}
	}
	if cfg.APNS.Configured() {
		apns, err := push.NewAPNSProvider(cfg.APNS.KeyFile, cfg.APNS.KeyID, cfg.APNS.TeamID, cfg.APNS.BundleID, cfg.APNS.Production)
		if err != nil {
			appLogger.WithError(err).Warn("APNs disabled")
		} else {
			router.Register(string(models.PlatformIOS), apns)
		}
	}
	return router
}

func buildSMSProvider(ctx context.Context, cfg *config.SMSConfig, appLogger *logger.Logger) sms.SMSProvider {
	var (
		provider sms.SMSProvider
		err      error
	)
	switch cfg.Provider {
	case "twilio":
		provider, err = sms.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber)
	case "aws":
		provider, err = sms.NewAWSSNSProvider(ctx, cfg.AWS.Region, cfg.SenderID)
	default:
		return nil
	}
	if err != nil {
		appLogger.WithError(err).WithField("provider", cfg.Provider).Warn("SMS disabled")
		return nil
	}
	return provider
}

func buildMapsProvider(cfg *config.MapsConfig, appLogger *logger.Logger) maps.MapsProvider {
	if !cfg.Enabled {
		return nil
	}
	provider, err := maps.NewGoogleMapsProvider(cfg.GoogleMaps.APIKey, cfg.GoogleMaps.Region, cfg.Timeout)
	if err != nil {
		appLogger.WithError(err).Warn("Maps disabled, using straight-line estimates")
		return nil
	}
	return provider
}
