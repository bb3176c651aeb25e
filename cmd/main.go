package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/config"
	"github.com/weiawesome/wes-io-live/studio-service/internal/device"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	"github.com/weiawesome/wes-io-live/studio-service/internal/handler"
	"github.com/weiawesome/wes-io-live/studio-service/internal/hub"
	"github.com/weiawesome/wes-io-live/studio-service/internal/recorder"
	"github.com/weiawesome/wes-io-live/studio-service/internal/service"
	"github.com/weiawesome/wes-io-live/studio-service/internal/webrtc"
	pkgconfig "github.com/weiawesome/wes-io-live/studio-service/pkg/config"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load(pkgconfig.GetEnv("STUDIO_CONFIG", ""))
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = "studio-service"
	}
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PubSub
	ps, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to initialize pubsub")
	}
	defer ps.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("pubsub initialized")

	// Initialize session store based on config
	var sessionStore service.SessionStore
	switch cfg.Session.Type {
	case "redis":
		store, err := service.NewRedisSessionStore(cfg.Session.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create redis session store")
		}
		defer store.Close()
		sessionStore = store
		logger.Info().Str("address", cfg.Session.Redis.Address).Msg("using redis session store")
	default:
		sessionStore = service.NewMemorySessionStore()
		logger.Info().Msg("using in-memory session store")
	}

	// Capture host
	host, err := capture.NewMediaDevicesHost()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize capture host")
	}
	registry := device.NewRegistry(host)
	factory := capture.NewFactory(host)

	opts := []service.ControllerOption{
		service.WithSessionStore(sessionStore),
	}

	// Recording and export
	var recordings handler.Recordings
	if cfg.Recording.Enabled {
		recOpts := []recorder.Option{
			recorder.WithFlushInterval(cfg.Recording.FlushInterval),
			recorder.WithExportTimeout(cfg.Recording.ExportTimeout),
		}
		exportStore, err := storage.New(ctx, cfg.Export)
		if err != nil {
			logger.Warn().Err(err).Str("type", cfg.Export.Type).Msg("export storage unavailable, recordings stay in memory")
		} else {
			recOpts = append(recOpts, recorder.WithExporter(recorder.NewStorageExporter(exportStore, cfg.Recording.KeyPrefix)))
			recordings = recorder.NewLibrary(exportStore, cfg.Recording.KeyPrefix)
			logger.Info().Str("type", cfg.Export.Type).Msg("recording export enabled")
		}
		opts = append(opts, service.WithRecorder(recorder.NewSink(recOpts...)))
	}

	// Publish sinks
	var sinks []service.PublishSink
	if cfg.Publish.EventBus {
		sinks = append(sinks, service.NewEventBusSink(ps))
	}
	if cfg.WebRTC.Enabled {
		iceServers := cfg.WebRTC.GetICEServers(ctx)
		logger.Info().Int("ice_servers", len(iceServers)).Msg("webrtc publishing enabled")

		publisher := webrtc.NewPublisher(webrtc.NewPeerManager(iceServers), ps, cfg.WebRTC.UserID)
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}
	opts = append(opts, service.WithPublishSink(service.NewMultiSink(sinks...)))

	ctrl := service.NewController(service.ControllerConfig{
		RoomID:        cfg.Studio.RoomID,
		Mode:          domain.CaptureMode(cfg.Studio.Mode),
		Quality:       domain.QualityProfile(cfg.Studio.Quality),
		VideoDeviceID: cfg.Studio.VideoDeviceID,
		AudioDeviceID: cfg.Studio.AudioDeviceID,
		TickInterval:  cfg.Studio.TickInterval,
		HistoryLimit:  cfg.Studio.HistoryLimit,
	}, registry, factory, opts...)

	if rec, err := ctrl.RecoverInterrupted(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to check for interrupted sessions")
	} else if rec != nil {
		logger.Info().Str(pkglog.FieldSessionID, rec.SessionID).Msg("previous session marked interrupted")
	}

	// Initialize auth middleware
	var authMiddleware *middleware.AuthMiddleware
	if cfg.Auth.Secret != "" {
		verifier, err := jwt.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create token verifier")
		}
		authMiddleware = middleware.NewAuthMiddleware(verifier)
	} else {
		logger.Warn().Msg("auth secret not set, control API is unauthenticated")
	}

	// Event feed
	eventHub := hub.NewHub()
	events, unsubscribe := ctrl.Subscribe(256)
	defer unsubscribe()

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	handler.NewHandler(ctrl, recordings, eventHub, authMiddleware, cfg.WebSocket).RegisterRoutes(r)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		eventHub.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		eventHub.Forward(gCtx, events)
		return nil
	})

	if cfg.Devices.Watch {
		watcher := device.NewWatcher(cfg.Devices.WatchPaths, cfg.Devices.Debounce, ctrl.DevicesChanged)
		g.Go(func() error {
			if err := watcher.Run(gCtx); err != nil {
				// Hot-plug detection is best effort.
				logger.Warn().Err(err).Msg("device watcher stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info().
			Str("addr", server.Addr).
			Str(pkglog.FieldRoomID, cfg.Studio.RoomID).
			Bool("recording", cfg.Recording.Enabled).
			Msg("studio-service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("shutting down studio-service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Finalize the recording before the listener goes away.
		if err := ctrl.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to stop active session")
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("studio-service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("studio-service stopped")
}
