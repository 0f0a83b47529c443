package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"uppy/chat/internal/access"
	"uppy/chat/internal/api"
	"uppy/chat/internal/auth"
	"uppy/chat/internal/chat"
	"uppy/chat/internal/config"
	"uppy/chat/internal/gateway"
	"uppy/chat/internal/health"
	"uppy/chat/internal/logging"
	"uppy/chat/internal/rooms"
	"uppy/chat/internal/sessions"
	"uppy/chat/internal/store"
	"uppy/chat/internal/store/dynamo"
	"uppy/chat/internal/store/sqlite"
	"uppy/chat/internal/telemetry"
	"uppy/chat/internal/types"
)

const memoryCapPerConversation = 1000

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "uppy-chat", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	checker := health.New(2 * time.Second)
	messages, enrollments, closeStores, err := openStores(ctx, cfg, checker, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	hub := rooms.NewHub()
	svc := chat.NewService(hub,
		access.NewEnrollmentAuthorizer(enrollments, cfg.Chat.DevModeFailOpen, logger),
		messages,
		chat.Options{HistoryLimit: cfg.Chat.HistoryLimit, MaxMessageLength: cfg.Chat.MaxMessageLength},
		logger)
	gw := gateway.NewServer(auth.NewAuthenticator(newVerifier(ctx, cfg, logger)), sessions.NewRegistry(), svc,
		gateway.Options{OutboxSize: cfg.Chat.OutboxSize, OriginPatterns: gateway.OriginPatterns(cfg.Server.CORSOrigin)},
		logger)

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: logMiddleware(logger, api.NewRouter(api.Routes{
			Gateway:    gw,
			Health:     checker,
			CORSOrigin: cfg.Server.CORSOrigin,
		})),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received; draining",
			zap.Duration("grace", cfg.Server.ShutdownGracePeriod),
			zap.Int("connections", gw.Len()), zap.Int("rooms", hub.Len()))
		checker.SetDraining()

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
		defer cancel()
		err := srv.Shutdown(sctx)
		if gerr := gw.Shutdown(sctx); gerr != nil {
			logger.Warn("connections did not drain in time", zap.Error(gerr),
				zap.Int("connections", gw.Len()), zap.Int("rooms", hub.Len()))
		} else {
			logger.Info("connections drained")
		}
		return err
	})
	return g.Wait()
}

// newVerifier returns nil when no user pool is configured; connections are
// then refused as a server configuration error.
func newVerifier(ctx context.Context, cfg config.Config, logger *zap.Logger) auth.TokenVerifier {
	issuer := cfg.Issuer()
	if issuer == "" {
		logger.Warn("COGNITO_USER_POOL_ID not set; all connections will be rejected")
		return nil
	}
	kf, err := auth.NewJWKSKeyfunc(ctx, issuer)
	if err != nil {
		logger.Error("jwks unavailable; all connections will be rejected", zap.String("issuer", issuer), zap.Error(err))
		return nil
	}
	logger.Info("verifying tokens", zap.String("issuer", issuer))
	return auth.NewCognitoVerifier(issuer, kf)
}

func openStores(ctx context.Context, cfg config.Config, checker *health.Checker, logger *zap.Logger) (store.MessageStore, store.EnrollmentSource, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendDynamo:
		client, err := dynamo.NewClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, nil, nil, err
		}
		if len(cfg.Chat.Enrollments) > 0 {
			logger.Warn("CHAT_ENROLLMENTS ignored with the dynamo backend")
		}
		st := dynamo.New(client, dynamo.Tables{
			Messages:      cfg.Store.MessagesTable,
			MessagesIndex: cfg.Store.MessagesIndex,
			Enrollments:   cfg.Store.EnrollmentsTable,
		}, logger)
		return st, st, func() {}, nil

	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		for id, owner := range cfg.Chat.Enrollments {
			if err := st.PutEnrollment(ctx, types.Enrollment{ID: id, InfluencerID: owner}); err != nil {
				_ = st.Close()
				return nil, nil, nil, fmt.Errorf("seed enrollment %s: %w", id, err)
			}
		}
		checker.Register("sqlite", st.Ping)
		return st, st, func() { _ = st.Close() }, nil

	default:
		logger.Warn("using in-memory store; messages are lost on restart",
			zap.Int("enrollments", len(cfg.Chat.Enrollments)))
		return store.NewMemory(memoryCapPerConversation), store.NewEnrollments(cfg.Chat.Enrollments), func() {}, nil
	}
}

func logMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}
