// Package server wires the wallet server together: storage, key material,
// the token manager, the chain client, the services, the gRPC endpoint and
// the metrics endpoint. It also handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slkzgm/beezie-backend/internal/cryptox"
	"github.com/slkzgm/beezie-backend/internal/dbx"
	"github.com/slkzgm/beezie-backend/internal/logging"
	"github.com/slkzgm/beezie-backend/internal/server/auth"
	"github.com/slkzgm/beezie-backend/internal/server/chain"
	"github.com/slkzgm/beezie-backend/internal/server/config"
	"github.com/slkzgm/beezie-backend/internal/server/keys"
	"github.com/slkzgm/beezie-backend/internal/server/metrics"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/repomanager"
	"github.com/slkzgm/beezie-backend/internal/server/services"
	"github.com/slkzgm/beezie-backend/internal/server/transport"

	gs "github.com/slkzgm/beezie-backend/internal/server/grpc"
)

// maxFutureIAT bounds how far ahead of the server clock a token may claim to be issued.
const maxFutureIAT = time.Minute

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	registry *prometheus.Registry

	tokens    *auth.TokenManager
	users     *services.UserService
	sessions  *services.SessionService
	transfers *services.TransferService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	registry, err := loadKeys(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("key registry: %w", err)
	}
	logger.Info(ctx, "signing keys loaded", "active", registry.Active().KeyID, "trusted", registry.KeyIDs())

	tokens, err := auth.NewTokenManager(registry, auth.Options{
		Issuer:       c.TokenIssuer,
		Audience:     c.TokenAudience,
		AccessTTL:    c.AccessTokenValidityDuration,
		RefreshTTL:   c.RefreshTokenValidityDuration,
		Leeway:       c.TokenLeeway,
		MaxFutureIAT: maxFutureIAT,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	keybox, err := cryptox.NewKeyBox(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("key box: %w", err)
	}

	hc := transport.NewHTTPClient(transport.Options{
		Timeout:     c.RPCTimeout,
		MaxAttempts: c.RPCMaxAttempts,
		Slot:        c.RPCSlotInterval,
		Logger:      logger,
		Metrics:     mt,
	})
	backend, err := chain.Dial(ctx, c.RPCURL, hc)
	if err != nil {
		return nil, err
	}
	token, err := chain.NewToken(backend, c.TokenContractAddress, logger)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	store := dbx.NewSQLStore(db, nil)

	ss := services.NewSessionService(store, rm, tokens, logger, mt)
	us := services.NewUserService(store, rm, ss, keybox, []byte(c.EncryptionKey), logger)
	ts := services.NewTransferService(store, rm, token, keybox, c.ReservationLeaseTTL, logger, mt)

	return &App{
		config:    c,
		logger:    logger,
		db:        db,
		registry:  reg,
		tokens:    tokens,
		users:     us,
		sessions:  ss,
		transfers: ts,
	}, nil
}

func loadKeys(ctx context.Context, c *config.Config) (*keys.Registry, error) {
	var src keys.Source = keys.FileSource{}
	if c.KeySource == config.KeySourceS3 {
		s3src, err := keys.NewS3Source(ctx, keys.S3Config{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		})
		if err != nil {
			return nil, err
		}
		src = s3src
	}
	return keys.Load(ctx, src, keys.Spec{
		ActiveKeyID:    c.SigningKeyID,
		ActiveLocation: c.SigningKeyPath,
		Trusted:        c.VerificationKeys,
	}, time.Now())
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.users, app.sessions, app.transfers, app.tokens)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close failed", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
