package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/evote/internal/audit"
	"github.com/xxxsen/evote/internal/config"
	"github.com/xxxsen/evote/internal/db"
	"github.com/xxxsen/evote/internal/dispatch"
	"github.com/xxxsen/evote/internal/filestore"
	"github.com/xxxsen/evote/internal/handler"
	"github.com/xxxsen/evote/internal/job"
	"github.com/xxxsen/evote/internal/mailtpl"
	"github.com/xxxsen/evote/internal/middleware"
	"github.com/xxxsen/evote/internal/repo"
	"github.com/xxxsen/evote/internal/schedule"
	"github.com/xxxsen/evote/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath string
	var envPath string

	rootCmd := &cobra.Command{
		Use:   "evote",
		Short: "evote voting token distribution server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "optional env file with secret overrides")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run evote server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := bootstrap(configPath, envPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			return runServer(cfg, conn)
		},
	}

	catchUpCmd := &cobra.Command{
		Use:   "catchup",
		Short: "run one token catch-up pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := bootstrap(configPath, envPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			app, err := newApp(cfg, conn)
			if err != nil {
				return err
			}
			app.distribution.RunCatchUpCheck(cmd.Context())
			app.sink.Close()
			return nil
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := bootstrap(configPath, envPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			logutil.GetLogger(context.Background()).Info("migrations applied")
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, catchUpCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func bootstrap(configPath, envPath string) (*config.Config, *sqlx.DB, error) {
	if configPath == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	if err := config.LoadEnvFile(envPath); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return cfg, conn, nil
}

type app struct {
	sink         *audit.AsyncSink
	distribution *service.DistributionService
	auditRepo    *repo.AuditRepo
	routes       handler.RouterDeps
}

func newApp(cfg *config.Config, conn *sqlx.DB) (*app, error) {
	loc, err := cfg.Distribution.Location()
	if err != nil {
		return nil, err
	}
	voterRepo := repo.NewVoterRepo(conn)
	tokenRepo := repo.NewTokenRepo(conn)
	electionRepo := repo.NewElectionRepo(conn)
	auditRepo := repo.NewAuditRepo(conn)

	sink := audit.NewAsyncSink(auditRepo, cfg.Audit.BufferSize)
	voters := repo.WrapLruVoterReader(
		voterRepo,
		cfg.Distribution.VoterCacheSize,
		time.Duration(cfg.Distribution.VoterCacheTTLSeconds)*time.Second,
	)
	store := repo.NewCredentialStore(voters, tokenRepo)
	transport := dispatch.NewTransport(
		dispatch.NewSMTPSender(cfg.Mail),
		sink,
		dispatch.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		dispatch.WithBackoff(cfg.Dispatch.InitialBackoff(), cfg.Dispatch.MaxBackoff()),
	)
	renderer := mailtpl.MustDefault()

	distribution := service.NewDistributionService(store, electionRepo, transport, renderer, sink, service.DistributionConfig{
		BatchSize: cfg.Distribution.BatchSize,
		Pacer:     service.NewChunkPacer(cfg.Distribution.BatchDelay()),
		Location:  loc,
	})
	resendWindow := time.Duration(cfg.Distribution.ResendWindowSeconds) * time.Second
	electionService := service.NewElectionService(electionRepo, distribution)
	voterService := service.NewVoterService(voterRepo, electionRepo, distribution, func(id string) {
		repo.ForgetVoter(voters, id)
	})
	tokenService := service.NewTokenService(store, electionRepo, transport, renderer, sink, loc, resendWindow)

	return &app{
		sink:         sink,
		distribution: distribution,
		auditRepo:    auditRepo,
		routes: handler.RouterDeps{
			Elections:    handler.NewElectionHandler(electionService),
			Voters:       handler.NewVoterHandler(voterService),
			Tokens:       handler.NewTokenHandler(tokenService),
			Distribution: handler.NewDistributionHandler(distribution),
			ResendWindow: resendWindow,
		},
	}, nil
}

func runServer(cfg *config.Config, conn *sqlx.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("file_store", cfg.FileStore.Type),
	)
	a, err := newApp(cfg, conn)
	if err != nil {
		return err
	}
	archiveStore, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	loc, err := cfg.Distribution.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler(schedule.WithLocation(loc))
	if err := scheduler.AddJob(job.NewCatchUpJob(a.distribution), cfg.Distribution.CatchUpSpec); err != nil {
		return fmt.Errorf("schedule catch-up: %w", err)
	}
	if err := scheduler.AddJob(job.NewAuditArchiveJob(a.auditRepo, archiveStore, cfg.Audit.ArchiveAfterDays), cfg.Audit.ArchiveSpec); err != nil {
		return fmt.Errorf("schedule audit archive: %w", err)
	}
	scheduler.Start(ctx)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, a.routes)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	// a restart may have interrupted a pass; reconcile once on boot
	a.distribution.TriggerCatchUp()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	a.distribution.Shutdown(shutdownCtx)
	a.sink.Close()
	return nil
}
