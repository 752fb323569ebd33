package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jobportal/identity/internal/config"
	"github.com/jobportal/identity/internal/database"
	"github.com/jobportal/identity/internal/portalapi"
	"github.com/jobportal/identity/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// app holds what every command needs
type app struct {
	cfg        *config.PortalConfig
	logger     *zap.Logger
	client     *portalapi.Client
	store      *session.Store
	controller *session.Controller
	file       *session.FileMedium
	closers    []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		_ = c()
	}
	_ = a.logger.Sync()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		a       = &app{}
		apiURL  string
		debug   bool
		storage string
	)

	cmd := &cobra.Command{
		Use:           "portal",
		Short:         "Job portal client",
		Long:          "Signs in to the job portal identity server and serves role-gated portal views.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPortal()
			if err != nil {
				return err
			}
			if apiURL != "" {
				cfg.APIBaseURL = apiURL
			}
			if debug {
				cfg.Debug = true
			}
			if storage != "" {
				cfg.Storage.Backend = storage
			}
			return a.init(cmd.Context(), cfg)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.Close()
		},
	}

	cmd.PersistentFlags().StringVar(&apiURL, "api", "", "Identity server base URL (overrides PORTAL_API_BASE_URL)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&storage, "storage", "", "Session storage backend: file, redis, memory or none")

	cmd.AddCommand(
		loginCmd(a),
		registerCmd(a),
		logoutCmd(a),
		whoamiCmd(a),
		serveCmd(a),
	)
	return cmd
}

func (a *app) init(ctx context.Context, cfg *config.PortalConfig) error {
	a.cfg = cfg
	a.logger = newLogger(cfg)
	a.client = portalapi.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)

	medium, err := a.openMedium(ctx)
	if err != nil {
		return err
	}
	a.store = session.NewStore(medium, a.logger.Named("store"))
	a.controller = session.NewController(a.store, a.client, cfg.Routes, a.logger.Named("session"))
	return nil
}

func (a *app) openMedium(ctx context.Context) (session.Medium, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageFile:
		path := a.cfg.Storage.Path
		if path == "" {
			var err error
			if path, err = session.DefaultSessionPath(); err != nil {
				return nil, fmt.Errorf("failed to resolve session path: %w", err)
			}
		}
		a.file = session.NewFileMedium(path)
		return a.file, nil
	case config.StorageRedis:
		client, err := database.OpenRedis(ctx, a.cfg.Storage.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return session.NewRedisMedium(client, a.cfg.Storage.RedisKey), nil
	case config.StorageMemory:
		return session.NewMemoryMedium(), nil
	case config.StorageNone:
		a.logger.Warn("durable session storage disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

// newLogger writes JSON logs to a rotating file when PORTAL_LOG_FILE is set,
// otherwise to stderr
func newLogger(cfg *config.PortalConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err == nil {
			sink = zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level)
	return zap.New(core, zap.AddCaller())
}
