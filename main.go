package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/emna-belhajltaief/smart-task-manager/ai"
	"github.com/emna-belhajltaief/smart-task-manager/api"
	"github.com/emna-belhajltaief/smart-task-manager/config"
	"github.com/emna-belhajltaief/smart-task-manager/storage"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "taskflow",
		Short:         "Kanban board API with AI task planning",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(initStorageCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogJSON {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Database.Driver, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.WithField("driver", cfg.Database.Driver).Info("migrations applied")
			return nil
		},
	}
}

func initStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the Azure activity table and events queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Azure.ConnectionString == "" {
				return errors.New("missing STORAGE_CONNECTION_STRING")
			}
			logger.Info("storage init starting")
			if err := storage.CreateTables(cmd.Context(), cfg.Azure.ConnectionString, []string{cfg.Azure.ActivityTable}); err != nil {
				return fmt.Errorf("create tables: %w", err)
			}
			if err := storage.CreateQueues(cmd.Context(), cfg.Azure.ConnectionString, []string{cfg.Azure.EventsQueue}); err != nil {
				return fmt.Errorf("create queues: %w", err)
			}
			logger.Info("storage init complete")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		sub string
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token accepted in auth test mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Auth.TestMode {
				return errors.New("tokens can only be minted with AUTH0_TEST_MODE=1")
			}
			token, err := api.SignTestToken(cfg.Auth.TestSecret, sub, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "integration-user", "user id placed in the sub claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	store, err := storage.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	var rc *redis.Client
	if cfg.Redis.ConnectionString != "" {
		rc = redis.NewClient(redisOptions(cfg.Redis.ConnectionString))
		defer rc.Close()
	} else {
		logger.Warn("no redis configured; board cache, idempotency and cross-instance updates are disabled")
	}

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		return err
	}

	sinks := []api.ActivitySink{store.Activity}
	if cfg.Azure.ConnectionString != "" {
		if cfg.Azure.ActivityTable != "" {
			table, err := storage.NewTableActivityLog(cfg.Azure.ConnectionString, cfg.Azure.ActivityTable)
			if err != nil {
				return fmt.Errorf("activity table: %w", err)
			}
			sinks = append(sinks, table)
		}
		if cfg.Azure.EventsQueue != "" {
			queue, err := storage.NewQueuePublisher(cfg.Azure.ConnectionString, cfg.Azure.EventsQueue)
			if err != nil {
				return fmt.Errorf("events queue: %w", err)
			}
			sinks = append(sinks, queue)
		}
	}
	recorder := api.NewActivityRecorder(cfg.Activity, logger, sinks...)
	defer recorder.Close()

	deps := api.Deps{
		Boards:         store.Boards,
		Lists:          store.Lists,
		Tasks:          store.Tasks,
		Subtasks:       store.Subtasks,
		States:         storage.NewBoardCache(store, rc, cfg.Redis.BoardCacheTTL),
		ActivityLog:    store.Activity,
		Generations:    store.Generations,
		Vectors:        store.Vectors,
		Auth:           auth,
		Activity:       recorder,
		Health:         store,
		Logger:         logger,
		MatchThreshold: cfg.OpenAI.MatchThreshold,
		MatchCount:     cfg.OpenAI.MatchCount,
	}
	if cfg.OpenAI.APIKey != "" {
		deps.Assistant = ai.NewClient(cfg.OpenAI, nil, logger)
	} else {
		logger.Warn("OPENAI_API_KEY not set; ai endpoints are disabled")
	}
	var updates *api.RedisUpdates
	if rc != nil {
		deps.Deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
		updates = api.NewRedisUpdates(rc, cfg.Redis.UpdatesChannel)
		deps.Updates = updates
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))

	srv := api.Register(e, deps)
	if updates != nil {
		go updates.Subscribe(ctx, logger, srv.Notify)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newAuth(cfg config.Auth) (*api.Auth, error) {
	if cfg.TestMode {
		return api.NewAuth(nil, cfg), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg), nil
}

// redisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
