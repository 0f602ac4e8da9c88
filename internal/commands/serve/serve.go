// Package serve runs the full release service: the pipeline, the JSON API,
// and the inbound webhook receivers.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/user/modforge/internal/buildpack"
	"github.com/user/modforge/internal/config"
	"github.com/user/modforge/internal/database"
	"github.com/user/modforge/internal/frontend"
	"github.com/user/modforge/internal/gitrepo"
	"github.com/user/modforge/internal/logger"
	"github.com/user/modforge/internal/notify"
	"github.com/user/modforge/internal/pipeline"
	"github.com/user/modforge/internal/runlog"
	"github.com/user/modforge/internal/storage"
	"github.com/user/modforge/internal/trackersync"
	"github.com/user/modforge/pkg/discord"
	"github.com/user/modforge/pkg/taiga"
)

var (
	configFile string
	port       int
	debug      bool
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the release service",
		RunE:  runServe,
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to config file")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

// newBuildComponents wires the builder and packager over the same resolved
// paths: the packager must read the output directory and asset from the repo
// tree the builder writes into, not from the server's working directory.
func newBuildComponents(cfg *config.Config, log *runlog.Log) (*buildpack.Builder, *buildpack.Packager) {
	builder := buildpack.NewBuilder(cfg.RepoPath, cfg.Build, log)
	packager := buildpack.NewPackager(builder.OutputDir(), filepath.Join(cfg.RepoPath, cfg.Build.AssetPath))
	return builder, packager
}

// applyEnv lets secrets come from the environment (or a local .env) instead
// of the config file.
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("MODFORGE_STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("MODFORGE_STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("MODFORGE_TRACKER_PASSWORD"); v != "" {
		cfg.Tracker.Password = v
	}
	if v := os.Getenv("MODFORGE_SESSION_SECRET"); v != "" {
		cfg.Serve.SessionSecret = v
	}
	if v := os.Getenv("MODFORGE_ROLES_TOKEN"); v != "" {
		cfg.Serve.Auth.RolesToken = v
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Get()
	logger.SetDebug(debug)

	godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	listenPort := port
	if !cmd.Flags().Changed("port") && cfg.Serve.Port > 0 {
		listenPort = cfg.Serve.Port
	}

	var db *gorm.DB
	if cfg.Serve.SQLitePath != "" {
		db, err = database.NewSQLiteDB(cfg.Serve.SQLitePath)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		log.Info().Str("path", cfg.Serve.SQLitePath).Msg("Run history database initialized")
	}

	runLog := runlog.New(cfg.Serve.RunLogPath)

	repo, err := gitrepo.Open(cfg.RepoPath, cfg.RemoteURL)
	if err != nil {
		return fmt.Errorf("opening mod repository: %w", err)
	}

	store, err := storage.NewS3Store(cfg.Storage)
	if err != nil {
		return fmt.Errorf("initializing object storage: %w", err)
	}

	tracker := taiga.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.Username, cfg.Tracker.Password, cfg.Tracker.ProjectID)
	if err := tracker.Authenticate(context.Background()); err != nil {
		return fmt.Errorf("authenticating to tracker: %w", err)
	}

	notifier := notify.New(discord.NewWebhook(cfg.Webhooks.ReleaseURL), cfg.Webhooks.BotName, cfg.Webhooks.AvatarURL)

	workDir := filepath.Join(os.TempDir(), "modforge")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}

	var service *frontend.Service
	var runs pipeline.RunRecorder
	if db != nil {
		service = frontend.NewService(db)
		runs = service
	}

	builder, packager := newBuildComponents(cfg, runLog)

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Log:       runLog,
		WorkDir:   workDir,
		Timeout:   cfg.Build.RunTimeout,
		Source:    repo,
		Builder:   builder,
		Packager:  packager,
		Publisher: storage.NewPublisher(store),
		Tracker:   trackersync.New(tracker, cfg.Tracker, cfg.Build.ReportPath, runLog),
		Notifier:  notifier,
		Runs:      runs,
	})

	var commitHook, trackerHook frontend.HookPoster
	if cfg.Webhooks.CommitURL != "" {
		commitHook = discord.NewWebhook(cfg.Webhooks.CommitURL)
	}
	if cfg.Webhooks.TrackerURL != "" {
		trackerHook = discord.NewWebhook(cfg.Webhooks.TrackerURL)
	}

	var runHistory frontend.RunHistory
	if service != nil {
		runHistory = service
	}

	server, err := frontend.NewServer(context.Background(), frontend.ServerConfig{
		Handlers: frontend.HandlersConfig{
			Runner:      runner,
			Runs:        runHistory,
			Store:       store,
			Repo:        repo,
			RunLog:      runLog,
			BugsPath:    cfg.Build.ReportPath,
			CommitHook:   commitHook,
			TrackerHook:  trackerHook,
			TrackerBotID: cfg.Tracker.BotUserID,
			BotName:      cfg.Webhooks.BotName,
			AvatarURL:    cfg.Webhooks.AvatarURL,
		},
		Auth:          cfg.Serve.Auth,
		SessionSecret: cfg.Serve.SessionSecret,
		CommitSecret:  cfg.Serve.CommitSecret,
		TrackerSecret: cfg.Serve.TrackerSecret,
	})
	if err != nil {
		return fmt.Errorf("initializing frontend: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", listenPort),
		Handler:      server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		log.Info().
			Int("port", listenPort).
			Bool("auth", cfg.Serve.Auth.Issuer != "").
			Bool("run_history", db != nil).
			Msg("Starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
