// Command broker is the bgpkit-broker service CLI: a crawler/updater daemon
// with an HTTP API (serve), a one-shot local-store seeder (bootstrap), a
// one-shot snapshot shipper (backup), a catalog/store consistency check
// (doctor), and a schema migrator (migrate).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bgpkit/broker/internal/api"
	"github.com/bgpkit/broker/internal/catalog"
	"github.com/bgpkit/broker/internal/config"
	"github.com/bgpkit/broker/internal/crawl"
	"github.com/bgpkit/broker/internal/httpfetch"
	"github.com/bgpkit/broker/internal/metrics"
	"github.com/bgpkit/broker/internal/notify"
	"github.com/bgpkit/broker/internal/snapshot"
	"github.com/bgpkit/broker/internal/store"
	"github.com/bgpkit/broker/internal/updater"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "bootstrap":
		runBootstrap(os.Args[2:])
	case "backup":
		runBackup(os.Args[2:])
	case "doctor":
		runDoctor(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: broker <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve        Run the crawler/updater loop and HTTP API")
	fmt.Println("  bootstrap    Seed the local store from a remote snapshot")
	fmt.Println("  backup       Ship the local store to a backup target")
	fmt.Println("  doctor       Diff the bundled catalog against indexed collectors")
	fmt.Println("  migrate      Apply pending schema migrations and exit")
	fmt.Println()
	fmt.Println("Run 'broker <command> --help' for command-specific flags.")
}

func commonFlags(fs *pflag.FlagSet) (configPath *string, logLevel *string) {
	configPath = fs.String("config", "", "path to a YAML configuration file")
	logLevel = fs.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	return
}

func loadConfig(args []string, fs *pflag.FlagSet, configPath, logLevel *string) (*config.Config, *zap.Logger) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Service.LogLevel = *logLevel
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runServe(args []string) {
	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	bootstrap := fs.Bool("bootstrap", false, "download the configured bootstrap snapshot if the store file is absent")
	cfg, logger := loadConfig(args, fs, configPath, logLevel)
	defer logger.Sync()

	metrics.Register()

	if cfg.Updater.Bootstrap || *bootstrap {
		if err := updater.EnsureBootstrapped(context.Background(), cfg.Store.Path, cfg.Updater.BootstrapURL, logger); err != nil {
			logger.Fatal("bootstrap failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.Open(ctx, cfg.Store.Path, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer s.Close()

	if err := s.RunAnalyze(ctx); err != nil {
		logger.Error("startup analyze failed", zap.Error(err))
	}

	n, err := notify.New(notify.Config{
		URL:         cfg.NATS.URL,
		User:        cfg.NATS.User,
		Password:    cfg.NATS.Password,
		RootSubject: cfg.NATS.RootSubject,
	}, logger.Named("notify"))
	if err != nil {
		logger.Fatal("failed to build notifier", zap.Error(err))
	}
	defer n.Close()

	fetcher := httpfetch.New(httpfetch.Config{
		MaxRetries: cfg.Crawler.MaxRetries,
		BackoffMs:  cfg.Crawler.BackoffMs,
	}, logger.Named("httpfetch"))

	limits := crawl.Limits{
		CollectorConcurrency: int64(cfg.Crawler.CollectorConcurrency),
		MonthConcurrency:     int64(cfg.Crawler.MonthConcurrency),
	}
	riperis := crawl.NewRIPERISCrawler(fetcher, limits, logger.Named("crawl.riperis"))
	rviews := crawl.NewRouteViewsCrawler(fetcher, limits, logger.Named("crawl.routeviews"))

	u := updater.New(updater.Config{
		Interval:      cfg.UpdateInterval(),
		SafetyWindow:  cfg.SafetyWindow(),
		MetaRetention: cfg.MetaRetention(),
		HeartbeatURL:  cfg.Service.HeartbeatURL,
		CrawlLimits:   limits,
	}, s, n, riperis, rviews, logger.Named("updater"))

	apiServer := api.NewServer(cfg.API.Listen, cfg.API.RootPath, s, nil, logger.Named("api"))
	if err := apiServer.Start(); err != nil {
		logger.Fatal("failed to start API server", zap.Error(err))
	}

	updaterErr := make(chan error, 1)
	go func() { updaterErr <- u.Run(ctx) }()

	var backupStop chan struct{}
	if cfg.Backup.To != "" {
		backupStop = make(chan struct{})
		go runBackupLoop(ctx, s, cfg, logger.Named("backup"), backupStop)
	}

	logger.Info("broker started", zap.String("api_listen", cfg.API.Listen), zap.String("store_path", cfg.Store.Path))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-updaterErr:
		if err != nil && err != context.Canceled {
			logger.Error("updater loop exited", zap.Error(err))
		}
	}

	cancel()
	if backupStop != nil {
		close(backupStop)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", zap.Error(err))
	}

	logger.Info("broker stopped")
}

func runBackupLoop(ctx context.Context, s *store.Store, cfg *config.Config, logger *zap.Logger, stop chan struct{}) {
	ticker := time.NewTicker(cfg.BackupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := s.RunAnalyze(ctx); err != nil {
				logger.Error("pre-backup analyze failed", zap.Error(err))
			}
			opts := snapshot.BackupOptions{Target: cfg.Backup.To, CompressZstd: cfg.Backup.CompressZstd, HeartbeatURL: cfg.Backup.HeartbeatURL}
			if err := snapshot.Backup(ctx, s, opts, logger); err != nil {
				logger.Error("scheduled backup failed", zap.Error(err))
			}
		}
	}
}

func runBootstrap(args []string) {
	fs := pflag.NewFlagSet("bootstrap", pflag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	force := fs.Bool("force", false, "download even if a store file already exists")
	cfg, logger := loadConfig(args, fs, configPath, logLevel)
	defer logger.Sync()

	ctx := context.Background()
	if *force {
		if err := snapshot.Bootstrap(ctx, cfg.Updater.BootstrapURL, cfg.Store.Path, true); err != nil {
			logger.Fatal("bootstrap failed", zap.Error(err))
		}
	} else if err := updater.EnsureBootstrapped(ctx, cfg.Store.Path, cfg.Updater.BootstrapURL, logger); err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
	logger.Info("bootstrap complete", zap.String("path", cfg.Store.Path))
}

func runBackup(args []string) {
	fs := pflag.NewFlagSet("backup", pflag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	target := fs.String("to", "", "backup target; overrides backup.to from config (local path or s3://bucket/key)")
	cfg, logger := loadConfig(args, fs, configPath, logLevel)
	defer logger.Sync()

	to := cfg.Backup.To
	if *target != "" {
		to = *target
	}
	if to == "" {
		logger.Fatal("backup target is required: set backup.to in config or pass --to")
	}

	ctx := context.Background()
	s, err := store.Open(ctx, cfg.Store.Path, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer s.Close()

	if err := s.RunAnalyze(ctx); err != nil {
		logger.Error("pre-backup analyze failed", zap.Error(err))
	}

	opts := snapshot.BackupOptions{Target: to, CompressZstd: cfg.Backup.CompressZstd, HeartbeatURL: cfg.Backup.HeartbeatURL}
	if err := snapshot.Backup(ctx, s, opts, logger); err != nil {
		logger.Fatal("backup failed", zap.Error(err))
	}
	logger.Info("backup complete", zap.String("target", to))
}

// runDoctor diffs the bundled Archive Catalog against the collectors
// actually present in the Index Store, surfacing catalog drift (§4.1).
func runDoctor(args []string) {
	fs := pflag.NewFlagSet("doctor", pflag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	cfg, logger := loadConfig(args, fs, configPath, logLevel)
	defer logger.Sync()

	ctx := context.Background()
	s, err := store.Open(ctx, cfg.Store.Path, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer s.Close()

	indexed, err := s.DistinctCollectors(ctx)
	if err != nil {
		logger.Fatal("failed to list indexed collectors", zap.Error(err))
	}
	indexedSet := make(map[string]bool, len(indexed))
	for _, name := range indexed {
		indexedSet[name] = true
	}

	bundled := catalog.All()
	var neverIndexed []string
	bundledSet := make(map[string]bool, len(bundled))
	for _, c := range bundled {
		bundledSet[c.Name] = true
		if !indexedSet[c.Name] {
			neverIndexed = append(neverIndexed, c.Name)
		}
	}

	var notInCatalog []string
	for _, name := range indexed {
		if !bundledSet[name] {
			notInCatalog = append(notInCatalog, name)
		}
	}

	if len(neverIndexed) == 0 && len(notInCatalog) == 0 {
		fmt.Println("catalog and store agree: all bundled collectors have been indexed")
		return
	}
	if len(neverIndexed) > 0 {
		fmt.Printf("bundled collectors with no indexed rows (%d): %v\n", len(neverIndexed), neverIndexed)
	}
	if len(notInCatalog) > 0 {
		fmt.Printf("indexed collectors absent from the bundled catalog (%d): %v\n", len(notInCatalog), notInCatalog)
	}
}

func runMigrate(args []string) {
	fs := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	cfg, logger := loadConfig(args, fs, configPath, logLevel)
	defer logger.Sync()

	ctx := context.Background()
	s, err := store.Open(ctx, cfg.Store.Path, logger.Named("store"))
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	defer s.Close()

	if err := s.RunAnalyze(ctx); err != nil {
		logger.Fatal("post-migration analyze failed", zap.Error(err))
	}
	logger.Info("schema is up to date", zap.String("path", cfg.Store.Path))
}
