package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	tiktok "github.com/RavensCloud/tiktok-trending"
	"github.com/RavensCloud/tiktok-trending/internal/config"
	"github.com/RavensCloud/tiktok-trending/internal/logger"
	"github.com/RavensCloud/tiktok-trending/internal/metrics"
	"github.com/RavensCloud/tiktok-trending/internal/pipeline"
	"github.com/RavensCloud/tiktok-trending/internal/store"
)

type flags struct {
	config      string
	attempts    int
	count       int
	concurrency int
	out         string
	migrate     bool
	replay      string
	noDB        bool
	logLevel    string
	saveCreds   bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "Path to YAML config file")
	flag.IntVar(&f.attempts, "attempts", 0, "Token harvest attempts (overrides config)")
	flag.IntVar(&f.count, "count", 0, "Trending items per session (overrides config)")
	flag.IntVar(&f.concurrency, "concurrency", 0, "Sessions streaming at once (overrides config)")
	flag.StringVar(&f.out, "out", "", "Snapshot output path (overrides config)")
	flag.BoolVar(&f.migrate, "migrate", false, "Apply database migrations before the run")
	flag.StringVar(&f.replay, "replay", "", "Insert an existing snapshot into the database and exit")
	flag.BoolVar(&f.noDB, "no-db", false, "Skip the database write")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&f.saveCreds, "save-proxy-creds", false, "Store PROXY_USER/PROXY_PASS in the OS keyring and exit")
	flag.Parse()

	os.Exit(mainWithCode(f))
}

func mainWithCode(f flags) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Unhandled exception: %v\n%s", r, debug.Stack())
			code = 2
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		fmt.Fprintf(os.Stderr, "tiktok-trending: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	applyFlags(cfg, f)

	if f.saveCreds {
		if cfg.Proxy.Username == "" || cfg.Proxy.Password == "" {
			return errors.New("-save-proxy-creds requires PROXY_USER and PROXY_PASS")
		}
		if err := config.StoreProxyCredentials(cfg.Proxy.Username, cfg.Proxy.Password); err != nil {
			return fmt.Errorf("save proxy credentials: %w", err)
		}
		fmt.Printf("Proxy credentials saved to keyring service %q\n", config.KeyringService)
		return nil
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	if cfg.Database.Migrate && !cfg.Database.Disabled {
		if err := store.Migrate(ctx, cfg.Database, log); err != nil {
			return err
		}
	}

	var open pipeline.SinkOpener
	if !cfg.Database.Disabled {
		dbCfg := cfg.Database
		open = func(ctx context.Context) (store.Sink, error) {
			return store.Open(ctx, dbCfg)
		}
	}
	persister := pipeline.NewPersister(open, cfg.Output.Path)

	m := metrics.New(prometheus.NewRegistry())

	if f.replay != "" {
		r := pipeline.NewRunner(nil, nil, nil, persister).
			WithLogger(log).
			WithMetrics(m, cfg.Metrics.Pushgateway, cfg.Metrics.Job)
		report, err := r.Replay(ctx, f.replay)
		if err != nil {
			return err
		}
		fmt.Printf("Replayed %d records, %d inserted\n", report.Unique, report.Inserted)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	runner, err := buildRunner(cfg, log, persister)
	if err != nil {
		return err
	}
	runner.WithLogger(log).WithMetrics(m, cfg.Metrics.Pushgateway, cfg.Metrics.Job)

	report, err := runner.Run(ctx)
	printReport(os.Stdout, report)
	return err
}

func applyFlags(cfg *config.Config, f flags) {
	if f.attempts > 0 {
		cfg.Harvest.Attempts = f.attempts
	}
	if f.count > 0 {
		cfg.Collect.PageSize = f.count
	}
	if f.concurrency > 0 {
		cfg.Collect.Concurrency = f.concurrency
	}
	if f.out != "" {
		cfg.Output.Path = f.out
	}
	if f.migrate {
		cfg.Database.Migrate = true
	}
	if f.noDB {
		cfg.Database.Disabled = true
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
}

func buildRunner(cfg *config.Config, log zerolog.Logger, persister *pipeline.Persister) (*pipeline.Runner, error) {
	endpoints, err := cfg.ProxyEndpoints()
	if err != nil {
		return nil, err
	}
	pool, err := tiktok.NewProxyPool(endpoints)
	if err != nil {
		return nil, err
	}
	creds := cfg.ProxyCredentials()

	harvester := tiktok.NewHarvester(&tiktok.RodLauncher{Bin: cfg.Harvest.ChromiumBin}, pool, creds).
		WithAttempts(cfg.Harvest.Attempts).
		WithNavigationTimeout(cfg.Harvest.NavigationTimeout).
		WithSettleDelay(cfg.Harvest.SettleDelay).
		WithUserAgent(cfg.Harvest.UserAgent).
		WithTargetURL(cfg.Harvest.TargetURL)

	opener := &tiktok.BrowserSessionOpener{
		UserAgent:     cfg.Harvest.UserAgent,
		FeedDelay:     cfg.Collect.FeedDelay,
		Logger:        log,
		Pool:          pool,
		Credentials:   creds,
		ProxySessions: cfg.Collect.ProxySessions,
		Sign:          cfg.Collect.Sign,
	}

	collector := tiktok.NewCollector(cfg.Collect.PageSize).WithConcurrency(cfg.Collect.Concurrency)

	return pipeline.NewRunner(harvester, opener, collector, persister), nil
}

func printReport(w io.Writer, r pipeline.Report) {
	fmt.Fprintf(w, "Run:       %s\n", r.RunID)
	fmt.Fprintf(w, "Tokens:    %d/%d\n", r.Tokens, r.Attempts)
	fmt.Fprintf(w, "Sessions:  %d (%d failed)\n", r.Sessions, r.FailedSessions)
	fmt.Fprintf(w, "Videos:    %d retrieved, %d unique\n", r.Items, r.Unique)
	switch {
	case r.DBSkipped:
		fmt.Fprintf(w, "Database:  skipped\n")
	case r.DBErr != nil:
		fmt.Fprintf(w, "Database:  failed: %v\n", r.DBErr)
	default:
		fmt.Fprintf(w, "Database:  %d inserted\n", r.Inserted)
	}
	if r.SnapshotErr != nil {
		fmt.Fprintf(w, "Snapshot:  failed: %v\n", r.SnapshotErr)
	} else if r.Unique > 0 || r.Sessions > 0 {
		fmt.Fprintf(w, "Snapshot:  %s\n", r.SnapshotPath)
	}
	fmt.Fprintf(w, "Duration:  %s\n", r.Duration.Round(time.Millisecond))
}
