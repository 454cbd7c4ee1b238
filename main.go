package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"proxybroker/internal/adapter/broker"
	"proxybroker/internal/adapter/checker"
	"proxybroker/internal/adapter/fetcher"
	"proxybroker/internal/adapter/pool"
	"proxybroker/internal/adapter/scraper"
	"proxybroker/internal/adapter/superproxy"
	"proxybroker/internal/adapter/tui"
	"proxybroker/internal/config"
	"proxybroker/internal/core/domain"
	"proxybroker/internal/core/ports"
	"proxybroker/internal/logger"
	"proxybroker/internal/version"
	"proxybroker/pkg/format"
	"proxybroker/pkg/nerdstats"
)

// cliFlags holds the flag values shared by every subcommand (spec.md §6's
// `-c`/`-o`/`-v` CLI surface).
type cliFlags struct {
	configPath string
	overrides  []string
	verbose    bool
}

func main() {
	startTime := time.Now()
	var flags cliFlags

	root := &cobra.Command{
		Use:           "proxybroker",
		Short:         version.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().StringArrayVarP(&flags.overrides, "override", "o", nil, "override a config key (key.path=value), repeatable")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newVersionCmd(),
		newFetcherCmd(&flags, startTime),
		newCheckerCmd(&flags, startTime),
		newSuperproxyCmd(&flags, startTime),
		newStatsCmd(&flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			vlog := log.New(log.Writer(), "", 0)
			version.PrintVersionInfo(true, vlog)
			return nil
		},
	}
}

// setupLogging loads the named theme and builds the styled logger every
// subcommand reports through, mirroring the teacher's startup sequence.
func setupLogging(flags *cliFlags, cfg *config.Config) (*slog.Logger, *logger.StyledLogger, func(), error) {
	level := cfg.Logging.Level
	if flags.verbose {
		level = "debug"
	}
	lcfg := &logger.Config{
		Level:      level,
		LogDir:     "./logs",
		Theme:      "default",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		FileOutput: cfg.Logging.Output != "stdout",
		PrettyLogs: cfg.Logging.Format != "json",
	}
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialising logger: %w", err)
	}
	slog.SetDefault(logInstance)
	return logInstance, styledLogger, cleanup, nil
}

// loadConfig wraps config.Load with the subcommand's -c/-o flags.
func loadConfig(flags *cliFlags) (*config.Config, error) {
	return config.Load(flags.configPath, flags.overrides, nil)
}

func newFetcherCmd(flags *cliFlags, startTime time.Time) *cobra.Command {
	var out string
	var join bool

	cmd := &cobra.Command{
		Use:   "fetcher",
		Short: "scrape proxy listing sources and land survivors in a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			_, styledLogger, cleanup, err := setupLogging(flags, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext()
			defer cancel()

			p := pool.New(pool.Config{
				MaxSimultaneous:  cfg.Pool.MaxSimultaneous,
				MaxFail:          cfg.Pool.MaxFail,
				UpdateInterval:   cfg.Pool.UpdateInterval,
				RecheckTimeout:   cfg.Pool.RecheckTimeout,
				PoolManagerIdle:  cfg.Pool.PoolManagerIdle,
				BlacklistTimeout: cfg.Pool.BlacklistTimeout,
				MinActiveSize:    cfg.Pool.MinActiveSize,
				HistoryEnabled:   cfg.Pool.HistoryEnabled,
			})
			if cfg.Pool.SnapshotPath != "" {
				if err := p.Load(cfg.Pool.SnapshotPath); err != nil {
					styledLogger.Warn("fetcher: no existing snapshot loaded", "path", cfg.Pool.SnapshotPath, "error", err)
				}
			}

			var chk ports.Checker
			if cfg.Checker.Enabled {
				c, err := checker.New(checkerConfigFrom(cfg), styledLogger)
				if err != nil {
					return fmt.Errorf("building checker: %w", err)
				}
				chk = c
			}

			registry := scraper.NewDefaultRegistry()
			sessOpts := scraper.DefaultSessionOptions()
			sessOpts.Log = styledLogger
			sessOpts.Timeout = cfg.Scrape.RequestTimeout
			sessOpts.RetryCount = cfg.Scrape.RetryCount
			sessOpts.RetryWait = cfg.Scrape.RequestWait

			f := fetcher.New(fetcher.Config{
				Sources:           registry.Resolve(cfg.Scrape.Sources),
				ConcurrentWorkers: cfg.Scrape.Concurrency,
				Filter:            postFilterFrom(cfg),
			}, registry, sessOpts, p, chk, styledLogger)

			styledLogger.Info("fetcher: starting scrape run", "sources", cfg.Scrape.Sources)
			if err := f.Run(ctx, join); err != nil {
				return fmt.Errorf("fetcher run: %w", err)
			}

			if cfg.Pool.SnapshotPath != "" {
				if err := p.Save(cfg.Pool.SnapshotPath); err != nil {
					styledLogger.Error("fetcher: failed to save snapshot", "error", err)
				}
			}

			snap := p.Snapshot()
			styledLogger.InfoWithCount("fetcher: run complete, active proxies", len(snap.Active))

			if out != "" {
				if err := writeSnapshotJSON(out, snap.Active); err != nil {
					return fmt.Errorf("writing output: %w", err)
				}
			}

			reportProcessStats(styledLogger, startTime, cfg)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write discovered proxies as JSON to this path")
	cmd.Flags().BoolVar(&join, "join", true, "block until the scrape run completes")
	return cmd
}

func newCheckerCmd(flags *cliFlags, startTime time.Time) *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "checker",
		Short: "re-validate a snapshot's proxies against the reference target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			_, styledLogger, cleanup, err := setupLogging(flags, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext()
			defer cancel()

			p := pool.New(pool.Config{
				MaxSimultaneous:  cfg.Pool.MaxSimultaneous,
				MaxFail:          cfg.Pool.MaxFail,
				UpdateInterval:   cfg.Pool.UpdateInterval,
				RecheckTimeout:   cfg.Pool.RecheckTimeout,
				PoolManagerIdle:  cfg.Pool.PoolManagerIdle,
				BlacklistTimeout: cfg.Pool.BlacklistTimeout,
				MinActiveSize:    cfg.Pool.MinActiveSize,
				HistoryEnabled:   cfg.Pool.HistoryEnabled,
			})

			path := in
			if path == "" {
				path = cfg.Pool.SnapshotPath
			}
			if err := p.Load(path); err != nil {
				return fmt.Errorf("loading snapshot %s: %w", path, err)
			}

			c, err := checker.New(checkerConfigFrom(cfg), styledLogger)
			if err != nil {
				return fmt.Errorf("building checker: %w", err)
			}

			snap := p.Snapshot()
			all := append(append([]*domain.Proxy(nil), snap.Active...), snap.Blacklisted...)
			styledLogger.InfoWithCount("checker: validating proxies", len(all))

			var healthy, unhealthy int
			for _, proxy := range all {
				if err := c.Check(ctx, proxy); err != nil {
					unhealthy++
					p.Fail(proxy, cfg.Pool.RecheckTimeout, err, nil, "checker-cli")
					continue
				}
				healthy++
				p.Success(proxy, cfg.Pool.RecheckTimeout, nil, "checker-cli")
			}
			styledLogger.InfoWithHealthStats("checker: run complete", healthy, unhealthy, 0)

			if cfg.Pool.SnapshotPath != "" {
				if err := p.Save(cfg.Pool.SnapshotPath); err != nil {
					styledLogger.Error("checker: failed to save snapshot", "error", err)
				}
			}

			reportProcessStats(styledLogger, startTime, cfg)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "snapshot path to validate (defaults to pool.snapshot_path)")
	return cmd
}

func newSuperproxyCmd(flags *cliFlags, startTime time.Time) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "superproxy",
		Short: "run the forward-HTTP-proxy gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			logInstance, styledLogger, cleanup, err := setupLogging(flags, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			styledLogger.Info("superproxy: initialising", "version", version.Version, "pid", os.Getpid())

			ctx, cancel := signalContext()
			defer cancel()

			p := pool.New(pool.Config{
				MaxSimultaneous:  cfg.Pool.MaxSimultaneous,
				MaxFail:          cfg.Pool.MaxFail,
				UpdateInterval:   cfg.Pool.UpdateInterval,
				RecheckTimeout:   cfg.Pool.RecheckTimeout,
				PoolManagerIdle:  cfg.Pool.PoolManagerIdle,
				BlacklistTimeout: cfg.Pool.BlacklistTimeout,
				MinActiveSize:    cfg.Pool.MinActiveSize,
				HistoryEnabled:   cfg.Pool.HistoryEnabled,
			})
			if cfg.Pool.SnapshotPath != "" {
				if err := p.Load(cfg.Pool.SnapshotPath); err != nil {
					styledLogger.Warn("superproxy: no existing snapshot loaded", "path", cfg.Pool.SnapshotPath, "error", err)
				}
			}

			var chk ports.Checker
			if cfg.Checker.Enabled {
				c, err := checker.New(checkerConfigFrom(cfg), styledLogger)
				if err != nil {
					return fmt.Errorf("building checker: %w", err)
				}
				chk = c
			}

			registry := scraper.NewDefaultRegistry()
			sessOpts := scraper.DefaultSessionOptions()
			sessOpts.Log = styledLogger
			sessOpts.Timeout = cfg.Scrape.RequestTimeout
			sessOpts.RetryCount = cfg.Scrape.RetryCount
			sessOpts.RetryWait = cfg.Scrape.RequestWait

			f := fetcher.New(fetcher.Config{
				Sources:           registry.Resolve(cfg.Scrape.Sources),
				ConcurrentWorkers: cfg.Scrape.Concurrency,
				Filter:            postFilterFrom(cfg),
			}, registry, sessOpts, p, chk, styledLogger)
			p.SetFetcher(f)
			if chk != nil {
				p.SetChecker(chk)
			}

			sess := broker.New(p, broker.Options{
				DefaultTimeout: cfg.Broker.RequestTimeout,
				DefaultRetries: cfg.Broker.MaxRetries,
			})

			srv, err := superproxy.New(cfg.Superproxy, cfg.Broker, p, sess, chk, f, styledLogger)
			if err != nil {
				return fmt.Errorf("building superproxy: %w", err)
			}

			go func() {
				sig := <-sigCh()
				styledLogger.Info("superproxy: shutdown signal received", "signal", sig.String())
				cancel()
			}()

			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.Start(ctx) }()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					styledLogger.Error("superproxy: server error", "error", err)
				}
			}
			<-ctx.Done()

			if cfg.Pool.SnapshotPath != "" {
				if err := p.Save(cfg.Pool.SnapshotPath); err != nil {
					styledLogger.Error("superproxy: failed to save snapshot on shutdown", "error", err)
				}
			}

			reportProcessStats(styledLogger, startTime, cfg)
			styledLogger.Info("proxybroker superproxy has shut down")
			_ = logInstance
			return nil
		},
	}
	return cmd
}

// newStatsCmd runs the bubbletea-based live operator console (internal/
// adapter/tui) against a running superproxy's admin JSON endpoints.
func newStatsCmd(flags *cliFlags) *cobra.Command {
	var addr, username, password string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "watch a running superproxy's pool status live",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}
				addr = fmt.Sprintf("http://%s:%d", cfg.Superproxy.Host, cfg.Superproxy.Port)
				if username == "" && len(cfg.Superproxy.AdminBasicAuth) > 0 {
					for u, p := range cfg.Superproxy.AdminBasicAuth {
						username, password = u, p
						break
					}
				}
			}
			m := tui.New(addr, username, password)
			_, err := tea.NewProgram(m).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "base URL of the superproxy admin API (defaults to config's superproxy host:port)")
	cmd.Flags().StringVar(&username, "user", "", "admin basic-auth username")
	cmd.Flags().StringVar(&password, "pass", "", "admin basic-auth password")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	return ctx, cancel
}

func sigCh() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return ch
}

func checkerConfigFrom(cfg *config.Config) checker.Config {
	return checker.Config{
		PoolSize:        cfg.Checker.PoolSize,
		Timeout:         cfg.Checker.Timeout,
		RetryCount:      cfg.Checker.RetryCount,
		RetryWait:       cfg.Checker.RetryWait,
		HTTPCheck:       cfg.Checker.HTTPCheck,
		HTTPSCheck:      cfg.Checker.HTTPSCheck,
		HTTPSForceCheck: cfg.Checker.HTTPSForceCheck,
		Target:          cfg.Checker.Target,
		HistoryLength:   cfg.Checker.HistoryLength,
	}
}

func postFilterFrom(cfg *config.Config) scraper.PostFilter {
	var types []domain.ProxyType
	for _, t := range cfg.Scrape.Types {
		types = append(types, domain.ProxyType(t))
	}
	return scraper.PostFilter{
		Countries:   domain.FilterConfig{Include: cfg.Scrape.Countries},
		Anonymities: domain.FilterConfig{Include: cfg.Scrape.Anonymities},
		Types:       types,
		MaxAge:      cfg.Scrape.SuccessDelta,
	}
}

func writeSnapshotJSON(path string, proxies []*domain.Proxy) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(proxies)
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time, cfg *config.Config) {
	if !cfg.Engineering.ShowNerdStats {
		return
	}
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	log.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	log.Info("Process Allocation Stats",
		"total_mallocs", stats.Mallocs,
		"total_frees", stats.Frees,
		"net_objects", int64(stats.Mallocs)-int64(stats.Frees),
	)

	if stats.NumGC > 0 {
		log.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
		)
	}

	log.Info("Goroutine Stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"num_cgo_calls", stats.NumCgoCall,
	)

	log.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)
}
