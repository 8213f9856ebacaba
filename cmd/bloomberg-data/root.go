// Command bloomberg-data is the quote collector's composition root and
// CLI. The root command runs the scheduler against a set of tracked
// symbols; status and budget are read-only inspection subcommands.
// Wiring style (config -> logger -> subsystems -> signal-driven
// shutdown) follows the composition-root pattern of a gateway's main.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kkhwan1/bloomberg-data/backend"
	"github.com/kkhwan1/bloomberg-data/breaker"
	"github.com/kkhwan1/bloomberg-data/cache"
	"github.com/kkhwan1/bloomberg-data/clock"
	"github.com/kkhwan1/bloomberg-data/config"
	"github.com/kkhwan1/bloomberg-data/costtracker"
	"github.com/kkhwan1/bloomberg-data/hybrid"
	"github.com/kkhwan1/bloomberg-data/logger"
	"github.com/kkhwan1/bloomberg-data/metrics"
	"github.com/kkhwan1/bloomberg-data/quote"
	"github.com/kkhwan1/bloomberg-data/scheduler"
	"github.com/kkhwan1/bloomberg-data/sink"
	"github.com/kkhwan1/bloomberg-data/statusserver"
	"github.com/kkhwan1/bloomberg-data/symbols"
)

// exit codes per §6 of the collector's CLI contract.
const (
	exitOK         = 0
	exitConfig     = 1
	exitOperation  = 2
	exitInterrupt  = 130
)

var (
	flagAssetClass string
	flagInterval   int
	flagOnce       bool
	flagForceFresh bool
	flagLogLevel   string
	flagSymbolsYAML string
	flagOutputJSONL string
	flagOutputCSV   string
)

var rootCmd = &cobra.Command{
	Use:   "bloomberg-data [symbols...]",
	Short: "Cost-optimized financial quote collector",
	Long: `bloomberg-data periodically collects market quotes for a set of
tracked symbols across a cache, free backends, and a budget-gated paid
backend, writing normalized records to the configured sinks.`,
	RunE: runCollect,
}

func init() {
	rootCmd.Flags().StringVar(&flagAssetClass, "asset-class", "", "asset class for positional symbols (stocks|forex|commodities|index|crypto)")
	rootCmd.Flags().IntVar(&flagInterval, "interval", 0, "collection interval in minutes (default: UPDATE_INTERVAL_SECONDS)")
	rootCmd.Flags().BoolVar(&flagOnce, "once", false, "run a single collection and exit")
	rootCmd.Flags().BoolVar(&flagForceFresh, "force-fresh", false, "bypass the cache on every lookup")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "override LOG_LEVEL (DEBUG|INFO|WARNING|ERROR|CRITICAL)")
	rootCmd.Flags().StringVar(&flagSymbolsYAML, "symbols-file", "", "path to a symbols.yaml watchlist (default: <data-dir>/symbols.yaml if present)")
	rootCmd.Flags().StringVar(&flagOutputJSONL, "jsonl", "", "append collected quotes to this JSONL file")
	rootCmd.Flags().StringVar(&flagOutputCSV, "csv", "", "append collected quotes to this CSV file")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(budgetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitConfig)
	}
}

// composition bundles every long-lived subsystem the root and
// inspection subcommands need, built once from Config.
type composition struct {
	cfg      *config.Config
	clock    clock.Clock
	tracker  *costtracker.Tracker
	cache    *cache.Cache
	breakers map[string]*breaker.Breaker
	source   *hybrid.Source
	metrics  *metrics.Registry
}

func buildComposition() (*composition, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	clk := clock.Real{}
	dataDir := cfg.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	logsDir := "logs"
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	tracker := costtracker.New(filepath.Join(logsDir, "cost_tracking.json"), cfg.TotalBudget, cfg.CostPerRequest, clk, logger.New(cfg))
	c, err := cache.Open(filepath.Join(dataDir, "quote_cache.db"), cfg.CacheTTL, clk, logger.New(cfg))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	freeBreaker := breaker.New("free", 5, 60*time.Second, clk)
	freeAdapter := backend.NewFreeAdapter("http://localhost:8081/quote", quote.Stocks, cfg.RequestTimeout, backend.FixtureParse)

	breakers := map[string]*breaker.Breaker{"free": freeBreaker}

	var paidAdapter backend.Adapter
	var paidBreaker *breaker.Breaker
	if cfg.PaidEnabled {
		paidBreaker = breaker.New("paid", 3, 120*time.Second, clk)
		paidAdapter = backend.NewPaidAdapter("https://paid-backend.example/quote", cfg.BrightDataToken, quote.Stocks, cfg.RequestTimeout, 2.0, backend.FixtureParse)
		breakers["paid"] = paidBreaker
	}

	src := hybrid.New(c, tracker, []backend.Adapter{freeAdapter}, []*breaker.Breaker{freeBreaker}, paidAdapter, paidBreaker, clk, logger.New(cfg))

	reg := metrics.New()
	tracker.SetMetrics(reg)
	c.SetMetrics(reg)
	for _, b := range breakers {
		b.SetMetrics(reg)
	}

	return &composition{
		cfg:      cfg,
		clock:    clk,
		tracker:  tracker,
		cache:    c,
		breakers: breakers,
		source:   src,
		metrics:  reg,
	}, nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	comp, err := buildComposition()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfig)
	}
	defer comp.cache.Close()

	log := logger.New(comp.cfg)

	class := quote.AssetClass(flagAssetClass)
	if flagAssetClass == "" {
		class = quote.Stocks
	}
	if !class.Valid() {
		fmt.Fprintf(os.Stderr, "configuration error: invalid --asset-class %q\n", flagAssetClass)
		os.Exit(exitConfig)
	}

	var sinks []sink.Sink
	if flagOutputJSONL != "" {
		s, err := sink.NewJSONLSink(flagOutputJSONL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			os.Exit(exitConfig)
		}
		defer s.Close()
		sinks = append(sinks, s)
	}
	if flagOutputCSV != "" {
		s, err := sink.NewCSVSink(flagOutputCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			os.Exit(exitConfig)
		}
		defer s.Close()
		sinks = append(sinks, s)
	}

	interval := time.Duration(flagInterval) * time.Minute
	if !cmd.Flags().Changed("interval") {
		interval = comp.cfg.UpdateInterval
	}
	sched := scheduler.New(comp.source, comp.tracker, comp.cache, sinks, interval, flagForceFresh, comp.clock, log)
	sched.SetMetrics(comp.metrics)

	watchlistPath := flagSymbolsYAML
	if watchlistPath == "" {
		watchlistPath = filepath.Join(comp.cfg.DataDir, "symbols.yaml")
	}
	entries, err := symbols.Load(watchlistPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfig)
	}
	for _, e := range entries {
		sched.AddSymbol(e.Symbol, e.Class)
	}
	for _, sym := range args {
		sched.AddSymbol(sym, class)
	}

	statusSrv := statusserver.New(comp.cfg.MetricsAddr, comp.tracker, comp.cache, comp.breakers, comp.metrics, log)
	statusSrv.Start()

	uptimeCtx, uptimeCancel := context.WithCancel(context.Background())
	go comp.metrics.RunUptimeLoop(uptimeCtx, 15*time.Second, log)

	defer func() {
		uptimeCancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = statusSrv.Stop(ctx)
	}()

	if flagOnce {
		report := sched.ForceCollection(context.Background())
		log.Info().Int("quotes", report.Quotes).Int("failed", report.Failed).Msg("one-shot collection complete")
		if report.Quotes == 0 {
			os.Exit(exitOperation)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sched.Start(ctx)
	log.Info().Dur("interval", interval).Msg("collector running")

	<-sigCh
	log.Info().Msg("shutdown signal received")
	cancel()
	sched.Stop(true)
	os.Exit(exitInterrupt)
	return nil
}
