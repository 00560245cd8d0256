package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"replwatch/internal/cache"
	"replwatch/internal/collect"
	"replwatch/internal/config"
	"replwatch/internal/detect"
	"replwatch/internal/heal"
	"replwatch/internal/history"
	"replwatch/internal/logging"
	"replwatch/internal/metrics"
	"replwatch/internal/model"
	"replwatch/internal/notify"
	"replwatch/internal/output"
	"replwatch/internal/retry"
	"replwatch/internal/run"
	"replwatch/internal/source"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML configuration")
		mode       = flag.String("mode", "audit", "Run mode: audit|repair|verify|full")
		outDir     = flag.String("out", "", "Output directory (overrides config)")
		policy     = flag.String("policy", "", "Healing policy: conservative|moderate|aggressive (overrides config)")
		dryRun     = flag.Bool("dry-run", false, "Preview healing decisions without mutating remote state")
		forceFull  = flag.Bool("force-full", false, "Bypass the delta cache for this run")
		fast       = flag.Bool("fast", false, "Use the fast collection profile (higher throttle)")
		csvExport  = flag.Bool("csv", false, "Also write CSV exports alongside the JSON summary")
		ci         = flag.Bool("ci", false, "CI mode (machine-readable output)")
		site       = flag.String("site", "", "Restrict the run to a named site")
		nodeList   = flag.String("nodes", "", "Comma-separated explicit node list")
		timeoutSec = flag.Int("timeout", 0, "Overall run timeout in seconds (0 = unbounded)")
	)
	flag.Parse()

	runMode, err := parseMode(*mode)
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	applyOverrides(&cfg, *outDir, *policy, *site, *nodeList, *dryRun, *timeoutSec)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logging error: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		log.Fatalf("mkdir failed: %v", err)
	}

	if cfg.Metrics.Enabled {
		metrics.Serve(cfg.Metrics.Listen, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retryOpts := retry.Options{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Logger:       logger,
	}
	thresholds := detect.Thresholds{
		FailureThreshold: cfg.Detect.FailureThreshold,
		StaleAfter:       cfg.Detect.StaleAfter,
		VeryStaleAfter:   cfg.Detect.VeryStaleAfter,
	}
	throttle := cfg.Collect.Throttle
	if *fast {
		throttle = cfg.Collect.FastThrottle
	}

	ldapAdapter := source.NewLDAP(cfg.LDAP, logger)
	collector := collect.New(ldapAdapter, retryOpts, cfg.Collect.CallTimeout, logger)

	var store cache.Store
	if bs, err := cache.OpenBadger(cfg.Cache.Path); err != nil {
		logger.Warn("cache store unavailable, running without delta cache", zap.Error(err))
	} else {
		store = bs
	}
	deltaCache := cache.Open(store, cfg.Cache.Retention, logger)
	defer deltaCache.Close()

	engine := heal.New(ldapAdapter, collector, heal.Options{
		Policy:     heal.NormalizePolicy(cfg.Heal.Policy),
		DryRun:     cfg.Heal.DryRun,
		VerifyWait: cfg.Heal.VerifyWait,
		Rollback:   cfg.Heal.Rollback,
		Throttle:   throttle,
		Retry:      retryOpts,
		Thresholds: thresholds,
	}, logger)

	orch := run.New(ldapAdapter, collector, deltaCache, engine, logger)

	opts := run.Options{
		Mode:           runMode,
		Scope:          scopeFromConfig(cfg.Fleet),
		Throttle:       throttle,
		CacheThreshold: time.Duration(cfg.Cache.ThresholdMinutes) * time.Minute,
		ForceFull:      *forceFull,
		Thresholds:     thresholds,
		Policy:         heal.NormalizePolicy(cfg.Heal.Policy),
		DryRun:         cfg.Heal.DryRun,
		RunTimeout:     cfg.RunTimeout,
	}

	if runMode == model.ModeVerify {
		prev, err := history.LoadLast(cfg.Output.Dir)
		if err != nil {
			logger.Warn("no previous run to verify against", zap.Error(err))
		} else {
			opts.PriorIssues = prev.Issues
		}
	}

	summary, runErr := orch.Run(ctx, opts)
	if runErr != nil {
		logger.Error("run failed", zap.Error(runErr))
	}

	write(summary, cfg, *csvExport, *ci, logger)
	os.Exit(summary.Outcome.ExitCode())
}

// write serialises all outputs and delivers notifications. Reporter and
// notifier failures never change the exit classification.
func write(s *model.RunSummary, cfg config.Config, csvExport, ci bool, logger *zap.Logger) {
	jsonPath := filepath.Join(cfg.Output.Dir, "replwatch-run.json")
	if err := output.WriteJSON(jsonPath, s); err != nil {
		logger.Warn("write json failed", zap.Error(err))
	}

	trendLabel := "HISTORY_SKIPPED"
	trendDelta := 0
	if tr, err := history.Record(cfg.Output.Dir, s); err != nil {
		logger.Warn("history record failed", zap.Error(err))
	} else {
		trendLabel = tr.Label
		trendDelta = tr.Delta
	}
	s.Trend = trendLabel
	s.TrendDelta = trendDelta

	if csvExport {
		if err := output.WriteCSV(cfg.Output.Dir, s); err != nil {
			logger.Warn("write csv failed", zap.Error(err))
		}
	}

	notifyCtx, cancel := context.WithTimeout(context.Background(), cfg.Notify.Timeout)
	defer cancel()
	notify.New(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger).Send(notifyCtx, s)

	if ci {
		output.PrintCI(os.Stdout, s, trendLabel, trendDelta)
	} else {
		output.PrintSummary(os.Stdout, s, trendLabel, trendDelta)
		fmt.Println("JSON:", jsonPath)
	}
}

func parseMode(s string) (model.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audit":
		return model.ModeAudit, nil
	case "repair":
		return model.ModeRepair, nil
	case "verify":
		return model.ModeVerify, nil
	case "full":
		return model.ModeFull, nil
	default:
		return "", fmt.Errorf("--mode must be audit, repair, verify or full, got %q", s)
	}
}

func applyOverrides(cfg *config.Config, outDir, policy, site, nodeList string, dryRun bool, timeoutSec int) {
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if policy != "" {
		cfg.Heal.Policy = policy
	}
	if site != "" {
		cfg.Fleet.Scope = "site"
		cfg.Fleet.Site = site
	}
	if nodeList != "" {
		cfg.Fleet.Scope = "list"
		cfg.Fleet.Nodes = nil
		for _, n := range strings.Split(nodeList, ",") {
			if n = strings.TrimSpace(n); n != "" {
				cfg.Fleet.Nodes = append(cfg.Fleet.Nodes, n)
			}
		}
	}
	if dryRun {
		cfg.Heal.DryRun = true
	}
	if timeoutSec > 0 {
		cfg.RunTimeout = time.Duration(timeoutSec) * time.Second
	}
}

func scopeFromConfig(f config.FleetConfig) model.Scope {
	switch f.Scope {
	case "site":
		return model.Scope{Kind: model.ScopeSite, Site: f.Site}
	case "list":
		return model.Scope{Kind: model.ScopeList, Nodes: f.Nodes}
	default:
		return model.Scope{Kind: model.ScopeFleet}
	}
}
