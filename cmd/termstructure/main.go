// termstructure: PLN sovereign curve modelling.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/termstructure/internal/config"
	"github.com/seenimoa/termstructure/internal/infra"
	"github.com/seenimoa/termstructure/internal/pipeline"
	"github.com/seenimoa/termstructure/internal/social"
	"github.com/seenimoa/termstructure/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Globals populated by PersistentPreRunE.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "termstructure",
	Short: "PLN sovereign curve modelling",
	Long: `termstructure keeps a local history of Polish treasury bond coupons and
fixing prices, fits daily Nelson-Siegel-Svensson curves, splits month-end
yields into risk-neutral rates and term premium, and posts the result.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		logger, err = infra.NewLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to init logging: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(decomposeCmd)
	rootCmd.AddCommand(statusCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newCache builds the workbook cache selected by cache.backend.
func newCache(ctx context.Context) (infra.BlobCache, error) {
	switch strings.ToLower(cfg.Cache.Backend) {
	case "redis":
		client, err := infra.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		return infra.NewRedisCache(client, "termstructure:"), nil
	case "", "memory":
		return infra.NewCache(cfg.Cache.CacheTTL()), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func newPipeline(ctx context.Context, poster social.Poster) (*pipeline.Pipeline, error) {
	cache, err := newCache(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.FromConfig(cfg, cache, poster, logger)
}

// scheduleLocation returns the run-gate timezone, falling back to Warsaw.
func scheduleLocation() *time.Location {
	if cfg.Schedule.Timezone == "" {
		return utils.Warsaw
	}
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		logger.Warn("unknown schedule timezone, using Europe/Warsaw", "timezone", cfg.Schedule.Timezone, "error", err)
		return utils.Warsaw
	}
	return loc
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("termstructure %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monthly update, decomposition and post",
	Long: `Refresh the coupon calendar and fixing prices, extend the NSS panel,
decompose the month-end curves and post the charts and summary.

The run only proceeds on the configured day of the month unless --force is
given. --dry-run logs the post instead of publishing it and keeps the charts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		now := time.Now().In(scheduleLocation())
		if !pipeline.ShouldRun(now, cfg.Schedule.RunDay, force) {
			logger.Info("not the run day, nothing to do", "today", utils.FormatDate(now), "run_day", cfg.Schedule.RunDay)
			return nil
		}

		var poster social.Poster
		if dryRun {
			poster = social.NewLogPoster(logger)
		} else {
			tw, err := social.NewTwitter(cfg.Twitter, logger)
			if err != nil {
				return fmt.Errorf("%w: %s", err, strings.Join(config.MissingKeys(cfg), ", "))
			}
			poster = tw
		}

		ctx, cancel := signalContext()
		defer cancel()
		p, err := newPipeline(ctx, poster)
		if err != nil {
			return err
		}
		return p.Run(ctx)
	},
}

func init() {
	runCmd.Flags().Bool("force", false, "run regardless of the day of the month")
	runCmd.Flags().Bool("dry-run", false, "log the post instead of publishing it")
}

// --- Update Command ---

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh the stores and extend the NSS panel",
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline")

		ctx, cancel := signalContext()
		defer cancel()
		p, err := newPipeline(ctx, nil)
		if err != nil {
			return err
		}
		if offline {
			_, added, err := p.RebuildNSS(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("📈 NSS panel: %d new curve(s)\n", added)
			return nil
		}
		panel, err := p.UpdateData(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("📈 NSS panel: %d curve(s), last %s\n", len(panel), utils.FormatDate(panel.LastDate()))
		return nil
	},
}

func init() {
	updateCmd.Flags().Bool("offline", false, "fit NSS curves from the stored data without fetching")
}

// --- Decompose Command ---

var decomposeCmd = &cobra.Command{
	Use:   "decompose",
	Short: "Decompose the stored NSS panel and print the latest split",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		p, err := newPipeline(ctx, nil)
		if err != nil {
			return err
		}
		res, err := p.Decompose()
		if err != nil {
			return err
		}

		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Term structure at %s\n", utils.FormatDate(res.Dates[len(res.Dates)-1]))
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  %-8s %10s %10s %10s\n", "Tenor", "Observed", "RN", "TP")
		for _, m := range cfg.Report.Maturities {
			pt, ok := res.Latest(m)
			if !ok {
				continue
			}
			fmt.Printf("  %-8s %10s %10s %10s\n",
				utils.FormatTenor(pt.MaturityMonths),
				utils.FormatRatePct(pt.Observed),
				utils.FormatRatePct(pt.RiskNeutral),
				utils.FormatRatePct(pt.TermPremium))
		}
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		p, err := newPipeline(ctx, nil)
		if err != nil {
			return err
		}
		st, err := p.Status()
		if err != nil {
			return err
		}

		now := time.Now().In(scheduleLocation())
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  termstructure — Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Time:          %s\n", now.Format("2006-01-02 15:04 MST"))
		fmt.Printf("  Run day:       %d (today: %v)\n", cfg.Schedule.RunDay, pipeline.ShouldRun(now, cfg.Schedule.RunDay, false))
		fmt.Println()

		fmt.Println("  Stores:")
		fmt.Printf("    Coupon calendar: %d records, %d series\n", st.CouponRecords, st.CouponSeries)
		fmt.Printf("    Fixing prices:   %d rows, last %s\n", st.PriceRows, formatLast(st.LastPriceDate))
		fmt.Printf("    NSS panel:       %d rows, last %s\n", st.NSSRows, formatLast(st.LastNSSDate))
		fmt.Printf("    Data dir:        %s\n", cfg.Data.Dir)
		fmt.Printf("    Cache:           %s\n", cfg.Cache.Backend)
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

func formatLast(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return utils.FormatDate(t)
}
