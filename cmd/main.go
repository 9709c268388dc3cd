// Command pricewatch polls a pharmacy product catalogue, resolves the cheapest
// allowed vendor per product, stores every observation and serves price
// trends over HTTP.
//
// Usage:
//
//	pricewatch serve                    poll upstream and serve the web UI
//	pricewatch fetch                    run one observation and print it
//	pricewatch timestamps               list stored observation timestamps
//	pricewatch history "<timestamp>"    print a stored observation
//	pricewatch setup                    interactive configuration wizard
//
// The upstream API key is read from PRICEWATCH_API_KEY or DRANSAY_API_KEY.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/pricewatch/config"
	"github.com/vadiminshakov/pricewatch/internal"
	"github.com/vadiminshakov/pricewatch/internal/domain"
	"github.com/vadiminshakov/pricewatch/internal/services/pricing"
	"github.com/vadiminshakov/pricewatch/internal/setup"
	"github.com/vadiminshakov/pricewatch/internal/web"
)

func main() {
	app := &cli.App{
		Name:  "pricewatch",
		Usage: "cheapest-vendor price resolution and trend tracking",
		Flags: config.Flags(),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "poll upstream on an interval and serve the web UI",
				Action: serve,
			},
			{
				Name:  "fetch",
				Usage: "fetch the current catalogue once, store it and print the result",
				Flags: filterFlags(),
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, app *internal.App) error {
						view, err := app.Pricing.Current(ctx, recordFilter(c))
						if err != nil {
							return err
						}
						printView(view)
						return nil
					})
				},
			},
			{
				Name:  "timestamps",
				Usage: "list stored observation timestamps, most recent first",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, app *internal.App) error {
						timestamps, err := app.Pricing.Timestamps(ctx)
						if err != nil {
							return err
						}
						for _, ts := range timestamps {
							fmt.Println(ts)
						}
						return nil
					})
				},
			},
			{
				Name:      "history",
				Usage:     "print a stored observation diffed against its predecessor",
				ArgsUsage: "<timestamp>",
				Flags:     filterFlags(),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("history expects exactly one timestamp argument", 2)
					}
					ts, err := domain.ParseTimestamp(c.Args().First())
					if err != nil {
						return cli.Exit(fmt.Sprintf("invalid timestamp %q", c.Args().First()), 2)
					}
					return withApp(c, func(ctx context.Context, app *internal.App) error {
						view, err := app.Pricing.Historical(ctx, ts, recordFilter(c))
						if err != nil {
							return err
						}
						printView(view)
						return nil
					})
				},
			},
			{
				Name:  "setup",
				Usage: "interactive wizard writing " + config.GeneratedFile,
				Action: func(*cli.Context) error {
					return setup.RunTUI()
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "changes-only", Usage: "only products whose price moved or that are new"},
		&cli.BoolFlag{Name: "hide-self-best", Usage: "hide products where our own pharmacy is cheapest"},
	}
}

func recordFilter(c *cli.Context) pricing.RecordFilter {
	return pricing.RecordFilter{
		ChangesOnly:  c.Bool("changes-only"),
		HideSelfBest: c.Bool("hide-self-best"),
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func withApp(c *cli.Context, fn func(ctx context.Context, app *internal.App) error) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := internal.NewApp(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

func serve(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := internal.NewApp(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return err
	}
	defer app.Close()

	if cfg.Upstream.APIKey == "" {
		logger.Warn("upstream API key is not set, fetches will fail until PRICEWATCH_API_KEY or DRANSAY_API_KEY is provided")
	}

	bot := internal.NewPriceBot(logger.Named("poller"), app.Pricing, cfg.PollInterval)
	server := web.NewServer(logger.Named("web"), cfg.Web.Addr, app.Pricing, cfg.Web.AllowedOrigins)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error {
		if len(cfg.Web.TLSDomains) > 0 {
			return server.StartWithAutoTLS(gctx, cfg.Web.TLSDomains, cfg.Web.TLSCacheDir)
		}
		return server.Start(gctx)
	})

	logger.Info("started",
		zap.String("addr", cfg.Web.Addr),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("cache", cfg.Cache.Backend),
		zap.Duration("poll_interval", cfg.PollInterval))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stopped with error", zap.Error(err))
		return err
	}
	logger.Info("stopped")
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func printView(view pricing.View) {
	title := "Observation " + view.Timestamp
	if view.ReferenceTimestamp != "" {
		title += " vs " + view.ReferenceTimestamp
	}
	fmt.Println(headerStyle.Render(title))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PRODUCT", "VARIANT", "CHEAPEST", "VENDOR", "TREND", "RECOMMENDED", "COMPETITOR", "COMPETITOR TREND").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 || col != 4 || row >= len(view.Records) {
				return lipgloss.NewStyle()
			}
			switch view.Records[row].Trend {
			case domain.ClassificationIncreased:
				return upStyle
			case domain.ClassificationDecreased:
				return downStyle
			}
			return lipgloss.NewStyle()
		})

	for _, r := range view.Records {
		t.Row(
			r.Name,
			r.Variant,
			price(r.CheapestPrice),
			r.CheapestVendor,
			r.TrendLabel,
			price(r.RecommendedPrice),
			r.BestCompetitor,
			r.CompetitorTrendLabel,
		)
	}
	fmt.Println(t)

	saved := "not saved"
	if view.SaveSuccess {
		saved = "saved"
	}
	fmt.Printf("%d products, %s\n", len(view.Records), saved)
}

func price(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}
