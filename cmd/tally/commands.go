package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vadiminshakov/tally/config"
	"github.com/vadiminshakov/tally/internal/app"
	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/networth"
	"github.com/vadiminshakov/tally/internal/progress"
	"github.com/vadiminshakov/tally/internal/setup"
	"github.com/vadiminshakov/tally/internal/web"
)

const defaultConfigPath = "config.yaml"

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// consoleReporter prints progress events to w.
type consoleReporter struct {
	w io.Writer
}

func (r consoleReporter) Report(e progress.Event) {
	fmt.Fprintf(r.w, "%-9s %s\n", e.Channel, e)
}

// open loads the configuration and opens the account.
func open(flags *config.Flags, quiet bool) (*app.App, config.Config, *zap.Logger, error) {
	cfg, err := flags.Get()
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, config.Config{}, nil, err
	}

	var opts []app.Option
	if !quiet {
		opts = append(opts, app.WithReporter(consoleReporter{w: os.Stderr}))
	}
	a, err := app.New(cfg, logger, opts...)
	if err != nil {
		_ = logger.Sync()
		return nil, config.Config{}, nil, err
	}
	return a, cfg, logger, nil
}

func closeApp(a *app.App, logger *zap.Logger) {
	if err := a.Close(); err != nil {
		logger.Error("close store", zap.Error(err))
	}
	_ = logger.Sync()
}

type initCmd struct {
	flags *config.Flags
}

func (*initCmd) Name() string     { return "init" }
func (*initCmd) Synopsis() string { return "create a configuration file interactively" }
func (*initCmd) Usage() string {
	return `tally [-config <path>] init

  Runs the configuration wizard and writes the result to the -config path
  (config.yaml by default).
`
}
func (*initCmd) SetFlags(*flag.FlagSet) {}

func (c *initCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	p := c.flags.Path()
	if p == "" {
		p = defaultConfigPath
	}
	if err := setup.RunTUI(p); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type importCmd struct {
	flags  *config.Flags
	wallet string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import exchange CSV exports into the ledger" }
func (*importCmd) Usage() string {
	return `tally import [-wallet <name>] <file.csv>...

  Detects the export format from the header row and imports every file as one
  atomic import. Importing the same file again changes nothing.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.wallet, "wallet", "Binance", "wallet name the imported entries are tagged with")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "no files given")
		return subcommands.ExitUsageError
	}
	a, _, logger, err := open(c.flags, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeApp(a, logger)

	for _, file := range f.Args() {
		res, err := a.ImportFile(ctx, file, c.wallet)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		fmt.Printf("%s: %d rows, %d entries, %d transactions (%s), %d merged\n",
			file, res.Import.Rows, res.Import.Logs, res.Import.Txns, res.Import.Parser, res.Merge.Merged)
	}
	return subcommands.ExitSuccess
}

type syncCmd struct {
	flags *config.Flags
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "pull the transactions of configured wallets from the explorer" }
func (*syncCmd) Usage() string {
	return `tally sync

  Fetches normal, internal and token transactions of every configured wallet
  and imports them as one connection per wallet.
`
}
func (*syncCmd) SetFlags(*flag.FlagSet) {}

func (c *syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, cfg, logger, err := open(c.flags, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeApp(a, logger)

	if len(cfg.Wallets) == 0 {
		fmt.Fprintln(os.Stderr, "no wallets configured")
		return subcommands.ExitFailure
	}
	results, err := a.Sync(ctx)
	for i, res := range results {
		fmt.Printf("%s: %d records, %d entries, %d merged\n",
			cfg.Wallets[i].Address, res.Import.Rows, res.Import.Logs, res.Merge.Merged)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type computeCmd struct {
	flags *config.Flags
	reset bool
}

func (*computeCmd) Name() string     { return "compute" }
func (*computeCmd) Synopsis() string { return "update balances, prices and networth" }
func (*computeCmd) Usage() string {
	return `tally compute [-reset]

  Replays the ledger into daily balances, fetches missing prices and values
  every day. Work resumes from the saved cursors unless -reset is given.
`
}

func (c *computeCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.reset, "reset", false, "rebuild balances and networth from scratch")
}

func (c *computeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, _, logger, err := open(c.flags, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeApp(a, logger)

	report, err := a.Recompute(ctx, c.reset)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("balances: %d days, %d snapshots\n", report.Balances.Days, report.Balances.Snapshots)
	fmt.Printf("prices:   %d assets, %d candles\n", report.Prices.Assets, report.Prices.Candles)
	if len(report.Prices.Missing) > 0 {
		fmt.Printf("          no price for %s\n", strings.Join(report.Prices.Missing, ", "))
	}
	fmt.Printf("networth: %d days\n", report.Networth.Days)
	return subcommands.ExitSuccess
}

type networthCmd struct {
	flags  *config.Flags
	from   string
	until  string
	bucket string
}

func (*networthCmd) Name() string     { return "networth" }
func (*networthCmd) Synopsis() string { return "print the networth series" }
func (*networthCmd) Usage() string {
	return `tally networth [-from <YYYY-MM-DD>] [-until <YYYY-MM-DD>] [-bucket 1d|1w|1M]

  Prints stored networth records, resampled to the bucket close.
`
}

func (c *networthCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "first day, defaults to the first record")
	f.StringVar(&c.until, "until", "", "last day, defaults to today")
	f.StringVar(&c.bucket, "bucket", "1d", "resampling bucket (Nd, Nw or 1M)")
}

func (c *networthCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, cfg, logger, err := open(c.flags, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeApp(a, logger)

	from, until := int64(0), domain.Today(time.Now())
	if c.from != "" {
		if from, err = domain.ParseDay(c.from); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
	}
	if c.until != "" {
		if until, err = domain.ParseDay(c.until); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
	}

	candles, err := networth.Resample(a.Networth(from, until), networth.Bucket(c.bucket))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	if len(candles) == 0 {
		fmt.Println("no networth records, run compute first")
		return subcommands.ExitSuccess
	}
	for _, k := range candles {
		fmt.Printf("%s  %s\n", domain.FormatDay(k.Time), display(k.Close, cfg))
	}
	return subcommands.ExitSuccess
}

type serveCmd struct {
	flags *config.Flags
	every time.Duration
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve networth, balances, progress and metrics over HTTP" }
func (*serveCmd) Usage() string {
	return `tally serve [-every <duration>]

  Starts the HTTP server on web_addr, with automatic TLS when web_domains is
  set. With -every, wallets are synced and everything recomputed periodically;
  progress is streamed on /progress/stream.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.every, "every", 0, "sync and recompute interval, 0 disables")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, cfg, logger, err := open(c.flags, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeApp(a, logger)

	if c.every > 0 {
		go refresh(ctx, a, c.every, logger)
	}

	srv := web.NewServer(cfg.Web.Addr, a.Account(), a.Store(), a.Hub(), a.Registry(), logger)
	if len(cfg.Web.Domains) > 0 {
		err = srv.StartWithAutoTLS(ctx, cfg.Web.Domains, cfg.Web.CertCache)
	} else {
		err = srv.Start(ctx)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func refresh(ctx context.Context, a *app.App, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, err := a.Sync(ctx); err != nil {
			logger.Error("sync failed", zap.Error(err))
		}
		if _, err := a.Recompute(ctx, false); err != nil {
			logger.Error("recompute failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
