// Command tally reconciles crypto transaction records into a ledger and derives
// daily balances and networth from it.
//
// Usage:
//
//	tally init -config config.yaml
//	tally -config config.yaml import -wallet Binance trades.csv
//	tally -config config.yaml sync
//	tally -config config.yaml compute
//	tally -config config.yaml networth -bucket 1w
//	tally -config config.yaml serve
//
// Secrets are read from ETHERSCAN_API_KEY, BINANCE_API_KEY/BINANCE_API_SECRET
// and BYBIT_API_KEY/BYBIT_API_SECRET.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"

	"github.com/vadiminshakov/tally/config"
)

func main() {
	var flags config.Flags
	flags.SetFlags(flag.CommandLine)

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&initCmd{flags: &flags}, "setup")
	commander.Register(&importCmd{flags: &flags}, "ledger")
	commander.Register(&syncCmd{flags: &flags}, "ledger")
	commander.Register(&computeCmd{flags: &flags}, "ledger")
	commander.Register(&networthCmd{flags: &flags}, "reports")
	commander.Register(&serveCmd{flags: &flags}, "reports")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}
