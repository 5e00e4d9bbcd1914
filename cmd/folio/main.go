package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"folio/internal/logger"
)

func main() {
	logger.Init(os.Getenv("ENV"))
	defer logger.Sync()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&migrateCmd{}, "database")
	commander.Register(&accountsCmd{}, "ledger")
	commander.Register(&settleCmd{}, "ledger")
	commander.Register(&rebuildCmd{}, "ledger")
	commander.Register(&cashflowCmd{}, "reports")
	commander.Register(&scheduleCmd{}, "jobs")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
