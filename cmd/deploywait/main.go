package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dwsmith1983/deploywait/internal/commands"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.NewRootCmd(version).ExecuteContext(ctx)
	if err != nil {
		commands.PrintError(os.Stderr, err)
	}
	stop()
	os.Exit(commands.ExitCode(err))
}
