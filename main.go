package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/muninn-archive/muninn/internal/cmd/tools"

	// Import plugins to trigger init() registration of the backends.
	_ "github.com/muninn-archive/muninn/internal/plugin/database/postgres"
	_ "github.com/muninn-archive/muninn/internal/plugin/database/sqlite"
	_ "github.com/muninn-archive/muninn/internal/plugin/remote"
	_ "github.com/muninn-archive/muninn/internal/plugin/storage/fs"
	_ "github.com/muninn-archive/muninn/internal/plugin/storage/none"
	_ "github.com/muninn-archive/muninn/internal/plugin/storage/s3"
	_ "github.com/muninn-archive/muninn/internal/plugin/storage/swift"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:     "muninn",
		Usage:    "Geospatial product archive toolkit",
		Commands: tools.Commands(),
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
