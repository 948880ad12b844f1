package tools

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func prepareCommand() *cli.Command {
	var force bool
	return &cli.Command{
		Name:      "prepare",
		Usage:     "Create the archive catalogue and storage",
		ArgsUsage: "ARCHIVE",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "force",
				Destination: &force,
				Usage:       "Destroy an existing archive first",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, _, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Prepare(ctx, force)
		},
	}
}

func destroyCommand() *cli.Command {
	return &cli.Command{
		Name:      "destroy",
		Usage:     "Remove the archive catalogue and all stored product data",
		ArgsUsage: "ARCHIVE",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, _, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Destroy(ctx)
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show the archive configuration and registered plug-ins",
		ArgsUsage: "ARCHIVE",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, _, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			info := a.Info()
			fmt.Printf("archive:         %s\n", info.ArchiveID)
			fmt.Printf("database:        %s\n", info.Database)
			fmt.Printf("storage:         %s\n", info.Storage)
			fmt.Printf("namespaces:      %v\n", info.Namespaces)
			fmt.Printf("product types:   %v\n", info.ProductTypes)
			fmt.Printf("remote backends: %v\n", info.RemoteBackends)
			fmt.Printf("export formats:  %v\n", info.ExportFormats)
			return nil
		},
	}
}
