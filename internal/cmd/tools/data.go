package tools

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/muninn-archive/muninn/internal/archive"
)

func retrieveCommand() *cli.Command {
	var directory string
	return &cli.Command{
		Name:      "retrieve",
		Usage:     "Copy the data of matching products to a local directory",
		ArgsUsage: "ARCHIVE EXPRESSION",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "directory",
				Aliases:     []string{"d"},
				Value:       ".",
				Destination: &directory,
				Usage:       "Target directory",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			where, err := expressionArg(rest)
			if err != nil {
				return err
			}
			paths, err := a.Retrieve(ctx, where, nil, directory)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	var (
		directory string
		format    string
	)
	return &cli.Command{
		Name:      "export",
		Usage:     "Export matching products, optionally converted by their product type",
		ArgsUsage: "ARCHIVE EXPRESSION",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "directory",
				Aliases:     []string{"d"},
				Value:       ".",
				Destination: &directory,
				Usage:       "Target directory",
			},
			&cli.StringFlag{
				Name:        "format",
				Destination: &format,
				Usage:       "Export format; empty retrieves the data as-is",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			where, err := expressionArg(rest)
			if err != nil {
				return err
			}
			paths, err := a.Export(ctx, where, nil, format, directory)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func stripCommand() *cli.Command {
	var (
		force          bool
		disableCascade bool
	)
	return &cli.Command{
		Name:      "strip",
		Usage:     "Remove the archived data of matching products, keeping the catalogue entries",
		ArgsUsage: "ARCHIVE EXPRESSION",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "force",
				Destination: &force,
				Usage:       "Also strip inactive products",
			},
			&cli.BoolFlag{
				Name:        "disable-cascade",
				Destination: &disableCascade,
				Usage:       "Skip the cascade pass afterwards",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			where, err := expressionArg(rest)
			if err != nil {
				return err
			}
			n, err := a.Strip(ctx, where, nil, force, disableCascade)
			if err != nil {
				return err
			}
			printCount("stripped", n)
			return nil
		},
	}
}

func removeCommand() *cli.Command {
	var opts archive.RemoveOptions
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove matching products from the archive",
		ArgsUsage: "ARCHIVE EXPRESSION",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "force",
				Destination: &opts.Force,
				Usage:       "Also remove inactive products",
			},
			&cli.BoolFlag{
				Name:        "catalogue-only",
				Destination: &opts.CatalogueOnly,
				Usage:       "Keep the stored data, remove only the catalogue entries",
			},
			&cli.BoolFlag{
				Name:        "disable-cascade",
				Destination: &opts.DisableCascade,
				Usage:       "Skip the cascade pass afterwards",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			where, err := expressionArg(rest)
			if err != nil {
				return err
			}
			n, err := a.Remove(ctx, where, nil, opts)
			if err != nil {
				return err
			}
			printCount("removed", n)
			return nil
		},
	}
}
