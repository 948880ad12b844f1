package tools

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/muninn-archive/muninn/internal/archive"
	"github.com/muninn-archive/muninn/internal/errs"
)

func ingestCommand() *cli.Command {
	var (
		productType   string
		catalogueOnly bool
		link          bool
		keep          bool
		verify        bool
		force         bool
		tags          []string
	)
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Ingest products into the archive",
		ArgsUsage: "ARCHIVE PATH...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "type",
				Destination: &productType,
				Usage:       "Force the product type instead of auto-detecting",
			},
			&cli.BoolFlag{
				Name:        "catalogue-only",
				Destination: &catalogueOnly,
				Usage:       "Create the catalogue entry without storing data",
			},
			&cli.BoolFlag{
				Name:        "link",
				Destination: &link,
				Usage:       "Store symbolic links instead of copies",
			},
			&cli.BoolFlag{
				Name:        "keep",
				Destination: &keep,
				Usage:       "Keep data in place; paths must be inside the storage root",
			},
			&cli.BoolFlag{
				Name:        "verify-hash",
				Destination: &verify,
				Usage:       "Verify the stored data against its hash after ingest",
			},
			&cli.BoolFlag{
				Name:        "force",
				Destination: &force,
				Usage:       "Replace an existing product with the same type and name",
			},
			&cli.StringSliceFlag{
				Name:        "tag",
				Destination: &tags,
				Usage:       "Tag to attach after ingest (repeatable)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, paths, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if len(paths) == 0 {
				return errs.Config("missing product path")
			}
			opts := archive.IngestOptions{
				ProductType:   productType,
				CatalogueOnly: catalogueOnly,
				UseSymlinks:   link,
				InPlace:       keep,
				VerifyHash:    verify,
				Force:         force,
				Tags:          tags,
			}
			for _, p := range paths {
				props, err := a.Ingest(ctx, []string{p}, opts)
				if err != nil {
					return err
				}
				fmt.Println(props.UUID())
			}
			return nil
		},
	}
}

func attachCommand() *cli.Command {
	var (
		productType  string
		link         bool
		keep         bool
		verify       bool
		verifyBefore bool
		force        bool
	)
	return &cli.Command{
		Name:      "attach",
		Usage:     "Attach data to products already in the catalogue",
		ArgsUsage: "ARCHIVE PATH...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "type",
				Destination: &productType,
				Usage:       "Force the product type instead of auto-detecting",
			},
			&cli.BoolFlag{
				Name:        "link",
				Destination: &link,
				Usage:       "Store symbolic links instead of copies",
			},
			&cli.BoolFlag{
				Name:        "keep",
				Destination: &keep,
				Usage:       "Keep data in place; paths must be inside the storage root",
			},
			&cli.BoolFlag{
				Name:        "verify-hash",
				Destination: &verify,
				Usage:       "Verify the stored data against its hash after the attach",
			},
			&cli.BoolFlag{
				Name:        "verify-hash-before",
				Destination: &verifyBefore,
				Usage:       "Verify the local data against the catalogue hash before storing",
			},
			&cli.BoolFlag{
				Name:        "force",
				Destination: &force,
				Usage:       "Replace already archived data",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, paths, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if len(paths) == 0 {
				return errs.Config("missing product path")
			}
			opts := archive.AttachOptions{
				ProductType:      productType,
				UseSymlinks:      link,
				InPlace:          keep,
				VerifyHash:       verify,
				VerifyHashBefore: verifyBefore,
				Force:            force,
			}
			for _, p := range paths {
				props, err := a.Attach(ctx, []string{p}, opts)
				if err != nil {
					return err
				}
				fmt.Println(props.UUID())
			}
			return nil
		},
	}
}

func pullCommand() *cli.Command {
	var verify bool
	return &cli.Command{
		Name:      "pull",
		Usage:     "Download the data of matching remote products",
		ArgsUsage: "ARCHIVE EXPRESSION",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "verify-hash",
				Destination: &verify,
				Usage:       "Verify the stored data against its hash after the pull",
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
			n, err := a.Pull(ctx, where, nil, archive.PullOptions{VerifyHash: verify})
			if err != nil {
				return err
			}
			printCount("pulled", n)
			return nil
		},
	}
}
