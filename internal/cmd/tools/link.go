package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/muninn-archive/muninn/internal/errs"
)

func linkCommand() *cli.Command {
	return &cli.Command{
		Name:      "link",
		Usage:     "Record source products of a product",
		ArgsUsage: "ARCHIVE UUID SOURCE_UUID...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			id, sources, err := uuidList(rest)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				return errs.Config("missing source uuid")
			}
			return a.Link(ctx, id, sources)
		},
	}
}

func unlinkCommand() *cli.Command {
	var all bool
	return &cli.Command{
		Name:      "unlink",
		Usage:     "Remove source links of a product",
		ArgsUsage: "ARCHIVE UUID [SOURCE_UUID...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "all",
				Destination: &all,
				Usage:       "Remove every source link of the product",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			id, sources, err := uuidList(rest)
			if err != nil {
				return err
			}
			if all {
				return a.Unlink(ctx, id, nil)
			}
			if len(sources) == 0 {
				return errs.Config("missing source uuid (or use --all)")
			}
			return a.Unlink(ctx, id, sources)
		},
	}
}

func listLinksCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-links",
		Usage:     "List the source products of a product",
		ArgsUsage: "ARCHIVE UUID",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			id, _, err := uuidArg(rest)
			if err != nil {
				return err
			}
			sources, err := a.SourceProducts(ctx, id)
			if err != nil {
				return err
			}
			for _, props := range sources {
				fmt.Printf("%s %s %s\n", props.UUID(), props.ProductType(), props.ProductName())
			}
			return nil
		},
	}
}

func uuidList(args []string) (uuid.UUID, []uuid.UUID, error) {
	id, rest, err := uuidArg(args)
	if err != nil {
		return uuid.Nil, nil, err
	}
	out := make([]uuid.UUID, 0, len(rest))
	for _, s := range rest {
		u, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, nil, errs.Config("invalid uuid %q", s)
		}
		out = append(out, u)
	}
	return id, out, nil
}
