package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/muninn-archive/muninn/internal/errs"
)

func tagCommand() *cli.Command {
	return &cli.Command{
		Name:      "tag",
		Usage:     "Attach tags to a product",
		ArgsUsage: "ARCHIVE UUID TAG...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			id, tags, err := uuidArg(rest)
			if err != nil {
				return err
			}
			if len(tags) == 0 {
				return errs.Config("missing tag")
			}
			return a.Tag(ctx, id, tags)
		},
	}
}

func untagCommand() *cli.Command {
	var all bool
	return &cli.Command{
		Name:      "untag",
		Usage:     "Remove tags from a product",
		ArgsUsage: "ARCHIVE UUID [TAG...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "all",
				Destination: &all,
				Usage:       "Remove every tag of the product",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			id, tags, err := uuidArg(rest)
			if err != nil {
				return err
			}
			if all {
				return a.Untag(ctx, id, nil)
			}
			if len(tags) == 0 {
				return errs.Config("missing tag (or use --all)")
			}
			return a.Untag(ctx, id, tags)
		},
	}
}

func listTagsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-tags",
		Usage:     "List the tags of a product",
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
			tags, err := a.Tags(ctx, id)
			if err != nil {
				return err
			}
			for _, tag := range tags {
				fmt.Println(tag)
			}
			return nil
		},
	}
}

func uuidArg(args []string) (uuid.UUID, []string, error) {
	if len(args) == 0 {
		return uuid.Nil, nil, errs.Config("missing product uuid")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, nil, errs.Config("invalid product uuid %q", args[0])
	}
	return id, args[1:], nil
}
