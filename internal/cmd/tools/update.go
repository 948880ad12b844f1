package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/value"
)

func updateCommand() *cli.Command {
	var (
		createNamespaces bool
		removeNamespaces []string
	)
	return &cli.Command{
		Name:      "update",
		Usage:     "Update the properties of a product",
		ArgsUsage: "ARCHIVE UUID [NS.]FIELD=VALUE...",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "create-namespaces",
				Destination: &createNamespaces,
				Usage:       "Create records for namespaces the product does not have yet",
			},
			&cli.StringSliceFlag{
				Name:        "remove-namespace",
				Destination: &removeNamespaces,
				Usage:       "Extension namespace to remove from the product (repeatable)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			id, assignments, err := uuidArg(rest)
			if err != nil {
				return err
			}
			if len(assignments) == 0 && len(removeNamespaces) == 0 {
				return errs.Config("nothing to update")
			}
			update := properties.Properties{}
			for _, assignment := range assignments {
				key, text, ok := strings.Cut(assignment, "=")
				if !ok {
					return errs.Config("invalid assignment %q, expected [NS.]FIELD=VALUE", assignment)
				}
				nsName, fieldName := "core", key
				if dotted, rest, ok := strings.Cut(key, "."); ok {
					nsName, fieldName = dotted, rest
				}
				ns, err := a.Schema().Namespace(nsName)
				if err != nil {
					return err
				}
				field, ok := ns.Field(fieldName)
				if !ok {
					return errs.Schema("no field %q in namespace %q", fieldName, nsName)
				}
				if text == "" {
					update.Set(nsName, fieldName, nil)
					continue
				}
				v, err := value.Parse(field.Type, text)
				if err != nil {
					return err
				}
				update.Set(nsName, fieldName, v)
			}
			for _, nsName := range removeNamespaces {
				update[nsName] = nil
			}
			return a.UpdateProperties(ctx, id, update, createNamespaces)
		},
	}
}

func rebuildCommand() *cli.Command {
	return &cli.Command{
		Name:      "rebuild",
		Usage:     "Re-extract the metadata of matching products from their stored data",
		ArgsUsage: "ARCHIVE EXPRESSION",
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
			matches, err := a.Search(ctx, databaseQuery(where))
			if err != nil {
				return err
			}
			for _, props := range matches {
				if _, err := a.RebuildProperties(ctx, props.UUID(), false); err != nil {
					return err
				}
			}
			printCount("rebuilt", len(matches))
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify the stored data of matching products against their hashes",
		ArgsUsage: "ARCHIVE EXPRESSION",
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
			failed, err := a.VerifyHash(ctx, where, nil)
			if err != nil {
				return err
			}
			for _, id := range failed {
				fmt.Println(id)
			}
			if len(failed) > 0 {
				return errs.Storage(nil, "%d product(s) failed hash verification", len(failed))
			}
			return nil
		},
	}
}
