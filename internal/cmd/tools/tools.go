// Package tools implements the archive command line: one sub-command per
// life-cycle operation, all operating on an archive named by its
// configuration file.
package tools

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/muninn-archive/muninn/internal/archive"
	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/registry/database"
)

// Commands returns every archive sub-command.
func Commands() []*cli.Command {
	return []*cli.Command{
		prepareCommand(),
		destroyCommand(),
		infoCommand(),
		ingestCommand(),
		attachCommand(),
		pullCommand(),
		searchCommand(),
		summaryCommand(),
		retrieveCommand(),
		exportCommand(),
		stripCommand(),
		removeCommand(),
		tagCommand(),
		untagCommand(),
		listTagsCommand(),
		linkCommand(),
		unlinkCommand(),
		listLinksCommand(),
		updateCommand(),
		rebuildCommand(),
		verifyCommand(),
	}
}

// openArchive resolves the archive named by the first positional argument
// and returns it together with the remaining arguments.
func openArchive(ctx context.Context, cmd *cli.Command) (*archive.Archive, []string, error) {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return nil, nil, errs.Config("missing archive name")
	}
	cfg, err := config.LoadArchive(args[0])
	if err != nil {
		return nil, nil, err
	}
	a, err := archive.Open(ctx, cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return a, args[1:], nil
}

// expressionArg joins the remaining arguments into one filter expression.
func expressionArg(args []string) (string, error) {
	if len(args) == 0 {
		return "", errs.Config("missing expression")
	}
	expr := args[0]
	for _, a := range args[1:] {
		expr += " " + a
	}
	return expr, nil
}

func printCount(verb string, n int) {
	fmt.Printf("%d product(s) %s\n", n, verb)
}

func databaseQuery(where string) database.Query {
	return database.Query{Where: where}
}
