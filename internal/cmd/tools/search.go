package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/registry/database"
)

func searchCommand() *cli.Command {
	var (
		orderBy    []string
		namespaces []string
		limit      int
		offset     int
		countOnly  bool
		uuidOnly   bool
	)
	return &cli.Command{
		Name:      "search",
		Usage:     "List products matching an expression",
		ArgsUsage: "ARCHIVE EXPRESSION",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "order-by",
				Destination: &orderBy,
				Usage:       "Property to sort on, with optional +/- prefix (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:        "namespace",
				Destination: &namespaces,
				Usage:       "Extension namespace to include in the output (repeatable)",
			},
			&cli.IntFlag{
				Name:        "limit",
				Destination: &limit,
				Usage:       "Maximum number of products to list",
			},
			&cli.IntFlag{
				Name:        "offset",
				Destination: &offset,
				Usage:       "Number of matching products to skip",
			},
			&cli.BoolFlag{
				Name:        "count",
				Destination: &countOnly,
				Usage:       "Print only the number of matching products",
			},
			&cli.BoolFlag{
				Name:        "uuid",
				Destination: &uuidOnly,
				Usage:       "Print only the product UUIDs",
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
			if countOnly {
				n, err := a.Count(ctx, where, nil)
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			}
			matches, err := a.Search(ctx, database.Query{
				Where:      where,
				Namespaces: namespaces,
				OrderBy:    orderBy,
				Limit:      limit,
				Offset:     offset,
			})
			if err != nil {
				return err
			}
			for _, props := range matches {
				if uuidOnly {
					fmt.Println(props.UUID())
					continue
				}
				fmt.Printf("%s %s %s\n", props.UUID(), props.ProductType(), props.ProductName())
				for _, f := range props.Flatten() {
					fmt.Printf("  %s.%s = %s\n", f.Namespace, f.Field, f.FormatValue())
				}
			}
			return nil
		},
	}
}

// parseHaving splits a "COLUMN OP VALUE" condition. The column is "count"
// or FUNC.PROPERTY; the value is an integer, a real, or quoted text.
func parseHaving(s string) (database.Having, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return database.Having{}, errs.Config("invalid having condition %q, expected \"COLUMN OP VALUE\"", s)
	}
	h := database.Having{Op: fields[1]}
	if fields[0] == "count" {
		h.Name = "count"
	} else {
		fn, name, ok := strings.Cut(fields[0], ".")
		if !ok {
			return database.Having{}, errs.Config("invalid having column %q, expected \"count\" or FUNC.PROPERTY", fields[0])
		}
		h.Func = database.AggregateFunc(fn)
		h.Name = name
	}
	raw := strings.Join(fields[2:], " ")
	switch {
	case strings.HasPrefix(raw, "\""):
		h.Value = strings.Trim(raw, "\"")
	default:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			h.Value = n
		} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
			h.Value = f
		} else {
			h.Value = raw
		}
	}
	return h, nil
}

func summaryCommand() *cli.Command {
	var (
		aggregates []string
		groupBy    []string
		groupByTag bool
		having     []string
		orderBy    []string
	)
	return &cli.Command{
		Name:      "summary",
		Usage:     "Compute aggregated statistics over matching products",
		ArgsUsage: "ARCHIVE EXPRESSION",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "aggregate",
				Aliases:     []string{"a"},
				Destination: &aggregates,
				Usage:       "Aggregation as PROPERTY:FUNC, e.g. validity_duration:avg (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:        "group-by",
				Aliases:     []string{"g"},
				Destination: &groupBy,
				Usage:       "Property to group on, as NAME or NAME:SUBSCRIPT (repeatable)",
			},
			&cli.BoolFlag{
				Name:        "group-by-tag",
				Destination: &groupByTag,
				Usage:       "Additionally group by tag",
			},
			&cli.StringSliceFlag{
				Name:        "having",
				Destination: &having,
				Usage:       "Post-grouping filter as \"COLUMN OP VALUE\", e.g. \"count > 5\" or \"sum.size >= 1000\" (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:        "order-by",
				Destination: &orderBy,
				Usage:       "Result column to sort on, with optional +/- prefix (repeatable)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, rest, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			where := ""
			if len(rest) > 0 {
				where, err = expressionArg(rest)
				if err != nil {
					return err
				}
			}
			q := database.SummaryQuery{
				Where:      where,
				GroupByTag: groupByTag,
				OrderBy:    orderBy,
			}
			for _, g := range groupBy {
				name, subscript, _ := strings.Cut(g, ":")
				q.GroupBy = append(q.GroupBy, database.GroupBy{Name: name, Subscript: subscript})
			}
			for _, agg := range aggregates {
				name, fn, ok := strings.Cut(agg, ":")
				if !ok {
					return errs.Config("invalid aggregate %q, expected PROPERTY:FUNC", agg)
				}
				q.Aggregates = append(q.Aggregates, database.SummaryField{
					Name: name,
					Func: database.AggregateFunc(fn),
				})
			}
			for _, h := range having {
				cond, err := parseHaving(h)
				if err != nil {
					return err
				}
				q.Having = append(q.Having, cond)
			}
			result, err := a.Summary(ctx, q)
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(result.Columns, "\t"))
			for _, row := range result.Rows {
				cells := make([]string, len(row))
				for i, v := range row {
					if v == nil {
						cells[i] = ""
						continue
					}
					cells[i] = fmt.Sprint(v)
				}
				fmt.Println(strings.Join(cells, "\t"))
			}
			return nil
		},
	}
}
