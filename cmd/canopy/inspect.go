package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/banshee-data/canopy.report/internal/canopy/l4trees"
	"github.com/banshee-data/canopy.report/internal/canopy/storage/sqlite"
)

func newInspectCommand() *cobra.Command {
	var catalogPath string
	var limit int
	cmd := &cobra.Command{
		Use:   "inspect [run-id]",
		Short: "List recorded runs, or the trees of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := sqlite.Open(catalogPath)
			if err != nil {
				return err
			}
			defer catalog.Close()

			if len(args) == 0 {
				runs, err := catalog.Runs(cmd.Context())
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			}
			if _, err := catalog.Run(cmd.Context(), args[0]); err != nil {
				return err
			}
			trees, err := catalog.Trees(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTrees(cmd.OutOrStdout(), trees, limit)
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "canopy-out/catalog.db", "tree catalog database")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum trees to list, tallest first (0 = all)")
	return cmd
}

func printRuns(w io.Writer, runs []sqlite.RunRecord) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"run", "started", "status", "files", "skipped", "tiles", "points"})
	for _, r := range runs {
		tbl.AppendRow(table.Row{
			r.ID,
			humanize.Time(r.Started),
			r.Status,
			humanize.Comma(r.Files),
			humanize.Comma(r.FilesSkipped),
			humanize.Comma(r.Tiles),
			humanize.Comma(r.Points),
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d runs", len(runs))})
	tbl.Render()
}

func printTrees(w io.Writer, trees []l4trees.Tree, limit int) {
	sort.SliceStable(trees, func(i, j int) bool { return trees[i].Height > trees[j].Height })
	shown := trees
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"id", "x", "y", "height", "crown area", "tile"})
	for _, t := range shown {
		tbl.AppendRow(table.Row{
			t.ID,
			fmt.Sprintf("%.2f", t.X),
			fmt.Sprintf("%.2f", t.Y),
			fmt.Sprintf("%.2f", t.Height),
			fmt.Sprintf("%.1f", t.BasinArea),
			t.Tile,
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d of %s trees", len(shown), humanize.Comma(int64(len(trees))))})
	tbl.Render()
}

func newConfigCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved run configuration as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := loadParams(configPath)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(params, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "run configuration (.json, .yaml or .yml)")
	return cmd
}
