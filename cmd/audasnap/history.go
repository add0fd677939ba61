package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/audasnap/harvest"
)

func historyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect archived claims and past runs",
	}
	cmd.AddCommand(historyListCmd(opts), historyShowCmd(opts), historyRunsCmd(opts))
	return cmd
}

func historyListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived claims, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load(os.Stderr)
			if err != nil {
				return err
			}
			entries, err := a.arc.List()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Folder", "VIN", "Claim", "Zones", "Created"})
			for _, e := range entries {
				t.AppendRow(table.Row{e.Folder, e.VIN, e.ClaimNumber, e.Zones, e.Created.Local().Format("2006-01-02 15:04:05")})
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}
}

func historyShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <folder>",
		Short: "Print the latest record of a folder as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load(os.Stderr)
			if err != nil {
				return err
			}
			rec, err := a.arc.Latest(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func historyRunsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List journaled extraction runs, failed ones included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load(os.Stderr)
			if err != nil {
				return err
			}
			h, err := harvest.FromConfig(a.cfg, a.arc, a.log)
			if err != nil {
				return err
			}
			defer h.Close()

			runs, err := h.RecentRuns(context.Background(), limit)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Started", "Status", "Folder", "Claim", "Zones", "Degraded", "Duration", "Message"})
			for _, r := range runs {
				t.AppendRow(table.Row{
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					string(r.Status),
					r.Folder,
					r.ClaimNumber,
					strconv.Itoa(r.Zones),
					strconv.Itoa(r.Degraded),
					r.Duration.Round(time.Second).String(),
					r.Message,
				})
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to show")
	return cmd
}
