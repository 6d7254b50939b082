package main

import (
	"fmt"
	"sort"

	"github.com/fpang/photo-enhancer/internal/cli"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the enhancement service is reachable",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := cli.NewClient(cfg)

	status, err := client.Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("enhancement service at %s: %w", client.BaseURL(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s (%s)\n", client.BaseURL(), status.Status, status.Message)

	if len(status.Endpoints) == 0 {
		return nil
	}
	names := make([]string, 0, len(status.Endpoints))
	for name := range status.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Endpoint", "Route"})
	for _, name := range names {
		tw.AppendRow(table.Row{name, status.Endpoints[name]})
	}
	fmt.Fprintln(out, tw.Render())
	return nil
}
