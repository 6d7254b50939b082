package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/fpang/photo-enhancer/internal/cli"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// runInteractive starts the command shell on stdin/stdout.
func runInteractive(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	wf, err := cli.InitWorkflow(cfg)
	if err != nil {
		return err
	}
	defer wf.Close()

	if _, err := wf.Client.Health(ctx); err != nil {
		log.Warn().Err(err).Str("api_url", wf.Client.BaseURL()).Msg("Enhancement service is not reachable yet")
	}

	return cli.NewShell(wf.Controller, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
}
