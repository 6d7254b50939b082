package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/fpang/photo-enhancer/internal/cli"
	"github.com/fpang/photo-enhancer/internal/filehandler"
	"github.com/fpang/photo-enhancer/internal/transfer"
	"github.com/fpang/photo-enhancer/internal/view"
	"github.com/fpang/photo-enhancer/internal/workflow"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// enhance flags
var (
	fileFlag   string
	pickFlag   bool
	opFlag     string
	scaleFlag  int
	outFlag    string
	noSaveFlag bool
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance",
	Short: "Upload one photo, enhance it and save the result",
	Long: `Runs the whole flow once: compress, upload, enhance, then save the result
next to the source photo (or to --out).

Examples:
  photo-enhancer enhance -f holiday.jpg --op background
  photo-enhancer enhance -f holiday.jpg --op upscale --scale 4 -o big.png
  photo-enhancer enhance --pick --op upscale --no-save`,
	Args: cobra.NoArgs,
	RunE: runEnhance,
}

func init() {
	enhanceCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Photo to enhance (JPEG, PNG or WebP)")
	enhanceCmd.Flags().BoolVar(&pickFlag, "pick", false, "Choose the photo with the native file dialog")
	enhanceCmd.Flags().StringVar(&opFlag, "op", string(transfer.RemoveBackground), "Enhancement: background or upscale")
	enhanceCmd.Flags().IntVar(&scaleFlag, "scale", 0, "Upscale factor, 2 or 4 (default from config)")
	enhanceCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Where to save the result (default: next to the source photo)")
	enhanceCmd.Flags().BoolVar(&noSaveFlag, "no-save", false, "Print the result URL instead of downloading it")
	enhanceCmd.MarkFlagsMutuallyExclusive("file", "pick")
	enhanceCmd.MarkFlagsMutuallyExclusive("out", "no-save")
}

func runEnhance(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	kind, err := transfer.ParseOperationKind(opFlag)
	if err != nil {
		return err
	}
	if err := validateScaleFlag(kind, scaleFlag); err != nil {
		return err
	}

	path, err := resolveSourcePath(cmd)
	if err != nil {
		return err
	}
	file, err := filehandler.LoadImageFile(path)
	if err != nil {
		return err
	}

	wf, err := cli.InitWorkflow(cfg)
	if err != nil {
		return err
	}
	defer wf.Close()

	out := cmd.OutOrStdout()
	wf.Controller.OnChange(func(s workflow.Session) {
		if err := view.Render(out, s); err != nil {
			log.Debug().Err(err).Msg("Render failed")
		}
	})

	if err := wf.Controller.SelectFile(ctx, file); err != nil {
		return errors.New(cli.DescribeError(err))
	}
	if scaleFlag != 0 {
		if err := wf.Controller.SetScaleFactor(scaleFlag); err != nil {
			return errors.New(cli.DescribeError(err))
		}
	}
	if err := wf.Controller.Enhance(ctx, kind); err != nil {
		return errors.New(cli.DescribeError(err))
	}

	locator, err := wf.Controller.Download()
	if err != nil {
		return err
	}
	if noSaveFlag {
		fmt.Fprintln(out, locator)
		return nil
	}

	dest := outFlag
	if dest == "" {
		dest = cli.DefaultOutputPath(path, locator)
	}
	if _, err := cli.SaveResult(ctx, nil, locator, dest); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved to %s\n", dest)
	return nil
}

// validateScaleFlag rejects --scale for operations that have no scale and
// factors the service does not accept.
func validateScaleFlag(kind transfer.OperationKind, scale int) error {
	if scale == 0 {
		return nil
	}
	if kind != transfer.Upscale {
		return fmt.Errorf("--scale only applies to --op upscale, not %s", kind)
	}
	if !transfer.ValidScale(scale) {
		return fmt.Errorf("--scale must be 2 or 4, got %d", scale)
	}
	return nil
}

// resolveSourcePath takes the photo from --file, the file dialog, or a prompt.
func resolveSourcePath(cmd *cobra.Command) (string, error) {
	path := fileFlag
	if pickFlag {
		picked, err := cli.PickFile()
		if err != nil {
			return "", err
		}
		path = picked
	}
	if path == "" {
		path = cli.PromptForFile(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
	}
	return cli.ResolveImagePath(path)
}
