package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/photo-enhancer/internal/filehandler"
	"github.com/fpang/photo-enhancer/internal/transfer"
	"github.com/fpang/photo-enhancer/internal/view"
	"github.com/fpang/photo-enhancer/internal/workflow"
	"github.com/rs/zerolog/log"
)

// Shell is the interactive command loop around a workflow.Controller.
type Shell struct {
	ctrl       *workflow.Controller
	scanner    *bufio.Scanner
	out        io.Writer
	httpClient *http.Client
	pick       func() (string, error)
	sourcePath string
}

// NewShell creates a shell reading commands from in and writing to out.
// Every state change is rendered to out as it happens.
func NewShell(ctrl *workflow.Controller, in io.Reader, out io.Writer) *Shell {
	s := &Shell{
		ctrl:       ctrl,
		scanner:    bufio.NewScanner(in),
		out:        out,
		httpClient: http.DefaultClient,
		pick:       PickFile,
	}
	ctrl.OnChange(func(snap workflow.Session) {
		if err := view.Render(s.out, snap); err != nil {
			log.Debug().Err(err).Msg("Render failed")
		}
	})
	return s
}

// Run reads commands until quit or end of input.
func (s *Shell) Run(ctx context.Context) error {
	s.printWelcome()
	s.printHelp()

	for {
		fmt.Fprint(s.out, "enhancer> ")
		if !s.scanner.Scan() {
			break
		}

		parts := strings.Fields(s.scanner.Text())
		if len(parts) == 0 {
			continue
		}
		command, args := strings.ToLower(parts[0]), parts[1:]

		var err error
		switch command {
		case "upload", "open":
			err = s.handleUpload(ctx, args)
		case "pick":
			err = s.handlePick(ctx)
		case "scale":
			err = s.handleScale(args)
		case "enhance":
			err = s.handleEnhance(ctx, args)
		case "download", "save":
			err = s.handleDownload(ctx, args)
		case "reset", "start-over":
			s.ctrl.Reset()
		case "status":
			err = view.Render(s.out, s.ctrl.Snapshot())
		case "help":
			s.printHelp()
		case "quit", "exit", "q":
			fmt.Fprintln(s.out, "Bye!")
			return nil
		default:
			fmt.Fprintf(s.out, "Unknown command: %s. Type 'help' to get full list of commands.\n\n", command)
		}
		s.report(err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return s.scanner.Err()
}

func (s *Shell) printWelcome() {
	fmt.Fprintln(s.out, "AI Photo Enhancer")
	fmt.Fprintln(s.out, "Remove backgrounds and upscale photos.")
	fmt.Fprintln(s.out)
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, "Available commands:")
	fmt.Fprintln(s.out, "  upload <file_path>              - Compress and upload a photo")
	fmt.Fprintln(s.out, "  pick                            - Choose a photo with the file dialog")
	fmt.Fprintln(s.out, "  scale <2|4>                     - Set the upscale factor")
	fmt.Fprintln(s.out, "  enhance <background|upscale>    - Run an enhancement on the uploaded photo")
	fmt.Fprintln(s.out, "  download [output_path]          - Save the result")
	fmt.Fprintln(s.out, "  reset                           - Start over")
	fmt.Fprintln(s.out, "  status                          - Show the current step")
	fmt.Fprintln(s.out, "  help                            - Show this help message")
	fmt.Fprintln(s.out, "  quit/exit/q                     - Exit")
	fmt.Fprintln(s.out)
}

// report prints errors the rendered session does not already show.
func (s *Shell) report(err error) {
	if err == nil {
		return
	}
	var uploadErr *transfer.UploadError
	var enhErr *transfer.EnhancementError
	if errors.As(err, &uploadErr) || errors.As(err, &enhErr) {
		return
	}
	fmt.Fprintf(s.out, "ERROR: %s\n\n", DescribeError(err))
}

func (s *Shell) handleUpload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: upload <file_path>")
		return nil
	}
	return s.upload(ctx, args[0])
}

func (s *Shell) handlePick(ctx context.Context) error {
	path, err := s.pick()
	if errors.Is(err, ErrPickerCanceled) {
		fmt.Fprintln(s.out, "No file selected.")
		return nil
	}
	if err != nil {
		return err
	}
	return s.upload(ctx, path)
}

func (s *Shell) upload(ctx context.Context, path string) error {
	resolved, err := ResolveImagePath(path)
	if err != nil {
		return err
	}
	file, err := filehandler.LoadImageFile(resolved)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := s.ctrl.SelectFile(ctx, file); err != nil {
		return err
	}
	s.sourcePath = resolved
	fmt.Fprintf(s.out, "Upload time: %s\n\n", FormatElapsed(time.Since(start)))
	return nil
}

func (s *Shell) handleScale(args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: scale <2|4>")
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(args[0]), "x"))
	if err != nil {
		return workflow.ErrInvalidScale
	}
	return s.ctrl.SetScaleFactor(n)
}

func (s *Shell) handleEnhance(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(s.out, "Usage: enhance <background|upscale> [2|4]")
		return nil
	}
	kind, err := transfer.ParseOperationKind(strings.ToLower(args[0]))
	if err != nil {
		return err
	}
	if len(args) == 2 {
		if err := s.handleScale(args[1:]); err != nil {
			return err
		}
	}

	start := time.Now()
	if err := s.ctrl.Enhance(ctx, kind); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Processing time: %s\n\n", FormatElapsed(time.Since(start)))
	return nil
}

func (s *Shell) handleDownload(ctx context.Context, args []string) error {
	locator, err := s.ctrl.Download()
	if err != nil {
		return err
	}

	dest := DefaultOutputPath(s.sourcePath, locator)
	if len(args) > 0 {
		dest = args[0]
	}

	n, err := SaveResult(ctx, s.httpClient, locator, dest)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Saved %d bytes to %s\n\n", n, dest)
	return nil
}
