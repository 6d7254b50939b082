// Package view renders a workflow session for the terminal. It has one
// entry point that switches on the session state; nothing here changes state.
package view

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fpang/photo-enhancer/internal/transfer"
	"github.com/fpang/photo-enhancer/internal/workflow"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

var stepLabels = []string{"Upload", "Enhance", "Result"}

// option describes one enhancement offered while awaiting a choice.
type option struct {
	kind        transfer.OperationKind
	title       string
	description string
}

var options = []option{
	{transfer.RemoveBackground, "Remove Background", "AI-powered background removal"},
	{transfer.Upscale, "Upscale", "Enhance image resolution"},
}

// Render writes the session to w. Colour is used only when w is a terminal.
func Render(w io.Writer, s workflow.Session) error {
	_, err := io.WriteString(w, RenderString(s, shouldColorize(w)))
	return err
}

// RenderString returns the rendered session.
func RenderString(s workflow.Session, colorize bool) string {
	var b strings.Builder

	b.WriteString(renderSteps(currentStep(s.State), colorize))
	b.WriteString("\n")

	if s.ErrorMessage != "" {
		b.WriteString(paint(colorize, text.FgRed, "Error: "+s.ErrorMessage))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch s.State {
	case workflow.Idle:
		b.WriteString("Select a JPEG, PNG or WebP photo to begin.\n")
	case workflow.Uploading:
		fmt.Fprintf(&b, "Uploading %s...\n", describeSource(s))
	case workflow.AwaitingOption:
		fmt.Fprintf(&b, "Uploaded %s\n\n", describeSource(s))
		b.WriteString(renderOptions(s))
		b.WriteString("\n")
	case workflow.Processing:
		label := "Processing..."
		if s.Selected != nil {
			label = fmt.Sprintf("Processing: %s...", s.Selected)
		}
		b.WriteString(paint(colorize, text.FgCyan, label))
		b.WriteString("\n")
	case workflow.Result:
		b.WriteString(paint(colorize, text.FgGreen, "Enhancement complete!"))
		b.WriteString("\n\n")
		b.WriteString(renderBeforeAfter(s))
		b.WriteString("\n")
	}

	return b.String()
}

// currentStep maps a state to the 1-based step number shown to the user.
func currentStep(state workflow.State) int {
	switch state {
	case workflow.Idle, workflow.Uploading:
		return 1
	case workflow.AwaitingOption:
		return 2
	default:
		return 3
	}
}

// renderSteps draws the indicator. Steps before current are complete ([x]),
// the current step is active ([n]) and later steps are pending ( n ).
func renderSteps(current int, colorize bool) string {
	parts := make([]string, len(stepLabels))
	for i, label := range stepLabels {
		n := i + 1
		switch {
		case n < current:
			parts[i] = paint(colorize, text.FgGreen, "[x] "+label)
		case n == current:
			parts[i] = paint(colorize, text.Bold, fmt.Sprintf("[%d] %s", n, label))
		default:
			parts[i] = paint(colorize, text.Faint, fmt.Sprintf(" %d  %s", n, label))
		}
	}
	return strings.Join(parts, " -- ")
}

func renderOptions(s workflow.Session) string {
	tw := newTable()
	tw.SetTitle("Choose Enhancement")
	tw.AppendHeader(table.Row{"Option", "Name", "Description"})
	for _, o := range options {
		name := o.title
		if o.kind == transfer.Upscale {
			name = fmt.Sprintf("%s %dx", o.title, s.ScaleFactor)
		}
		if s.Selected != nil && s.Selected.Kind == o.kind {
			name += " (last tried)"
		}
		tw.AppendRow(table.Row{string(o.kind), name, o.description})
	}
	tw.AppendFooter(table.Row{"", "Scale factor", fmt.Sprintf("%dx (2x or 4x)", s.ScaleFactor)})
	return tw.Render()
}

func renderBeforeAfter(s workflow.Session) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"", "Before", "After"})

	original := s.OriginalLocator
	if original == "" && s.Source != nil {
		original = s.Source.Name
	}
	tw.AppendRow(table.Row{"Image", original, s.ResultLocator})

	operation := ""
	if s.Selected != nil {
		operation = s.Selected.String()
	}
	tw.AppendRow(table.Row{"Operation", "", operation})

	if s.Source != nil {
		tw.AppendRow(table.Row{"Size", humanize.Bytes(uint64(s.Source.Size())), ""})
		if s.Source.Metadata != nil {
			tw.AppendRow(table.Row{"Details", s.Source.Metadata.Summary(), ""})
		}
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, WidthMax: 60},
		{Number: 3, WidthMax: 60},
	})
	return tw.Render()
}

// newTable returns a rounded table that keeps header and footer case.
func newTable() table.Writer {
	style := table.StyleRounded
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	tw := table.NewWriter()
	tw.SetStyle(style)
	return tw
}

func describeSource(s workflow.Session) string {
	if s.Source == nil {
		return "photo"
	}
	desc := fmt.Sprintf("%s (%s", s.Source.Name, humanize.Bytes(uint64(s.Source.Size())))
	if s.UploadedBytes > 0 && s.UploadedBytes != s.Source.Size() {
		desc += fmt.Sprintf(", sent %s", humanize.Bytes(uint64(s.UploadedBytes)))
	}
	desc += ")"
	if s.ServerHandle != "" {
		desc += " as " + s.ServerHandle
	}
	return desc
}

func paint(colorize bool, color text.Color, s string) string {
	if !colorize {
		return s
	}
	return color.Sprint(s)
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
