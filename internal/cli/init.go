package cli

import (
	"fmt"
	"os"

	"github.com/fpang/photo-enhancer/internal/compress"
	"github.com/fpang/photo-enhancer/internal/config"
	"github.com/fpang/photo-enhancer/internal/metrics"
	"github.com/fpang/photo-enhancer/internal/transfer"
	"github.com/fpang/photo-enhancer/internal/workflow"
	"github.com/rs/zerolog/log"
)

// Workflow bundles everything a command needs to run the enhancement flow.
type Workflow struct {
	Client     *transfer.Client
	Controller *workflow.Controller

	metricsFile *os.File
}

// NewClient creates a transfer client for the service and timeouts in cfg.
func NewClient(cfg *config.Config) *transfer.Client {
	return transfer.NewClient(cfg.APIURL,
		transfer.WithUploadTimeout(cfg.UploadTimeout()),
		transfer.WithEnhanceTimeout(cfg.EnhanceTimeout()),
	)
}

// InitWorkflow wires the transfer client, compression stage, metrics sink and
// controller from cfg. Call Close when done.
func InitWorkflow(cfg *config.Config) (*Workflow, error) {
	client := NewClient(cfg)

	w := &Workflow{Client: client}

	opts := []workflow.Option{workflow.WithDefaultScale(cfg.DefaultScale)}
	if cfg.MetricsFile != "" {
		f, err := os.OpenFile(cfg.MetricsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open metrics file: %w", err)
		}
		w.metricsFile = f
		opts = append(opts, workflow.WithMetrics(metrics.NewSink(f, metrics.DefaultNamespace)))
		log.Debug().Str("path", cfg.MetricsFile).Msg("Metrics enabled")
	}

	w.Controller = workflow.NewController(compress.NewStage(cfg.Compression), client, opts...)

	log.Debug().Str("api_url", client.BaseURL()).Msg("Workflow initialized")
	return w, nil
}

// Close releases the metrics file, if any.
func (w *Workflow) Close() error {
	if w.metricsFile == nil {
		return nil
	}
	return w.metricsFile.Close()
}
