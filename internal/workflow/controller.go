package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fpang/photo-enhancer/internal/filehandler"
	"github.com/fpang/photo-enhancer/internal/metrics"
	"github.com/fpang/photo-enhancer/internal/transfer"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Compressor prepares a file for upload. It must never fail; on any problem
// it returns its input.
type Compressor interface {
	Compress(ctx context.Context, file *filehandler.ImageFile) *filehandler.ImageFile
}

// Transfer is the remote side of the workflow.
type Transfer interface {
	Upload(ctx context.Context, file *filehandler.ImageFile) (string, error)
	Enhance(ctx context.Context, handle string, op transfer.Operation) (string, error)
	DownloadURL(resultHandle string) string
}

// Controller drives a Session through its states. All methods are safe for
// concurrent use. SelectFile and Enhance block for the duration of their
// requests but never hold the lock while doing I/O, so Reset and Snapshot
// can be called from another goroutine at any time.
type Controller struct {
	compressor   Compressor
	transfer     Transfer
	metrics      *metrics.Sink
	defaultScale int

	mu         sync.Mutex
	generation uint64
	session    Session
	observers  []func(Session)

	// deliverMu is held from a state change until its observers return, so
	// snapshots reach observers in the order they were committed.
	deliverMu sync.Mutex
}

// Option customizes a Controller.
type Option func(*Controller)

// WithDefaultScale sets the upscale factor each new session starts with.
// Values other than 2 or 4 are ignored.
func WithDefaultScale(scale int) Option {
	return func(c *Controller) {
		if transfer.ValidScale(scale) {
			c.defaultScale = scale
		}
	}
}

// WithMetrics records per-operation measurements to sink.
func WithMetrics(sink *metrics.Sink) Option {
	return func(c *Controller) { c.metrics = sink }
}

// NewController creates a Controller in Idle.
func NewController(compressor Compressor, tr Transfer, opts ...Option) *Controller {
	c := &Controller{
		compressor:   compressor,
		transfer:     tr,
		defaultScale: transfer.Scale2x,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.session = c.idleSession()
	return c
}

// OnChange registers fn to receive a snapshot after every state change.
// Observers run on the goroutine that caused the change, one change at a
// time and in commit order. A state change made while an observer is running
// waits for it to return, so observers must not call SelectFile,
// SetScaleFactor, Enhance or Reset themselves.
func (c *Controller) OnChange(fn func(Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// SelectFile starts a new session for file: it compresses it, uploads the
// result and moves to AwaitingOption. Any existing session in Idle,
// AwaitingOption or Result is discarded first. On upload failure the session
// returns to Idle with ErrorMessage set and the *transfer.UploadError is
// returned.
func (c *Controller) SelectFile(ctx context.Context, file *filehandler.ImageFile) error {
	var (
		err       error
		gen       uint64
		sessionID string
	)
	c.update(func() bool {
		if c.session.State.Busy() {
			err = fmt.Errorf("select file: %w", ErrBusy)
			return false
		}

		c.generation++
		if reason, ok := rejectReason(file); !ok {
			c.session = c.idleSession()
			c.session.ErrorMessage = reason
			log.Warn().Str("reason", reason).Msg("File rejected before upload")
			err = &transfer.UploadError{Reason: reason, Err: filehandler.ErrUnsupportedFormat}
			return true
		}

		gen = c.generation
		c.session = Session{
			ID:              uuid.NewString(),
			Generation:      gen,
			State:           Uploading,
			Source:          file,
			ScaleFactor:     c.defaultScale,
			OriginalLocator: file.Locator(),
		}
		sessionID = c.session.ID
		log.Info().
			Str("session", sessionID).
			Str("file", file.Name).
			Str("size", humanize.Bytes(uint64(file.Size()))).
			Msg("Starting upload")
		return true
	})
	if err != nil {
		return err
	}

	rec := c.metrics.New().
		Dimension("Operation", "upload").
		Property("sessionId", sessionID).
		Bytes("InputBytes", file.Size())

	compressStart := time.Now()
	payload := c.compressor.Compress(ctx, file)
	if payload == nil {
		payload = file
	}
	rec.Duration("CompressionMs", time.Since(compressStart)).Bytes("OutputBytes", payload.Size())

	// Skip the upload if the session was replaced during compression.
	if !c.current(gen) {
		flush(rec.Dimension("Outcome", "stale"))
		return ErrStaleSession
	}

	uploadStart := time.Now()
	handle, uploadErr := c.transfer.Upload(ctx, payload)
	rec.Duration("UploadMs", time.Since(uploadStart))

	outcome := "success"
	c.update(func() bool {
		if c.session.Generation != gen {
			log.Debug().Str("session", sessionID).Msg("Discarding stale upload response")
			outcome, err = "stale", ErrStaleSession
			return false
		}
		if uploadErr != nil {
			reason := uploadReason(uploadErr)
			c.session.State = Idle
			c.session.ServerHandle = ""
			c.session.ErrorMessage = reason
			log.Warn().Err(uploadErr).Str("session", sessionID).Str("reason", reason).Msg("Upload failed")
			outcome, err = "failure", uploadErr
			return true
		}

		c.session.State = AwaitingOption
		c.session.ServerHandle = handle
		c.session.UploadedBytes = payload.Size()
		log.Info().Str("session", sessionID).Str("handle", handle).Msg("Awaiting enhancement option")
		return true
	})

	flush(rec.Dimension("Outcome", outcome))
	return err
}

// SetScaleFactor records the upscale factor used by the next Upscale. The
// last value set wins.
func (c *Controller) SetScaleFactor(scale int) error {
	var err error
	c.update(func() bool {
		if c.session.State != AwaitingOption {
			err = fmt.Errorf("set scale in %s: %w", c.session.State, ErrInvalidTransition)
			return false
		}
		if !transfer.ValidScale(scale) {
			err = fmt.Errorf("%w: got %d", ErrInvalidScale, scale)
			return false
		}
		c.session.ScaleFactor = scale
		return true
	})
	return err
}

// Enhance requests kind for the uploaded image and moves to Result. Upscale
// uses the session's ScaleFactor. On failure the session returns to
// AwaitingOption with the same ServerHandle so the user can retry, and the
// *transfer.EnhancementError is returned.
func (c *Controller) Enhance(ctx context.Context, kind transfer.OperationKind) error {
	var (
		err       error
		op        transfer.Operation
		gen       uint64
		handle    string
		sessionID string
	)
	c.update(func() bool {
		switch {
		case c.session.State == Processing:
			err = fmt.Errorf("enhance: %w", ErrBusy)
			return false
		case c.session.State != AwaitingOption:
			err = fmt.Errorf("enhance in %s: %w", c.session.State, ErrInvalidTransition)
			return false
		}

		switch kind {
		case transfer.RemoveBackground:
			op = transfer.RemoveBackgroundOp()
		case transfer.Upscale:
			op = transfer.UpscaleOp(c.session.ScaleFactor)
		default:
			op = transfer.Operation{Kind: kind}
		}
		if err = op.Validate(); err != nil {
			return false
		}

		gen = c.session.Generation
		handle = c.session.ServerHandle
		sessionID = c.session.ID
		selected := op
		c.session.Selected = &selected
		c.session.State = Processing
		c.session.ErrorMessage = ""
		log.Info().Str("session", sessionID).Str("handle", handle).Str("operation", op.String()).Msg("Processing")
		return true
	})
	if err != nil {
		return err
	}

	rec := c.metrics.New().
		Dimension("Operation", string(op.Kind)).
		Property("sessionId", sessionID)
	if op.Kind == transfer.Upscale {
		rec.Property("scale", op.Scale)
	}

	start := time.Now()
	result, enhanceErr := c.transfer.Enhance(ctx, handle, op)
	rec.Duration("EnhanceMs", time.Since(start))

	outcome := "success"
	c.update(func() bool {
		if c.session.Generation != gen {
			log.Debug().Str("session", sessionID).Msg("Discarding stale enhancement response")
			outcome, err = "stale", ErrStaleSession
			return false
		}
		if enhanceErr != nil {
			reason := enhanceReason(enhanceErr)
			c.session.State = AwaitingOption
			c.session.ErrorMessage = reason
			log.Warn().Err(enhanceErr).Str("session", sessionID).Str("reason", reason).Msg("Enhancement failed")
			outcome, err = "failure", enhanceErr
			return true
		}

		c.session.State = Result
		c.session.ResultHandle = result
		c.session.ResultLocator = c.transfer.DownloadURL(result)
		log.Info().Str("session", sessionID).Str("result", result).Msg("Result ready")
		return true
	})

	flush(rec.Dimension("Outcome", outcome))
	return err
}

// Download returns the locator of the processed image.
func (c *Controller) Download() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State != Result {
		return "", fmt.Errorf("download in %s: %w", c.session.State, ErrInvalidTransition)
	}
	return c.session.ResultLocator, nil
}

// Reset discards the current session and returns to Idle. Any response still
// in flight for the old session will be discarded when it arrives. If
// observers are still handling an earlier change, Reset waits for them so the
// Idle snapshot is always the last one they see.
func (c *Controller) Reset() {
	c.update(func() bool {
		previous := c.session.ID
		c.generation++
		c.session = c.idleSession()
		if previous != "" {
			log.Info().Str("session", previous).Msg("Session reset")
		}
		return true
	})
}

// --- Internal helpers ---

func (c *Controller) idleSession() Session {
	return Session{
		Generation:  c.generation,
		State:       Idle,
		ScaleFactor: c.defaultScale,
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Generation == gen
}

// update runs fn with c.mu held. When fn reports a change, the new session
// is delivered to every observer before the next update can start.
func (c *Controller) update(fn func() bool) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if !fn() {
		c.mu.Unlock()
		return
	}
	snap := c.session.clone()
	observers := make([]func(Session), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, observe := range observers {
		observe(snap.clone())
	}
}

func rejectReason(file *filehandler.ImageFile) (string, bool) {
	if file == nil {
		return "No file selected", false
	}
	if !filehandler.IsSupportedMIME(file.MIMEType) {
		return fmt.Sprintf("Unsupported file type %q: use JPEG, PNG or WebP", file.MIMEType), false
	}
	return "", true
}

func uploadReason(err error) string {
	var uploadErr *transfer.UploadError
	if errors.As(err, &uploadErr) && uploadErr.Reason != "" {
		return uploadErr.Reason
	}
	return transfer.FallbackUploadReason
}

func enhanceReason(err error) string {
	var enhErr *transfer.EnhancementError
	if errors.As(err, &enhErr) && enhErr.Reason != "" {
		return enhErr.Reason
	}
	return transfer.FallbackEnhancementReason
}

func flush(rec *metrics.Recorder) {
	if err := rec.Flush(); err != nil {
		log.Debug().Err(err).Msg("Metrics flush failed")
	}
}
