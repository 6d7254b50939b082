package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/photo-enhancer/internal/compress"
	"github.com/fpang/photo-enhancer/internal/filehandler"
	"github.com/fpang/photo-enhancer/internal/metrics"
	"github.com/fpang/photo-enhancer/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

type passthrough struct{}

func (passthrough) Compress(_ context.Context, f *filehandler.ImageFile) *filehandler.ImageFile {
	return f
}

type compressFunc func(context.Context, *filehandler.ImageFile) *filehandler.ImageFile

func (fn compressFunc) Compress(ctx context.Context, f *filehandler.ImageFile) *filehandler.ImageFile {
	return fn(ctx, f)
}

type enhanceCall struct {
	handle string
	op     transfer.Operation
}

type fakeTransfer struct {
	uploadFn  func(context.Context, *filehandler.ImageFile) (string, error)
	enhanceFn func(context.Context, string, transfer.Operation) (string, error)

	mu       sync.Mutex
	uploads  []*filehandler.ImageFile
	enhances []enhanceCall
}

func (f *fakeTransfer) Upload(ctx context.Context, file *filehandler.ImageFile) (string, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, file)
	f.mu.Unlock()
	if f.uploadFn == nil {
		return "abc123", nil
	}
	return f.uploadFn(ctx, file)
}

func (f *fakeTransfer) Enhance(ctx context.Context, handle string, op transfer.Operation) (string, error) {
	f.mu.Lock()
	f.enhances = append(f.enhances, enhanceCall{handle: handle, op: op})
	f.mu.Unlock()
	if f.enhanceFn == nil {
		return "res789", nil
	}
	return f.enhanceFn(ctx, handle, op)
}

func (f *fakeTransfer) DownloadURL(result string) string {
	return "http://enhancer.test/download/" + result
}

func (f *fakeTransfer) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeTransfer) enhanceCalls() []enhanceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enhanceCall(nil), f.enhances...)
}

// --- Helpers ---

func smallJPEG(t *testing.T) *filehandler.ImageFile {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16)), nil))
	file, err := filehandler.NewImageFile("photo.jpg", buf.Bytes())
	require.NoError(t, err)
	return file
}

// awaitingOption returns a controller that has uploaded a file and holds
// handle "abc123".
func awaitingOption(t *testing.T, tr *fakeTransfer, opts ...Option) *Controller {
	t.Helper()
	c := NewController(passthrough{}, tr, opts...)
	require.NoError(t, c.SelectFile(context.Background(), smallJPEG(t)))
	require.Equal(t, AwaitingOption, c.Snapshot().State)
	return c
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Snapshot().State == want },
		2*time.Second, 5*time.Millisecond, "state never became %s", want)
}

// --- Scenarios ---

func TestSelectFile_CompressesAndUploadsLargeJPEG(t *testing.T) {
	if testing.Short() {
		t.Skip("large image encode")
	}

	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, 3000, 2000))
	rng.Read(img.Pix)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	file, err := filehandler.NewImageFile("large.jpg", buf.Bytes())
	require.NoError(t, err)
	require.GreaterOrEqual(t, file.Size(), int64(3<<20))

	policy := compress.DefaultPolicy()
	tr := &fakeTransfer{}
	c := NewController(compress.NewStage(policy), tr)

	require.NoError(t, c.SelectFile(context.Background(), file))

	require.Equal(t, 1, tr.uploadCount())
	sent := tr.uploads[0]
	assert.LessOrEqual(t, sent.Size(), int64(policy.MaxOutputMB*1024*1024))
	cfg, _, err := image.DecodeConfig(bytes.NewReader(sent.Data))
	require.NoError(t, err)
	assert.LessOrEqual(t, max(cfg.Width, cfg.Height), policy.MaxDimensionPx)

	snap := c.Snapshot()
	assert.Equal(t, AwaitingOption, snap.State)
	assert.Equal(t, "abc123", snap.ServerHandle)
	assert.Empty(t, snap.ErrorMessage)
	assert.Same(t, file, snap.Source)
	assert.Equal(t, sent.Size(), snap.UploadedBytes)
	assert.NotEmpty(t, snap.ID)
}

func TestEnhance_UpscaleWithSelectedFactor(t *testing.T) {
	tr := &fakeTransfer{}
	c := awaitingOption(t, tr)

	require.NoError(t, c.SetScaleFactor(4))
	require.NoError(t, c.Enhance(context.Background(), transfer.Upscale))

	calls := tr.enhanceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "abc123", calls[0].handle)
	assert.Equal(t, transfer.Operation{Kind: transfer.Upscale, Scale: 4}, calls[0].op)

	snap := c.Snapshot()
	assert.Equal(t, Result, snap.State)
	assert.Equal(t, "res789", snap.ResultHandle)
	assert.Equal(t, "http://enhancer.test/download/res789", snap.ResultLocator)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, transfer.Upscale, snap.Selected.Kind)
}

func TestEnhance_FailureKeepsHandleForRetry(t *testing.T) {
	fail := true
	tr := &fakeTransfer{
		enhanceFn: func(context.Context, string, transfer.Operation) (string, error) {
			if fail {
				return "", &transfer.EnhancementError{Reason: "unsupported format", StatusCode: http.StatusInternalServerError}
			}
			return "res789", nil
		},
	}
	c := awaitingOption(t, tr)

	err := c.Enhance(context.Background(), transfer.RemoveBackground)
	var enhErr *transfer.EnhancementError
	require.ErrorAs(t, err, &enhErr)

	snap := c.Snapshot()
	assert.Equal(t, AwaitingOption, snap.State)
	assert.Equal(t, "unsupported format", snap.ErrorMessage)
	assert.Equal(t, "abc123", snap.ServerHandle)
	assert.Empty(t, snap.ResultHandle)

	// retry without re-uploading
	fail = false
	require.NoError(t, c.Enhance(context.Background(), transfer.RemoveBackground))
	snap = c.Snapshot()
	assert.Equal(t, Result, snap.State)
	assert.Empty(t, snap.ErrorMessage)
	assert.Equal(t, 1, tr.uploadCount())
	assert.Len(t, tr.enhanceCalls(), 2)
}

func TestSelectFile_NetworkErrorUsesFallbackReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := transfer.NewClient(server.URL, transfer.WithHTTPClient(server.Client()))
	server.Close()

	c := NewController(passthrough{}, client)
	err := c.SelectFile(context.Background(), smallJPEG(t))

	var uploadErr *transfer.UploadError
	require.ErrorAs(t, err, &uploadErr)

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Equal(t, transfer.FallbackUploadReason, snap.ErrorMessage)
	assert.Empty(t, snap.ServerHandle)
}

func TestEnhance_LateResponseAfterResetIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTransfer{
		enhanceFn: func(context.Context, string, transfer.Operation) (string, error) {
			<-release
			return "res789", nil
		},
	}
	c := awaitingOption(t, tr)
	oldGen := c.Snapshot().Generation

	errCh := make(chan error, 1)
	go func() { errCh <- c.Enhance(context.Background(), transfer.RemoveBackground) }()
	waitForState(t, c, Processing)

	c.Reset()
	afterReset := c.Snapshot()
	require.Equal(t, Idle, afterReset.State)
	require.Greater(t, afterReset.Generation, oldGen)

	close(release)
	err := <-errCh
	assert.ErrorIs(t, err, ErrStaleSession)

	snap := c.Snapshot()
	assert.Equal(t, afterReset, snap)
	assert.Empty(t, snap.ResultHandle)
	assert.Empty(t, snap.ServerHandle)
}

func TestReset_WaitsForObserversSoIdleIsDeliveredLast(t *testing.T) {
	c := awaitingOption(t, &fakeTransfer{})

	resultSeen := make(chan struct{})
	var mu sync.Mutex
	var delivered []State
	c.OnChange(func(s Session) {
		if s.State == Result {
			close(resultSeen)
			time.Sleep(100 * time.Millisecond)
		}
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, s.State)
	})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Enhance(context.Background(), transfer.RemoveBackground) }()

	<-resultSeen
	c.Reset()
	require.NoError(t, <-errCh)

	assert.Equal(t, Idle, c.Snapshot().State)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Processing, Result, Idle}, delivered)
}

// --- Guards ---

func TestEnhance_DuplicateRequestRejectedWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTransfer{
		enhanceFn: func(context.Context, string, transfer.Operation) (string, error) {
			<-release
			return "res789", nil
		},
	}
	c := awaitingOption(t, tr)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Enhance(context.Background(), transfer.Upscale) }()
	waitForState(t, c, Processing)

	assert.ErrorIs(t, c.Enhance(context.Background(), transfer.Upscale), ErrBusy)
	assert.ErrorIs(t, c.Enhance(context.Background(), transfer.RemoveBackground), ErrBusy)
	assert.ErrorIs(t, c.SelectFile(context.Background(), smallJPEG(t)), ErrBusy)

	close(release)
	require.NoError(t, <-errCh)
	assert.Len(t, tr.enhanceCalls(), 1)
	assert.Equal(t, Result, c.Snapshot().State)
}

func TestSelectFile_RejectedWhileUploading(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTransfer{
		uploadFn: func(context.Context, *filehandler.ImageFile) (string, error) {
			<-release
			return "abc123", nil
		},
	}
	c := NewController(passthrough{}, tr)

	errCh := make(chan error, 1)
	go func() { errCh <- c.SelectFile(context.Background(), smallJPEG(t)) }()
	waitForState(t, c, Uploading)

	assert.ErrorIs(t, c.SelectFile(context.Background(), smallJPEG(t)), ErrBusy)
	assert.ErrorIs(t, c.Enhance(context.Background(), transfer.Upscale), ErrInvalidTransition)
	assert.ErrorIs(t, c.SetScaleFactor(4), ErrInvalidTransition)

	close(release)
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, tr.uploadCount())
}

func TestSelectFile_ResetDuringCompressionSkipsUpload(t *testing.T) {
	tr := &fakeTransfer{}
	var c *Controller
	c = NewController(compressFunc(func(_ context.Context, f *filehandler.ImageFile) *filehandler.ImageFile {
		c.Reset()
		return f
	}), tr)

	err := c.SelectFile(context.Background(), smallJPEG(t))

	assert.ErrorIs(t, err, ErrStaleSession)
	assert.Equal(t, 0, tr.uploadCount())
	assert.Equal(t, Idle, c.Snapshot().State)
}

func TestSelectFile_UnsupportedTypeNeverUploads(t *testing.T) {
	tr := &fakeTransfer{}
	c := NewController(passthrough{}, tr)

	gif := &filehandler.ImageFile{Name: "anim.gif", MIMEType: "image/gif", Data: []byte("GIF89a")}
	err := c.SelectFile(context.Background(), gif)

	var uploadErr *transfer.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.ErrorIs(t, err, filehandler.ErrUnsupportedFormat)
	assert.Equal(t, 0, tr.uploadCount())

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Contains(t, snap.ErrorMessage, "image/gif")

	require.Error(t, c.SelectFile(context.Background(), nil))
	assert.Equal(t, "No file selected", c.Snapshot().ErrorMessage)
}

func TestSelectFile_ServerReasonIsShown(t *testing.T) {
	tr := &fakeTransfer{
		uploadFn: func(context.Context, *filehandler.ImageFile) (string, error) {
			return "", &transfer.UploadError{Reason: "File too large", StatusCode: http.StatusBadRequest}
		},
	}
	c := NewController(passthrough{}, tr)

	require.Error(t, c.SelectFile(context.Background(), smallJPEG(t)))
	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Equal(t, "File too large", snap.ErrorMessage)
	assert.NotNil(t, snap.Source)
}

func TestSelectFile_NonTransferErrorUsesFallback(t *testing.T) {
	tr := &fakeTransfer{
		uploadFn: func(context.Context, *filehandler.ImageFile) (string, error) {
			return "", errors.New("boom")
		},
	}
	c := NewController(passthrough{}, tr)

	require.Error(t, c.SelectFile(context.Background(), smallJPEG(t)))
	assert.Equal(t, transfer.FallbackUploadReason, c.Snapshot().ErrorMessage)
}

func TestSelectFile_FromResultStartsNewSession(t *testing.T) {
	tr := &fakeTransfer{}
	c := awaitingOption(t, tr)
	require.NoError(t, c.Enhance(context.Background(), transfer.RemoveBackground))
	first := c.Snapshot()
	require.Equal(t, Result, first.State)

	require.NoError(t, c.SelectFile(context.Background(), smallJPEG(t)))
	second := c.Snapshot()

	assert.Equal(t, AwaitingOption, second.State)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Greater(t, second.Generation, first.Generation)
	assert.Empty(t, second.ResultHandle)
	assert.Empty(t, second.ResultLocator)
	assert.Nil(t, second.Selected)
}

// --- Other transitions ---

func TestReset_FromResultClearsEverything(t *testing.T) {
	tr := &fakeTransfer{
		enhanceFn: func(context.Context, string, transfer.Operation) (string, error) {
			return "res789", nil
		},
	}
	c := awaitingOption(t, tr)
	require.NoError(t, c.Enhance(context.Background(), transfer.Upscale))
	require.Equal(t, Result, c.Snapshot().State)

	for i := 0; i < 3; i++ {
		c.Reset()
		snap := c.Snapshot()
		assert.Equal(t, Idle, snap.State)
		assert.Empty(t, snap.ID)
		assert.Empty(t, snap.ServerHandle)
		assert.Empty(t, snap.ResultHandle)
		assert.Empty(t, snap.ErrorMessage)
		assert.Empty(t, snap.ResultLocator)
		assert.Nil(t, snap.Source)
		assert.Nil(t, snap.Selected)
		assert.Equal(t, transfer.Scale2x, snap.ScaleFactor)
	}
}

func TestSetScaleFactor(t *testing.T) {
	c := awaitingOption(t, &fakeTransfer{}, WithDefaultScale(4))
	assert.Equal(t, 4, c.Snapshot().ScaleFactor)

	require.NoError(t, c.SetScaleFactor(2))
	require.NoError(t, c.SetScaleFactor(4))
	require.NoError(t, c.SetScaleFactor(2))
	assert.Equal(t, 2, c.Snapshot().ScaleFactor)

	for _, bad := range []int{0, 1, 3, 8, -2} {
		assert.ErrorIs(t, c.SetScaleFactor(bad), ErrInvalidScale, "scale %d", bad)
	}
	assert.Equal(t, 2, c.Snapshot().ScaleFactor)

	idle := NewController(passthrough{}, &fakeTransfer{})
	assert.ErrorIs(t, idle.SetScaleFactor(4), ErrInvalidTransition)
}

func TestWithDefaultScaleIgnoresInvalid(t *testing.T) {
	c := NewController(passthrough{}, &fakeTransfer{}, WithDefaultScale(3))
	assert.Equal(t, transfer.Scale2x, c.Snapshot().ScaleFactor)
}

func TestEnhance_NotAllowedOutsideAwaitingOption(t *testing.T) {
	tr := &fakeTransfer{}
	c := NewController(passthrough{}, tr)

	assert.ErrorIs(t, c.Enhance(context.Background(), transfer.Upscale), ErrInvalidTransition)

	c = awaitingOption(t, tr)
	require.NoError(t, c.Enhance(context.Background(), transfer.RemoveBackground))
	assert.ErrorIs(t, c.Enhance(context.Background(), transfer.RemoveBackground), ErrInvalidTransition)
	assert.Len(t, tr.enhanceCalls(), 1)
}

func TestEnhance_UnknownKind(t *testing.T) {
	tr := &fakeTransfer{}
	c := awaitingOption(t, tr)

	err := c.Enhance(context.Background(), transfer.OperationKind("sharpen"))
	assert.ErrorIs(t, err, transfer.ErrInvalidOperation)
	assert.Empty(t, tr.enhanceCalls())
	assert.Equal(t, AwaitingOption, c.Snapshot().State)
}

func TestDownload(t *testing.T) {
	c := awaitingOption(t, &fakeTransfer{})

	_, err := c.Download()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, c.Enhance(context.Background(), transfer.RemoveBackground))
	locator, err := c.Download()
	require.NoError(t, err)
	assert.Equal(t, "http://enhancer.test/download/res789", locator)
}

func TestOnChange_ReceivesEveryTransition(t *testing.T) {
	tr := &fakeTransfer{}
	c := NewController(passthrough{}, tr)

	var mu sync.Mutex
	var states []State
	c.OnChange(func(s Session) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
	})

	require.NoError(t, c.SelectFile(context.Background(), smallJPEG(t)))
	require.NoError(t, c.SetScaleFactor(4))
	require.NoError(t, c.Enhance(context.Background(), transfer.Upscale))
	c.Reset()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Uploading, AwaitingOption, AwaitingOption, Processing, Result, Idle}, states)
}

func TestSnapshotIsACopy(t *testing.T) {
	c := awaitingOption(t, &fakeTransfer{})
	require.NoError(t, c.Enhance(context.Background(), transfer.Upscale))

	snap := c.Snapshot()
	snap.Selected.Scale = 99
	snap.State = Idle

	again := c.Snapshot()
	assert.Equal(t, Result, again.State)
	assert.Equal(t, transfer.Scale2x, again.Selected.Scale)
}

func TestMetricsRecordedPerOperation(t *testing.T) {
	var buf bytes.Buffer
	c := awaitingOption(t, &fakeTransfer{}, WithMetrics(metrics.NewSink(&buf, "Test")))
	require.NoError(t, c.Enhance(context.Background(), transfer.Upscale))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var upload, enhance map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &upload))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &enhance))

	assert.Equal(t, "upload", upload["Operation"])
	assert.Equal(t, "success", upload["Outcome"])
	assert.Contains(t, upload, "CompressionMs")
	assert.Contains(t, upload, "UploadMs")
	assert.Contains(t, upload, "InputBytes")
	assert.Contains(t, upload, "OutputBytes")

	assert.Equal(t, "upscale", enhance["Operation"])
	assert.Equal(t, "success", enhance["Outcome"])
	assert.Contains(t, enhance, "EnhanceMs")
	assert.Equal(t, float64(2), enhance["scale"])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-option", AwaitingOption.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, Processing.Busy())
	assert.False(t, Result.Busy())
}
