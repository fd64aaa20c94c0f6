// Package session drives one analysis session of the station: input mode,
// submission, the committed result and everything derived from it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mdobak/go-xerrors"

	"mala-sight/analyzer"
	"mala-sight/diagnosis"
	"mala-sight/livefeed"
	"mala-sight/models"
	"mala-sight/overlay"
	"mala-sight/utils"
)

// DefaultPreviewPrefix is the URL prefix preview handles are served under.
const DefaultPreviewPrefix = "/api/previews/"

// Analyzer submits an artifact for analysis.
type Analyzer interface {
	Analyze(ctx context.Context, artifact models.Artifact) (*models.AnalysisResult, error)
}

// Feed is the station's live camera feed.
type Feed interface {
	Start(ctx context.Context) error
	Stop()
	Active() bool
	Latest() (models.LiveFrame, bool)
	LastUpdate() string
	Capture(ctx context.Context) (models.Artifact, error)
}

// DimensionResolver fetches the natural dimensions of a remote image.
type DimensionResolver interface {
	Resolve(ctx context.Context, url string) (overlay.Dimensions, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithResolver resolves result image dimensions server side when the browser
// has not reported them.
func WithResolver(r DimensionResolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithAssetOrigin sets the origin that relative asset paths resolve against.
func WithAssetOrigin(origin string) Option {
	return func(c *Controller) { c.assetOrigin = origin }
}

// WithPreviewPrefix sets the URL prefix of preview handles.
func WithPreviewPrefix(prefix string) Option {
	return func(c *Controller) { c.previewPrefix = prefix }
}

// WithChangeHook registers a callback run after every state change, outside
// the controller lock.
func WithChangeHook(hook func()) Option {
	return func(c *Controller) { c.onChange = hook }
}

// Controller owns the session state. All methods are safe for concurrent use;
// the analysis request and dimension lookups run without the lock held.
type Controller struct {
	analyzer      Analyzer
	feed          Feed
	previews      *PreviewRegistry
	resolver      DimensionResolver
	assetOrigin   string
	previewPrefix string
	onChange      func()
	logger        *slog.Logger

	mu      sync.Mutex
	state   State
	token   uint64
	gallery GalleryKind
	dims    overlay.Dimensions

	background sync.WaitGroup
}

// NewController creates a controller in the Selecting state.
func NewController(a Analyzer, feed Feed, previews *PreviewRegistry, opts ...Option) *Controller {
	c := &Controller{
		analyzer:      a,
		feed:          feed,
		previews:      previews,
		previewPrefix: DefaultPreviewPrefix,
		logger:        utils.GetLogger(),
		state:         Selecting{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Previews returns the registry backing preview URLs.
func (c *Controller) Previews() *PreviewRegistry {
	return c.previews
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectMode leaves Selecting for upload or camera mode.
func (c *Controller) SelectMode(ctx context.Context, mode Mode) error {
	c.mu.Lock()
	err := c.apply(ctx, ChooseMode{Mode: mode})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notify()
	return nil
}

// SelectFile replaces the uploaded file and its preview, clearing any error.
func (c *Controller) SelectFile(ctx context.Context, artifact models.Artifact) error {
	if len(artifact.Data) == 0 {
		return ErrNoArtifact
	}

	c.mu.Lock()
	if _, ok := c.state.(Uploading); !ok {
		mode := c.state.Mode()
		c.mu.Unlock()
		return fmt.Errorf("%w: file selection in %s", ErrIllegalTransition, mode)
	}
	handle := c.previews.Create(artifact)
	err := c.apply(ctx, SelectFile{Artifact: artifact.Clone(), Preview: handle})
	c.mu.Unlock()
	if err != nil {
		c.previews.Revoke(handle)
		return err
	}
	c.notify()
	return nil
}

// Submit sends the selected file for analysis and blocks until the response
// is applied. In camera mode it captures the latest frame first. A submit
// while one is in flight is a no-op.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	switch c.state.(type) {
	case Pending:
		c.mu.Unlock()
		return nil
	case LiveCapturing:
		c.mu.Unlock()
		return c.CaptureAndSubmit(ctx)
	}

	c.token++
	err := c.apply(ctx, Submit{Token: c.token})
	if errors.Is(err, ErrNoArtifact) {
		_ = c.apply(ctx, Report{Message: UserMessage(err)})
		c.mu.Unlock()
		c.notify()
		return err
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	pending := c.state.(Pending)
	c.mu.Unlock()

	c.notify()
	return c.run(ctx, pending)
}

// CaptureAndSubmit captures the latest live frame and submits it.
func (c *Controller) CaptureAndSubmit(ctx context.Context) error {
	c.mu.Lock()
	switch c.state.(type) {
	case Pending:
		c.mu.Unlock()
		return nil
	case LiveCapturing:
	default:
		mode := c.state.Mode()
		c.mu.Unlock()
		return fmt.Errorf("%w: capture in %s", ErrIllegalTransition, mode)
	}

	artifact, err := c.feed.Capture(ctx)
	if err != nil {
		_ = c.apply(ctx, Report{Message: UserMessage(err)})
		c.mu.Unlock()
		c.notify()
		return err
	}

	handle := c.previews.Create(artifact)
	c.token++
	if err := c.apply(ctx, Submit{Artifact: &artifact, Preview: handle, Token: c.token}); err != nil {
		c.mu.Unlock()
		c.previews.Revoke(handle)
		return err
	}
	pending := c.state.(Pending)
	c.mu.Unlock()

	c.notify()
	return c.run(ctx, pending)
}

// Cancel returns from an input mode to Selecting.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	err := c.apply(ctx, Cancel{})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notify()
	return nil
}

// Restart discards everything, including an in-flight request whose response
// will be dropped on arrival.
func (c *Controller) Restart(ctx context.Context) {
	c.mu.Lock()
	c.token++
	_ = c.apply(ctx, Restart{})
	c.mu.Unlock()
	c.notify()
}

// ImageLoaded records the natural dimensions of the displayed result image.
func (c *Controller) ImageLoaded(dims overlay.Dimensions) error {
	c.mu.Lock()
	if _, ok := c.state.(Submitted); !ok {
		c.mu.Unlock()
		return ErrNoResult
	}
	c.dims = dims
	c.mu.Unlock()
	c.notify()
	return nil
}

// OpenGallery makes kind the single open gallery.
func (c *Controller) OpenGallery(kind GalleryKind) error {
	c.mu.Lock()
	if _, ok := c.state.(Submitted); !ok {
		c.mu.Unlock()
		return ErrNoResult
	}
	c.gallery = kind
	c.mu.Unlock()
	c.notify()
	return nil
}

// CloseGallery closes the open gallery, if any.
func (c *Controller) CloseGallery() {
	c.mu.Lock()
	c.gallery = GalleryNone
	c.mu.Unlock()
	c.notify()
}

// CellView is the detail view of one abnormal cell with absolute asset URLs.
type CellView struct {
	diagnosis.CellDetail
	ImageURL       string `json:"imageUrl,omitempty"`
	DistanceVizURL string `json:"distanceVizUrl,omitempty"`
}

// CellDetail describes the abnormal cell at overlay index. cropDims are the
// natural dimensions of the cell crop once the browser has loaded it.
func (c *Controller) CellDetail(index int, cropDims overlay.Dimensions) (CellView, error) {
	c.mu.Lock()
	st, ok := c.state.(Submitted)
	c.mu.Unlock()
	if !ok {
		return CellView{}, ErrNoResult
	}

	n := diagnosis.Normalize(st.Result)
	if index < 0 || index >= len(n.AbnormalCells) {
		return CellView{}, ErrUnknownCell
	}
	cell := n.AbnormalCells[index]
	return CellView{
		CellDetail:     diagnosis.DescribeCell(cell, n, cropDims),
		ImageURL:       analyzer.ResolveAsset(c.assetOrigin, cell.URL),
		DistanceVizURL: analyzer.ResolveAsset(c.assetOrigin, cell.DistanceVizURL),
	}, nil
}

// Wait blocks until background dimension lookups have finished.
func (c *Controller) Wait() {
	c.background.Wait()
}

// Close stops the live feed.
func (c *Controller) Close() {
	c.feed.Stop()
}

func (c *Controller) run(ctx context.Context, p Pending) error {
	reqCtx := context.WithoutCancel(ctx)

	res, err := c.analyzer.Analyze(reqCtx, p.Artifact)
	if err == nil && res == nil {
		res = &models.AnalysisResult{}
	}

	var ev Event = Succeed{Result: res, Token: p.Token}
	if err != nil {
		ev = Fail{Message: UserMessage(err), Token: p.Token}
	}

	c.mu.Lock()
	applyErr := c.apply(reqCtx, ev)
	c.mu.Unlock()

	if errors.Is(applyErr, ErrStaleResponse) {
		c.logger.InfoContext(ctx, "discarded stale analysis response", slog.Uint64("token", p.Token))
		return nil
	}
	c.notify()

	if err != nil {
		c.logger.ErrorContext(ctx, "analysis failed",
			slog.String("file", p.Artifact.Name),
			slog.Any("error", xerrors.New(err)),
		)
		return err
	}

	c.logger.InfoContext(ctx, "analysis complete",
		slog.String("diagnosis", res.OverallDiagnosis),
		slog.Int("cells", res.TotalCellsSegmented),
	)
	c.resolveDimensions(reqCtx, res)
	return nil
}

// resolveDimensions looks up the result image dimensions in the background.
// The browser's report wins if it arrives first.
func (c *Controller) resolveDimensions(ctx context.Context, res *models.AnalysisResult) {
	if c.resolver == nil || res.OriginalImageURL == "" {
		return
	}
	url := analyzer.ResolveAsset(c.assetOrigin, res.OriginalImageURL)

	c.background.Add(1)
	go func() {
		defer c.background.Done()

		dims, err := c.resolver.Resolve(ctx, url)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to resolve result image dimensions",
				slog.String("url", url),
				slog.Any("error", xerrors.New(err)),
			)
			return
		}

		c.mu.Lock()
		st, ok := c.state.(Submitted)
		apply := ok && st.Result == res && !c.dims.Known()
		if apply {
			c.dims = dims
		}
		c.mu.Unlock()
		if apply {
			c.notify()
		}
	}()
}

// apply runs a transition and the side effects that follow from it. The
// caller holds c.mu.
func (c *Controller) apply(ctx context.Context, ev Event) error {
	next, err := Transition(c.state, ev)
	if err != nil {
		return err
	}

	prev := c.state
	c.state = next
	if old := previewOf(prev); old != "" && old != previewOf(next) {
		c.previews.Revoke(old)
	}
	c.gallery = GalleryNone
	c.dims = overlay.Dimensions{}

	c.syncFeed(ctx)
	return nil
}

// syncFeed holds the feed subscription exactly while the mode is camera
// capture without a result.
func (c *Controller) syncFeed(ctx context.Context) {
	if c.state.Mode() != ModeLiveCapturing {
		if c.feed.Active() {
			c.feed.Stop()
		}
		return
	}

	if err := c.feed.Start(ctx); err != nil {
		c.logger.ErrorContext(ctx, "failed to start live feed", slog.Any("error", xerrors.New(err)))
		if _, ok := c.state.(LiveCapturing); ok {
			c.state = LiveCapturing{Err: UserMessage(err)}
		}
	}
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

// UserMessage renders an error for display in the station UI.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, livefeed.ErrNoFrameAvailable):
		return "No image from the camera yet. Wait for the live feed and try again."
	case errors.Is(err, ErrNoArtifact):
		return "Please select an image first."
	case errors.Is(err, analyzer.ErrNetworkFailure):
		return "Could not reach the analysis service. Please try again."
	default:
		return "Something went wrong: " + err.Error()
	}
}
