package livefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"

	"mala-sight/models"
	"mala-sight/utils"
)

const (
	// CaptureFilename is the file name given to captured frames.
	CaptureFilename = "capture_rpi.jpg"
	// CaptureNote annotates archived captures.
	CaptureNote = "Captured via Web Interface"
	// DefaultCaptureCollection is the archive collection for captured frames.
	DefaultCaptureCollection = "captures"

	archiveTimeout = 30 * time.Second
)

// ErrNoFrameAvailable is returned by Capture before any frame has arrived.
var ErrNoFrameAvailable = errors.New("no frame received from the camera yet")

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithCollection overrides the archive collection.
func WithCollection(collection string) Option {
	return func(in *Ingestor) { in.collection = collection }
}

// WithClock overrides the clock and the location used for display times.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(in *Ingestor) {
		in.now = now
		in.loc = loc
	}
}

// WithFrameHook registers a callback invoked after every accepted frame. It is
// called without any ingestor lock held.
func WithFrameHook(hook func(models.LiveFrame)) Option {
	return func(in *Ingestor) { in.onFrame = hook }
}

// Ingestor holds the latest frame of one camera stream while subscribed.
// Frames are never queued: each push replaces the previous one.
type Ingestor struct {
	store      Store
	path       string
	collection string
	now        func() time.Time
	loc        *time.Location
	onFrame    func(models.LiveFrame)
	logger     *slog.Logger

	mu     sync.Mutex
	frame  *models.LiveFrame
	cancel context.CancelFunc
	gen    uint64

	archives sync.WaitGroup
}

// NewIngestor creates an ingestor for streams/{streamID}.
func NewIngestor(store Store, streamID string, opts ...Option) *Ingestor {
	in := &Ingestor{
		store:      store,
		path:       FeedPath(streamID),
		collection: DefaultCaptureCollection,
		now:        time.Now,
		loc:        time.Local,
		logger:     utils.GetLogger(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Path returns the feed path this ingestor subscribes to.
func (in *Ingestor) Path() string {
	return in.path
}

// Start subscribes to the feed. Calling Start while subscribed is a no-op.
func (in *Ingestor) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.cancel != nil {
		return nil
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	frames, err := in.store.Subscribe(subCtx, in.path)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", in.path, err)
	}

	in.gen++
	in.cancel = cancel
	go in.consume(subCtx, frames, in.gen)

	in.logger.DebugContext(ctx, "subscribed to live feed", slog.String("path", in.path))
	return nil
}

// Stop releases the subscription and clears the held frame. Frames that were
// already in flight are discarded.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.cancel != nil {
		in.cancel()
		in.cancel = nil
		in.logger.Debug("unsubscribed from live feed", slog.String("path", in.path))
	}
	in.gen++
	in.frame = nil
}

// Active reports whether a subscription is held.
func (in *Ingestor) Active() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cancel != nil
}

// Latest returns the most recent frame.
func (in *Ingestor) Latest() (models.LiveFrame, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.frame == nil {
		return models.LiveFrame{}, false
	}
	return *in.frame, true
}

// LastUpdate renders the latest frame's server timestamp as a wall-clock time,
// or "" when no frame is held.
func (in *Ingestor) LastUpdate() string {
	frame, ok := in.Latest()
	if !ok {
		return ""
	}
	return time.UnixMilli(frame.TS).In(in.loc).Format("15:04:05")
}

// Capture converts the latest frame into an artifact and archives the frame in
// the background. Archive failures are logged and never returned.
func (in *Ingestor) Capture(ctx context.Context) (models.Artifact, error) {
	frame, ok := in.Latest()
	if !ok {
		return models.Artifact{}, ErrNoFrameAvailable
	}

	data, mime, err := DecodeFrame(frame.Frame)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("failed to decode captured frame: %w", err)
	}

	in.archive(ctx, frame)

	return models.Artifact{Name: CaptureFilename, MIME: mime, Data: data}, nil
}

// WaitArchives blocks until background archive writes have finished.
func (in *Ingestor) WaitArchives() {
	in.archives.Wait()
}

func (in *Ingestor) archive(ctx context.Context, frame models.LiveFrame) {
	now := in.now()
	record := models.CaptureRecord{
		Image:     frame.Frame,
		Timestamp: now.UnixMilli(),
		Date:      now.In(in.loc).Format("1/2/2006, 3:04:05 PM"),
		Note:      CaptureNote,
	}

	in.archives.Add(1)
	go func() {
		defer in.archives.Done()

		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()

		key, err := in.store.Push(archiveCtx, in.collection, record)
		if err != nil {
			err := xerrors.New(err)
			in.logger.ErrorContext(archiveCtx, "failed to archive captured frame",
				slog.String("collection", in.collection),
				slog.Any("error", err),
			)
			return
		}
		in.logger.InfoContext(archiveCtx, "archived captured frame",
			slog.String("collection", in.collection),
			slog.String("key", key),
		)
	}()
}

func (in *Ingestor) consume(ctx context.Context, frames <-chan models.LiveFrame, gen uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if frame.Frame == "" {
				continue
			}
			if !in.accept(frame, gen) {
				return
			}
			if in.onFrame != nil {
				in.onFrame(frame)
			}
		}
	}
}

func (in *Ingestor) accept(frame models.LiveFrame, gen uint64) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.gen != gen {
		return false
	}
	in.frame = &frame
	return true
}
