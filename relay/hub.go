// Package relay is the station's in-process realtime store: camera publishers
// push frames to a path, subscribers get the latest value, and captured frames
// are handed to an archive under a generated key.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"mala-sight/models"
	"mala-sight/utils"
)

var (
	// ErrEmptyFrame is returned when publishing a frame without image data.
	ErrEmptyFrame = errors.New("frame has no image data")
	// ErrThrottled is returned when a publisher exceeds the per-stream rate.
	ErrThrottled = errors.New("frame dropped by rate limit")
	// ErrNoArchive is returned by Push when no archive is configured.
	ErrNoArchive = errors.New("no capture archive configured")
)

// Archive persists captured frame records.
type Archive interface {
	StoreCapture(ctx context.Context, key, collection string, record models.CaptureRecord) error
}

// Option configures a Hub.
type Option func(*Hub)

// WithRateLimit caps frames per second accepted on each path. A non-positive
// rate disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Hub) {
		if perSecond <= 0 {
			h.limit = rate.Inf
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limit = rate.Limit(perSecond)
		h.burst = burst
	}
}

// WithClock sets the clock used to stamp frames published without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

type stream struct {
	latest  *models.LiveFrame
	subs    map[chan models.LiveFrame]struct{}
	limiter *rate.Limiter
}

// Hub keeps the latest frame per path and fans it out to subscribers. A slow
// subscriber only ever sees the newest frame.
type Hub struct {
	archive Archive
	limit   rate.Limit
	burst   int
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	streams map[string]*stream
}

// NewHub creates a hub. archive may be nil, in which case Push fails.
func NewHub(archive Archive, opts ...Option) *Hub {
	h := &Hub{
		archive: archive,
		limit:   rate.Inf,
		burst:   1,
		now:     time.Now,
		logger:  utils.GetLogger(),
		streams: make(map[string]*stream),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe returns a channel of frames published at path. The current value,
// if any, is delivered first. The channel is closed when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, path string) (<-chan models.LiveFrame, error) {
	ch := make(chan models.LiveFrame, 1)

	h.mu.Lock()
	s := h.stream(path)
	s.subs[ch] = struct{}{}
	if s.latest != nil {
		ch <- *s.latest
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(s.subs, ch)
		close(ch)
	}()

	return ch, nil
}

// Publish replaces the value at path and notifies subscribers.
func (h *Hub) Publish(path string, frame models.LiveFrame) error {
	if frame.Frame == "" {
		return ErrEmptyFrame
	}
	if frame.TS == 0 {
		frame.TS = h.now().UnixMilli()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.stream(path)
	if !s.limiter.Allow() {
		return ErrThrottled
	}
	s.latest = &frame
	for ch := range s.subs {
		offer(ch, frame)
	}
	return nil
}

// Latest returns the current value at path.
func (h *Hub) Latest(path string) (models.LiveFrame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[path]
	if !ok || s.latest == nil {
		return models.LiveFrame{}, false
	}
	return *s.latest, true
}

// Paths lists the paths that have a value, sorted.
func (h *Hub) Paths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	paths := make([]string, 0, len(h.streams))
	for p, s := range h.streams {
		if s.latest != nil {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Push stores a capture record under a new unique key in collection.
func (h *Hub) Push(ctx context.Context, collection string, record models.CaptureRecord) (string, error) {
	if h.archive == nil {
		return "", ErrNoArchive
	}
	key := uuid.NewString()
	if err := h.archive.StoreCapture(ctx, key, collection, record); err != nil {
		return "", fmt.Errorf("failed to store capture %s/%s: %w", collection, key, err)
	}
	h.logger.DebugContext(ctx, "stored capture", slog.String("collection", collection), slog.String("key", key))
	return key, nil
}

// stream returns the stream at path, creating it. The caller holds h.mu.
func (h *Hub) stream(path string) *stream {
	s, ok := h.streams[path]
	if !ok {
		s = &stream{
			subs:    make(map[chan models.LiveFrame]struct{}),
			limiter: rate.NewLimiter(h.limit, h.burst),
		}
		h.streams[path] = s
	}
	return s
}

// offer delivers frame, replacing an undelivered older one.
func offer(ch chan models.LiveFrame, frame models.LiveFrame) {
	select {
	case ch <- frame:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- frame:
	default:
	}
}
