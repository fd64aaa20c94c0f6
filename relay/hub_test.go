package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mala-sight/livefeed"
	"mala-sight/models"
)

var _ livefeed.Store = (*Hub)(nil)

type memArchive struct {
	mu      sync.Mutex
	records map[string]models.CaptureRecord
	err     error
}

func (a *memArchive) StoreCapture(ctx context.Context, key, collection string, record models.CaptureRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	if a.records == nil {
		a.records = make(map[string]models.CaptureRecord)
	}
	a.records[collection+"/"+key] = record
	return nil
}

func receive(t *testing.T, ch <-chan models.LiveFrame) models.LiveFrame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return models.LiveFrame{}
	}
}

func TestSubscribeDeliversCurrentValue(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	if err := h.Publish("streams/stream1", models.LiveFrame{Frame: "a", TS: 5}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := h.Subscribe(ctx, "streams/stream1")
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if f := receive(t, ch); f.Frame != "a" || f.TS != 5 {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestSlowSubscriberSeesOnlyLatest(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := h.Subscribe(ctx, "streams/stream1")
	other, _ := h.Subscribe(ctx, "streams/stream2")

	for _, frame := range []string{"1", "2", "3"} {
		if err := h.Publish("streams/stream1", models.LiveFrame{Frame: frame, TS: 1}); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}
	if f := receive(t, ch); f.Frame != "3" {
		t.Fatalf("expected latest frame, got %q", f.Frame)
	}
	select {
	case f := <-other:
		t.Fatalf("frame leaked to another path: %+v", f)
	default:
	}
}

func TestPublishStampsAndValidates(t *testing.T) {
	t.Parallel()

	fixed := time.UnixMilli(1700000000000)
	h := NewHub(nil, WithClock(func() time.Time { return fixed }))
	if err := h.Publish("p", models.LiveFrame{}); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
	if err := h.Publish("p", models.LiveFrame{Frame: "x"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	f, ok := h.Latest("p")
	if !ok || f.TS != fixed.UnixMilli() {
		t.Fatalf("expected server timestamp, got %+v", f)
	}
	if paths := h.Paths(); len(paths) != 1 || paths[0] != "p" {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.Subscribe(ctx, "p")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if err := h.Publish("p", models.LiveFrame{Frame: "x", TS: 1}); err != nil {
		t.Fatalf("Publish after unsubscribe returned error: %v", err)
	}
}

func TestRateLimitDropsFrames(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, WithRateLimit(0.001, 1))
	if err := h.Publish("p", models.LiveFrame{Frame: "1", TS: 1}); err != nil {
		t.Fatalf("first Publish returned error: %v", err)
	}
	if err := h.Publish("p", models.LiveFrame{Frame: "2", TS: 2}); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if f, _ := h.Latest("p"); f.Frame != "1" {
		t.Fatalf("throttled frame replaced the value: %+v", f)
	}
	if err := h.Publish("q", models.LiveFrame{Frame: "1", TS: 1}); err != nil {
		t.Fatalf("limits must be per path: %v", err)
	}
}

func TestPushArchivesUnderUniqueKeys(t *testing.T) {
	t.Parallel()

	archive := &memArchive{}
	h := NewHub(archive)
	record := models.CaptureRecord{Image: "data:image/jpeg;base64,AA==", Timestamp: 1, Note: livefeed.CaptureNote}

	k1, err := h.Push(context.Background(), "captures", record)
	if err != nil {
		t.Fatalf("Push returned error: %v", err)
	}
	k2, _ := h.Push(context.Background(), "captures", record)
	if k1 == k2 {
		t.Fatal("expected unique keys")
	}
	if _, err := uuid.Parse(k1); err != nil {
		t.Fatalf("expected uuid key, got %q", k1)
	}
	if got := archive.records["captures/"+k1]; got != record {
		t.Fatalf("unexpected stored record %+v", got)
	}

	archive.err = errors.New("disk full")
	if _, err := h.Push(context.Background(), "captures", record); err == nil {
		t.Fatal("expected archive error")
	}
	if _, err := NewHub(nil).Push(context.Background(), "captures", record); !errors.Is(err, ErrNoArchive) {
		t.Fatalf("expected ErrNoArchive, got %v", err)
	}
}
