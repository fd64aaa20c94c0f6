package livefeed

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"mala-sight/models"
)

type fakeStore struct {
	mu        sync.Mutex
	subs      map[string][]chan models.LiveFrame
	pushed    []models.CaptureRecord
	pushErr   error
	pushBlock chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: make(map[string][]chan models.LiveFrame)}
}

func (s *fakeStore) Subscribe(ctx context.Context, path string) (<-chan models.LiveFrame, error) {
	ch := make(chan models.LiveFrame, 8)
	s.mu.Lock()
	s.subs[path] = append(s.subs[path], ch)
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[path]
		for i, c := range list {
			if c == ch {
				s.subs[path] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (s *fakeStore) Push(ctx context.Context, collection string, record models.CaptureRecord) (string, error) {
	if s.pushBlock != nil {
		<-s.pushBlock
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return "", s.pushErr
	}
	s.pushed = append(s.pushed, record)
	return "key-1", nil
}

func (s *fakeStore) publish(path string, frame models.LiveFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[path] {
		ch <- frame
	}
}

func (s *fakeStore) subscribers(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[path])
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func dataURL(payload string) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(payload))
}

func TestIngestorKeepsOnlyLatestFrame(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	in := NewIngestor(store, "stream1", WithClock(time.Now, time.UTC))
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(in.Stop)

	store.publish("streams/stream1", models.LiveFrame{Frame: dataURL("first"), TS: 1000})
	store.publish("streams/stream1", models.LiveFrame{Frame: dataURL("second"), TS: 3723000})

	waitFor(t, func() bool {
		frame, ok := in.Latest()
		return ok && frame.TS == 3723000
	})
	if got := in.LastUpdate(); got != "01:02:03" {
		t.Fatalf("expected 01:02:03, got %q", got)
	}
}

func TestIngestorStopReleasesSubscription(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	in := NewIngestor(store, "stream1")
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}
	if store.subscribers("streams/stream1") != 1 {
		t.Fatalf("expected one subscription, got %d", store.subscribers("streams/stream1"))
	}

	store.publish("streams/stream1", models.LiveFrame{Frame: dataURL("x"), TS: 1})
	waitFor(t, func() bool { _, ok := in.Latest(); return ok })

	in.Stop()
	if in.Active() {
		t.Fatal("ingestor still active after Stop")
	}
	if _, ok := in.Latest(); ok {
		t.Fatal("Stop must clear the buffered frame")
	}
	waitFor(t, func() bool { return store.subscribers("streams/stream1") == 0 })
}

func TestCaptureWithoutFrame(t *testing.T) {
	t.Parallel()

	in := NewIngestor(newFakeStore(), "stream1")
	if _, err := in.Capture(context.Background()); !errors.Is(err, ErrNoFrameAvailable) {
		t.Fatalf("expected ErrNoFrameAvailable, got %v", err)
	}
}

func TestCaptureDecodesAndArchives(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fixed := time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)
	in := NewIngestor(store, "stream1", WithClock(func() time.Time { return fixed }, time.UTC))
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(in.Stop)

	frame := models.LiveFrame{Frame: dataURL("pixels"), TS: 42}
	store.publish("streams/stream1", frame)
	waitFor(t, func() bool { _, ok := in.Latest(); return ok })

	artifact, err := in.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if string(artifact.Data) != "pixels" || artifact.MIME != "image/png" || artifact.Name != CaptureFilename {
		t.Fatalf("unexpected artifact %+v (%q)", artifact, artifact.Data)
	}

	in.WaitArchives()
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.pushed) != 1 {
		t.Fatalf("expected one archived record, got %d", len(store.pushed))
	}
	rec := store.pushed[0]
	if rec.Image != frame.Frame || rec.Timestamp != fixed.UnixMilli() || rec.Note != CaptureNote {
		t.Fatalf("unexpected archive record %+v", rec)
	}
	if rec.Date != "10/19/2026, 2:30:00 PM" {
		t.Fatalf("unexpected archive date %q", rec.Date)
	}
}

func TestCaptureDoesNotWaitForArchive(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.pushErr = errors.New("permission denied")
	store.pushBlock = make(chan struct{})
	in := NewIngestor(store, "stream1")
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(in.Stop)

	store.publish("streams/stream1", models.LiveFrame{Frame: dataURL("pixels"), TS: 1})
	waitFor(t, func() bool { _, ok := in.Latest(); return ok })

	done := make(chan error, 1)
	go func() {
		_, err := in.Capture(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("archive failure must not fail the capture: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Capture blocked on the archive write")
	}

	close(store.pushBlock)
	in.WaitArchives()
}

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		mime    string
		want    string
		wantErr bool
	}{
		{name: "data url", payload: "data:image/webp;base64," + base64.StdEncoding.EncodeToString([]byte("abc")), mime: "image/webp", want: "abc"},
		{name: "bare", payload: base64.StdEncoding.EncodeToString([]byte("abcd")), mime: "image/jpeg", want: "abcd"},
		{name: "unpadded", payload: base64.RawStdEncoding.EncodeToString([]byte("abcde")), mime: "image/jpeg", want: "abcde"},
		{name: "missing comma", payload: "data:image/png;base64", wantErr: true},
		{name: "not base64", payload: "data:image/png,raw", wantErr: true},
		{name: "empty", payload: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, mime, err := DecodeFrame(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", data)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame returned error: %v", err)
			}
			if string(data) != tt.want || mime != tt.mime {
				t.Fatalf("expected %q/%s, got %q/%s", tt.want, tt.mime, data, mime)
			}
		})
	}
}
