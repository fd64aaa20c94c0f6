package overlay

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mala-sight/models"
)

func TestMapBoxStaysWithinContainer(t *testing.T) {
	t.Parallel()

	sizes := []Dimensions{{Width: 640, Height: 480}, {Width: 1, Height: 1}, {Width: 4032, Height: 3024}, {Width: 333, Height: 997}}
	for _, dims := range sizes {
		for _, fx := range []float64{0, 0.1, 0.5, 0.9, 1} {
			for _, fw := range []float64{0, 0.25, 1} {
				x := fx * dims.Width
				w := math.Min(fw*dims.Width, dims.Width-x)
				y := fx * dims.Height
				h := math.Min(fw*dims.Height, dims.Height-y)

				rect, ok := MapBox(models.BBox{X: x, Y: y, W: w, H: h}, dims)
				if !ok {
					t.Fatalf("MapBox(%v,%v,%v,%v in %v) returned !ok", x, y, w, h, dims)
				}
				for _, v := range []float64{rect.Left, rect.Top, rect.Width, rect.Height} {
					if v < 0 || v > 100 {
						t.Fatalf("component %v outside [0,100] for %+v", v, rect)
					}
				}
				if rect.Left+rect.Width > 100+1e-9 || rect.Top+rect.Height > 100+1e-9 {
					t.Fatalf("rect overflows container: %+v", rect)
				}
			}
		}
	}
}

func TestMapBoxExactPercentages(t *testing.T) {
	t.Parallel()

	rect, ok := MapBox(models.BBox{X: 64, Y: 48, W: 128, H: 96}, Dimensions{Width: 640, Height: 480})
	if !ok {
		t.Fatal("expected mapping")
	}
	want := Rect{Left: 10, Top: 10, Width: 20, Height: 20}
	if rect != want {
		t.Fatalf("expected %+v, got %+v", want, rect)
	}
}

func TestMapBoxUnknownDimensionsIsUndefined(t *testing.T) {
	t.Parallel()

	box := models.BBox{X: 10, Y: 10, W: 20, H: 20}
	for _, dims := range []Dimensions{{}, {Width: 640}, {Height: 480}, {Width: -1, Height: 5}} {
		rect, ok := MapBox(box, dims)
		if ok {
			t.Fatalf("expected undefined mapping for %+v, got %+v", dims, rect)
		}
		if rect != (Rect{}) {
			t.Fatalf("undefined mapping must not carry values, got %+v", rect)
		}
	}
}

func TestMapBoxRejectsNonFiniteInput(t *testing.T) {
	t.Parallel()

	_, ok := MapBox(models.BBox{X: math.NaN(), Y: 1, W: 1, H: 1}, Dimensions{Width: 10, Height: 10})
	if ok {
		t.Fatal("NaN input must not produce an overlay")
	}
}

func TestMapChromatinBoxUsesCornerPairs(t *testing.T) {
	t.Parallel()

	rect, ok := MapChromatinBox(models.ChromatinBox{20, 10, 60, 50}, Dimensions{Width: 200, Height: 100})
	if !ok {
		t.Fatal("expected mapping")
	}
	want := Rect{Left: 10, Top: 10, Width: 20, Height: 40}
	if rect != want {
		t.Fatalf("expected %+v, got %+v", want, rect)
	}

	if rects := MapChromatinBoxes([]models.ChromatinBox{{0, 0, 1, 1}}, Dimensions{}); rects != nil {
		t.Fatalf("expected no chromatin overlays before load, got %v", rects)
	}
}

func TestMapCellsSkipsCellsWithoutBox(t *testing.T) {
	t.Parallel()

	cells := []models.Cell{
		{Characteristic: models.CharacteristicSchuffner, BBox: &models.BBox{X: 10, Y: 10, W: 20, H: 20}},
		{Characteristic: models.CharacteristicBandForm},
		{Characteristic: models.CharacteristicChromatin, BBox: &models.BBox{X: 50, Y: 50, W: 10, H: 10}},
	}

	if got := MapCells(cells, Dimensions{}); got != nil {
		t.Fatalf("expected no overlays before load, got %v", got)
	}

	got := MapCells(cells, Dimensions{Width: 100, Height: 100})
	if len(got) != 2 {
		t.Fatalf("expected 2 overlays, got %d", len(got))
	}
	if got[0].Index != 0 || got[1].Index != 2 {
		t.Fatalf("overlay indices should point into the input slice, got %d and %d", got[0].Index, got[1].Index)
	}
	if got[1].Characteristic != models.CharacteristicChromatin {
		t.Fatalf("unexpected characteristic %q", got[1].Characteristic)
	}
}

func TestResolverDecodesAndCaches(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 37, 21))); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)

	resolver := NewResolver(time.Second, time.Minute)
	for i := 0; i < 3; i++ {
		dims, err := resolver.Resolve(context.Background(), srv.URL+"/results/crop.png")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if dims.Width != 37 || dims.Height != 21 {
			t.Fatalf("unexpected dimensions %+v", dims)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single fetch, got %d", hits.Load())
	}
}

func TestResolverReportsHTTPFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	if _, err := NewResolver(time.Second, time.Minute).Resolve(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404")
	}
}
