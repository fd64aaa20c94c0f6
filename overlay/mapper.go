// Package overlay places pixel-space cell boxes onto a responsively scaled image.
//
// Boxes are converted to percentages of the reference image's natural size, so
// an overlay positioned inside a container that tracks the rendered image stays
// aligned at any on-screen size. Nothing is mapped until the natural size is
// known; a zero width or height means "not loaded yet", not "zero".
package overlay

import (
	"math"

	"mala-sight/models"
)

// Dimensions is the natural (unscaled) pixel size of a displayed image.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Known reports whether the dimensions came from a loaded image.
func (d Dimensions) Known() bool {
	return d.Width > 0 && d.Height > 0 && !math.IsInf(d.Width, 0) && !math.IsInf(d.Height, 0)
}

// Rect is an overlay rectangle in percent of the container box.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CellOverlay is a clickable overlay for one cell.
type CellOverlay struct {
	Index          int    `json:"index"`
	Characteristic string `json:"characteristic"`
	Rect           Rect   `json:"rect"`
}

// MapBox converts a pixel bounding box into a percentage rectangle.
// ok is false when dims are unknown or the box yields non-finite values.
func MapBox(box models.BBox, dims Dimensions) (Rect, bool) {
	return mapRect(box.X, box.Y, box.W, box.H, dims)
}

// MapChromatinBox converts a corner-pair chromatin box into a percentage rectangle.
func MapChromatinBox(box models.ChromatinBox, dims Dimensions) (Rect, bool) {
	x1, y1, x2, y2 := box[0], box[1], box[2], box[3]
	return mapRect(x1, y1, x2-x1, y2-y1, dims)
}

// MapCells maps every cell that carries a bounding box. Index refers to the
// position in cells, so callers can resolve a click back to its record.
func MapCells(cells []models.Cell, dims Dimensions) []CellOverlay {
	if !dims.Known() {
		return nil
	}
	overlays := make([]CellOverlay, 0, len(cells))
	for i, cell := range cells {
		if cell.BBox == nil {
			continue
		}
		rect, ok := MapBox(*cell.BBox, dims)
		if !ok {
			continue
		}
		overlays = append(overlays, CellOverlay{
			Index:          i,
			Characteristic: cell.Characteristic,
			Rect:           rect,
		})
	}
	return overlays
}

// MapChromatinBoxes maps all chromatin sub-boxes of a cell crop.
func MapChromatinBoxes(boxes []models.ChromatinBox, dims Dimensions) []Rect {
	if !dims.Known() {
		return nil
	}
	rects := make([]Rect, 0, len(boxes))
	for _, box := range boxes {
		if rect, ok := MapChromatinBox(box, dims); ok {
			rects = append(rects, rect)
		}
	}
	return rects
}

func mapRect(x, y, w, h float64, dims Dimensions) (Rect, bool) {
	if !dims.Known() {
		return Rect{}, false
	}
	rect := Rect{
		Left:   x / dims.Width * 100,
		Top:    y / dims.Height * 100,
		Width:  w / dims.Width * 100,
		Height: h / dims.Height * 100,
	}
	for _, v := range [...]float64{rect.Left, rect.Top, rect.Width, rect.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Rect{}, false
		}
	}
	return rect, true
}
