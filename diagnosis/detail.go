package diagnosis

import (
	"fmt"

	"mala-sight/models"
	"mala-sight/overlay"
)

// AppliqueMarginThreshold is the marginal ratio above which a parasite sits at
// the host cell edge.
const AppliqueMarginThreshold = 0.75

// CellDetail is the drill-down shown when an overlay is clicked.
type CellDetail struct {
	Cell             models.Cell      `json:"cell"`
	Size             *models.SizeItem `json:"size,omitempty"`
	SizeText         string           `json:"sizeText"`
	RatioText        string           `json:"ratioText"`
	RatioElevated    bool             `json:"ratioElevated"`
	Shape            string           `json:"shape"`
	ChromatinText    string           `json:"chromatinText,omitempty"`
	MarginalText     string           `json:"marginalText,omitempty"`
	Position         string           `json:"position,omitempty"`
	Status           string           `json:"status"`
	ChromatinOverlay []overlay.Rect   `json:"chromatinOverlay"`
}

// DescribeCell builds the detail view for a cell. cropDims are the natural
// dimensions of the cell crop image; chromatin boxes are not mapped until they
// are known.
func DescribeCell(cell models.Cell, n Normalized, cropDims overlay.Dimensions) CellDetail {
	detail := CellDetail{
		Cell:             cell,
		SizeText:         "N/A",
		RatioText:        "1.0x",
		Shape:            "Round/Normal",
		ChromatinOverlay: overlay.MapChromatinBoxes(cell.ChromatinBoxes, cropDims),
	}
	if detail.ChromatinOverlay == nil {
		detail.ChromatinOverlay = []overlay.Rect{}
	}

	size, matched := n.MatchSize(cell)
	if matched {
		detail.Size = &size
		detail.SizeText = fmt.Sprintf("%g px", size.SizePx)
		detail.RatioText = fmt.Sprintf("%gx", size.Ratio)
		detail.RatioElevated = size.Ratio > EnlargedRatioThreshold
		if size.Shape != "" {
			detail.Shape = size.Shape
		}
	}

	isChromatin := cell.Characteristic == models.CharacteristicChromatin
	if isChromatin {
		if cell.ChromatinCount > 1 {
			detail.ChromatinText = fmt.Sprintf("Multiple (%d)", cell.ChromatinCount)
		} else {
			detail.ChromatinText = fmt.Sprintf("Single (%d)", cell.ChromatinCount)
		}
		detail.MarginalText = fmt.Sprintf("%.1f%%", cell.MarginalRatio*100)
		detail.Position = MarginalPosition(cell.MarginalRatio)
	}

	isLarge := matched && size.Ratio > EnlargedRatioThreshold
	isAmoeboid := matched && size.Shape == models.ShapeAmoeboid
	switch {
	case isLarge && isAmoeboid:
		detail.Status = "High Risk (P.v)"
	case cell.ChromatinCount > 1:
		detail.Status = "Multiple Infection"
	case isLarge:
		detail.Status = "Enlarged RBC"
	case isAmoeboid:
		detail.Status = "Amoeboid Form"
	default:
		detail.Status = "Abnormal"
	}

	return detail
}

// MarginalPosition labels a marginal ratio as edge (appliqué) or internal.
func MarginalPosition(ratio float64) string {
	if ratio > AppliqueMarginThreshold {
		return "Edge (Appliqué)"
	}
	return "Internal"
}
