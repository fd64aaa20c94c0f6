package diagnosis

import (
	"strings"

	"mala-sight/models"
)

// distanceMarkers flag a visualization locator as a distance rendering rather
// than a size rendering. Matched case-insensitively as substrings.
var distanceMarkers = []string{"dist_viz", "distance"}

// Normalized holds the filtered views of one analysis result. The slices share
// elements with the result they were built from and must be treated as read-only.
type Normalized struct {
	AllCells      []models.Cell         `json:"allCells"`
	AbnormalCells []models.Cell         `json:"abnormalCells"`
	SizeData      []models.SizeItem     `json:"sizeData"`
	DistanceData  []models.DistanceItem `json:"distanceData"`
}

// IsDistanceVisualization reports whether a locator points at a distance rendering.
func IsDistanceVisualization(locator string) bool {
	lower := strings.ToLower(locator)
	for _, marker := range distanceMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Normalize splits a raw result into typed collections. Missing fields produce
// empty collections; a nil result is treated as an empty one.
func Normalize(res *models.AnalysisResult) Normalized {
	n := Normalized{
		AllCells:      []models.Cell{},
		AbnormalCells: []models.Cell{},
		SizeData:      []models.SizeItem{},
		DistanceData:  []models.DistanceItem{},
	}
	if res == nil {
		return n
	}

	if res.Cells != nil {
		n.AllCells = res.Cells
	}
	for _, cell := range res.Cells {
		if cell.Characteristic != models.CharacteristicNormal {
			n.AbnormalCells = append(n.AbnormalCells, cell)
		}
		if cell.DistanceVizURL != "" {
			n.DistanceData = append(n.DistanceData, models.DistanceItem{
				Characteristic:   cell.Characteristic,
				MarginalRatio:    cell.MarginalRatio,
				VisualizationURL: cell.DistanceVizURL,
			})
		}
	}

	for _, item := range res.SizeAnalysis {
		if IsDistanceVisualization(item.VisualizationURL) {
			n.DistanceData = append(n.DistanceData, models.DistanceItem{
				VisualizationURL: item.VisualizationURL,
			})
			continue
		}
		n.SizeData = append(n.SizeData, item)
	}

	return n
}

// MatchSize returns the size item linked to a cell through its filename.
func (n Normalized) MatchSize(cell models.Cell) (models.SizeItem, bool) {
	if cell.Filename == "" {
		return models.SizeItem{}, false
	}
	for _, item := range n.SizeData {
		if item.Filename == cell.Filename {
			return item, true
		}
	}
	return models.SizeItem{}, false
}
