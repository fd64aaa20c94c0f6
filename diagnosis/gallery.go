package diagnosis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"mala-sight/models"
)

const (
	// EnlargedRatioThreshold marks a size ratio as enlarged for display.
	EnlargedRatioThreshold = 1.2
	// morphBarScale is the ratio that fills the morphometry bar.
	morphBarScale = 2.5
	// miniGallerySize is the number of thumbnails shown on a gallery card.
	miniGallerySize = 4
)

// Buckets groups abnormal cells for the gallery cards.
type Buckets struct {
	Chromatin []models.Cell `json:"chromatin"`
	Schuffner []models.Cell `json:"schuffner"`
	Basket    []models.Cell `json:"basket"` // band and basket forms
}

// Stats are the aggregate figures shown next to the checklist.
type Stats struct {
	TotalCells      int     `json:"totalCells"`
	AbnormalCount   int     `json:"abnormalCount"`
	AverageRatio    float64 `json:"averageRatio"`
	AnyEnlarged     bool    `json:"anyEnlarged"`
	RatioElevated   bool    `json:"ratioElevated"`
	MorphBarPercent float64 `json:"morphBarPercent"`
}

// AverageRatioText renders the average ratio the way it is displayed, e.g. "1.20".
func (s Stats) AverageRatioText() string {
	return fmt.Sprintf("%.2f", s.AverageRatio)
}

// Gallery is the aggregated gallery state of one result.
type Gallery struct {
	Buckets          Buckets  `json:"buckets"`
	Stats            Stats    `json:"stats"`
	SizePreviews     []string `json:"sizePreviews"`
	DistancePreviews []string `json:"distancePreviews"`
}

// Aggregate partitions cells into buckets and computes the aggregate statistics.
func Aggregate(res *models.AnalysisResult, n Normalized) Gallery {
	g := Gallery{
		Buckets: Buckets{
			Chromatin: []models.Cell{},
			Schuffner: []models.Cell{},
			Basket:    []models.Cell{},
		},
		SizePreviews:     []string{},
		DistancePreviews: []string{},
	}

	for _, cell := range n.AllCells {
		switch cell.Characteristic {
		case models.CharacteristicChromatin:
			g.Buckets.Chromatin = append(g.Buckets.Chromatin, cell)
		case models.CharacteristicSchuffner:
			g.Buckets.Schuffner = append(g.Buckets.Schuffner, cell)
		case models.CharacteristicBandForm, models.CharacteristicBasketForm:
			g.Buckets.Basket = append(g.Buckets.Basket, cell)
		}
	}

	if res != nil {
		g.Stats.TotalCells = res.TotalCellsSegmented
	}
	g.Stats.AbnormalCount = len(n.AbnormalCells)
	g.Stats.AverageRatio = AverageRatio(n.SizeData)
	g.Stats.AnyEnlarged = AnyEnlarged(n.SizeData)
	g.Stats.RatioElevated = g.Stats.AverageRatio > EnlargedRatioThreshold
	g.Stats.MorphBarPercent = math.Min(g.Stats.AverageRatio/morphBarScale*100, 100)

	for _, item := range n.SizeData {
		if len(g.SizePreviews) == miniGallerySize {
			break
		}
		g.SizePreviews = append(g.SizePreviews, item.VisualizationURL)
	}
	for _, item := range n.DistanceData {
		if len(g.DistancePreviews) == miniGallerySize {
			break
		}
		g.DistancePreviews = append(g.DistancePreviews, item.VisualizationURL)
	}

	return g
}

// AverageRatio is the mean size ratio rounded to two decimals, or 1.00 with no data.
func AverageRatio(items []models.SizeItem) float64 {
	if len(items) == 0 {
		return 1.0
	}
	ratios := make([]float64, len(items))
	for i, item := range items {
		ratios[i] = item.Ratio
	}
	return math.Round(stat.Mean(ratios, nil)*100) / 100
}

// AnyEnlarged reports whether any size item carries the Enlarged status.
func AnyEnlarged(items []models.SizeItem) bool {
	for _, item := range items {
		if item.Status == models.StatusEnlarged {
			return true
		}
	}
	return false
}
