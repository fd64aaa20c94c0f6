package models

// Characteristic labels emitted by the analysis service. The tokens are matched
// exactly, including the service's own spelling of the normal class.
const (
	CharacteristicNormal     = "nomal_cell"
	CharacteristicChromatin  = "1chromatin"
	CharacteristicSchuffner  = "schuffner dot"
	CharacteristicBandForm   = "band form"
	CharacteristicBasketForm = "basket form"
)

// Enlargement status and shape values carried by size items.
const (
	StatusEnlarged = "Enlarged"
	StatusNormal   = "Normal"
	ShapeAmoeboid  = "Amoeboid"
	ShapeRound     = "Round"
)

// BBox is a cell bounding box in source-image pixel space.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ChromatinBox is a chromatin sub-box given as corner pairs [x1, y1, x2, y2].
type ChromatinBox [4]float64

// Cell is one per-cell classification record (vit_characteristics entry).
type Cell struct {
	Characteristic string         `json:"characteristic"`
	BBox           *BBox          `json:"bbox,omitempty"`
	ChromatinBoxes []ChromatinBox `json:"chromatin_bboxes,omitempty"`
	ChromatinCount int            `json:"chromatin_count,omitempty"`
	MarginalRatio  float64        `json:"marginal_ratio,omitempty"`
	Filename       string         `json:"cell,omitempty"` // correlates to SizeItem.Filename
	DistanceVizURL string         `json:"distance_viz_url,omitempty"`
	URL            string         `json:"url,omitempty"`
}

// SizeItem is one morphometry record (size_analysis entry).
type SizeItem struct {
	Filename         string  `json:"filename"`
	SizePx           float64 `json:"size_px"`
	Ratio            float64 `json:"ratio"`
	Status           string  `json:"status"`
	Shape            string  `json:"shape,omitempty"`
	VisualizationURL string  `json:"visualization_url"`
	Folder           string  `json:"folder,omitempty"`
}

// DistanceItem is a distance-visualization entry derived from cells or size items.
type DistanceItem struct {
	Characteristic   string  `json:"characteristic"`
	MarginalRatio    float64 `json:"marginal_ratio"`
	VisualizationURL string  `json:"visualization_url"`
}

// AnalysisResult is the analysis service response. A received result is never
// mutated; a new submission replaces it wholesale.
type AnalysisResult struct {
	OverallDiagnosis    string     `json:"overall_diagnosis"`
	TotalCellsSegmented int        `json:"total_cells_segmented"`
	AmoeboidCount       int        `json:"amoeboid_count"`
	OriginalImageURL    string     `json:"original_image_url"`
	Cells               []Cell     `json:"vit_characteristics"`
	SizeAnalysis        []SizeItem `json:"size_analysis"`
	Message             string     `json:"message,omitempty"`
}

// LiveFrame is the value published at streams/{streamId}.
type LiveFrame struct {
	Frame string `json:"frame"` // base64 payload, usually a data URL
	TS    int64  `json:"ts"`    // epoch millis assigned by the publisher
}

// CaptureRecord is written to the capture archive for every captured frame.
type CaptureRecord struct {
	Image     string `json:"image" bson:"image"`
	Timestamp int64  `json:"timestamp" bson:"timestamp"`
	Date      string `json:"date" bson:"date"`
	Note      string `json:"note" bson:"note"`
}

// StoredCapture is a capture record together with its archive key.
type StoredCapture struct {
	Key        string        `json:"key" bson:"_id"`
	Collection string        `json:"collection" bson:"collection"`
	Record     CaptureRecord `json:"record" bson:"record"`
}

// Artifact is a submittable image file: an upload or a decoded live capture.
type Artifact struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Data []byte `json:"-"`
}

// Clone returns a copy that does not share the data buffer.
func (a Artifact) Clone() Artifact {
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	a.Data = data
	return a
}
