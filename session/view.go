package session

import (
	"mala-sight/analyzer"
	"mala-sight/diagnosis"
	"mala-sight/overlay"
)

// View is the render model of the session. It is rebuilt from the state on
// every call and never cached.
type View struct {
	Mode       Mode        `json:"mode"`
	Loading    bool        `json:"loading"`
	Error      string      `json:"error,omitempty"`
	FileName   string      `json:"fileName,omitempty"`
	PreviewURL string      `json:"previewUrl,omitempty"`
	Live       *LiveView   `json:"live,omitempty"`
	Result     *ResultView `json:"result,omitempty"`
}

// LiveView is the camera panel.
type LiveView struct {
	Active     bool   `json:"active"`
	Frame      string `json:"frame,omitempty"`
	LastUpdate string `json:"lastUpdate,omitempty"`
}

// ResultView is everything derived from a committed result.
type ResultView struct {
	Diagnosis     string                   `json:"diagnosis"`
	TotalCells    int                      `json:"totalCells"`
	AmoeboidCount int                      `json:"amoeboidCount"`
	Message       string                   `json:"message,omitempty"`
	DisplayImage  string                   `json:"displayImage,omitempty"`
	ImageSize     *overlay.Dimensions      `json:"imageSize,omitempty"`
	Overlays      []overlay.CellOverlay    `json:"overlays"`
	Flags         diagnosis.Flags          `json:"flags"`
	Species       diagnosis.SpeciesPresent `json:"species"`
	ColorClass    string                   `json:"colorClass"`
	GuideRoutes   []string                 `json:"guideRoutes"`
	Cells         diagnosis.Normalized     `json:"cells"`
	Gallery       diagnosis.Gallery        `json:"gallery"`
	ActiveGallery GalleryKind              `json:"activeGallery,omitempty"`
	AssetOrigin   string                   `json:"assetOrigin"`
}

// View builds the current render model.
func (c *Controller) View() View {
	c.mu.Lock()
	state, gallery, dims := c.state, c.gallery, c.dims
	c.mu.Unlock()

	v := View{Mode: state.Mode()}
	switch st := state.(type) {
	case Uploading:
		v.Error = st.Err
		v.PreviewURL = c.previewURL(st.Preview)
		if st.Artifact != nil {
			v.FileName = st.Artifact.Name
		}
	case LiveCapturing:
		v.Error = st.Err
		v.Live = c.liveView()
	case Pending:
		v.Loading = true
		v.FileName = st.Artifact.Name
		v.PreviewURL = c.previewURL(st.Preview)
		if st.From == ModeLiveCapturing {
			v.Live = c.liveView()
		}
	case Submitted:
		v.PreviewURL = c.previewURL(st.Preview)
		v.Result = c.resultView(st, gallery, dims)
	}
	return v
}

func (c *Controller) liveView() *LiveView {
	lv := &LiveView{Active: c.feed.Active(), LastUpdate: c.feed.LastUpdate()}
	if frame, ok := c.feed.Latest(); ok {
		lv.Frame = frame.Frame
	}
	return lv
}

func (c *Controller) resultView(st Submitted, gallery GalleryKind, dims overlay.Dimensions) *ResultView {
	res := st.Result
	n := diagnosis.Normalize(res)
	species := diagnosis.DetectSpecies(res.OverallDiagnosis)

	rv := &ResultView{
		Diagnosis:     res.OverallDiagnosis,
		TotalCells:    res.TotalCellsSegmented,
		AmoeboidCount: res.AmoeboidCount,
		Message:       res.Message,
		DisplayImage:  analyzer.ResolveAsset(c.assetOrigin, res.OriginalImageURL),
		Overlays:      overlay.MapCells(n.AbnormalCells, dims),
		Flags:         diagnosis.DeriveFlags(res, n),
		Species:       species,
		ColorClass:    species.ColorClass(),
		GuideRoutes:   species.GuideRoutes(),
		Cells:         n,
		Gallery:       diagnosis.Aggregate(res, n),
		ActiveGallery: gallery,
		AssetOrigin:   c.assetOrigin,
	}
	if rv.DisplayImage == "" {
		rv.DisplayImage = c.previewURL(st.Preview)
	}
	if dims.Known() {
		rv.ImageSize = &dims
	}
	return rv
}

func (c *Controller) previewURL(handle string) string {
	if handle == "" {
		return ""
	}
	return c.previewPrefix + handle
}
