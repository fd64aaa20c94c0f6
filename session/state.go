package session

import (
	"fmt"

	"mala-sight/models"
)

// Mode is the input mode shown to the user.
type Mode string

const (
	ModeSelecting     Mode = "selecting"
	ModeUploading     Mode = "uploading"
	ModeLiveCapturing Mode = "live-capturing"
	ModeSubmitted     Mode = "submitted"
)

// ParseMode accepts the wire names of the two selectable input modes.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "upload", string(ModeUploading):
		return ModeUploading, nil
	case "camera", string(ModeLiveCapturing):
		return ModeLiveCapturing, nil
	default:
		return "", fmt.Errorf("unknown input mode %q", s)
	}
}

// State is the session state. Exactly one variant is current; the variants
// carry only the fields that are meaningful in them.
type State interface {
	Mode() Mode
	isState()
}

// Selecting is the initial state: the user picks upload or camera.
type Selecting struct{}

// Uploading holds the selected file and its preview handle, if any.
type Uploading struct {
	Artifact *models.Artifact
	Preview  string
	Err      string
}

// LiveCapturing shows the live feed. The frame buffer lives in the ingestor.
type LiveCapturing struct {
	Err string
}

// Pending is an analysis request in flight. The mode stays that of the origin
// state until the response arrives.
type Pending struct {
	From     Mode
	Artifact models.Artifact
	Preview  string
	Token    uint64
}

// Submitted holds a committed analysis result.
type Submitted struct {
	Result  *models.AnalysisResult
	Preview string
}

func (Selecting) Mode() Mode     { return ModeSelecting }
func (Uploading) Mode() Mode     { return ModeUploading }
func (LiveCapturing) Mode() Mode { return ModeLiveCapturing }
func (p Pending) Mode() Mode     { return p.From }
func (Submitted) Mode() Mode     { return ModeSubmitted }

func (Selecting) isState()     {}
func (Uploading) isState()     {}
func (LiveCapturing) isState() {}
func (Pending) isState()       {}
func (Submitted) isState()     {}

// Event drives a state transition.
type Event interface{ isEvent() }

type (
	// ChooseMode leaves Selecting for Uploading or LiveCapturing.
	ChooseMode struct{ Mode Mode }
	// SelectFile replaces the file held in Uploading.
	SelectFile struct {
		Artifact models.Artifact
		Preview  string
	}
	// Cancel returns from an input mode to Selecting.
	Cancel struct{}
	// Submit starts an analysis. Uploading submits its own file; LiveCapturing
	// submits the captured Artifact carried by the event.
	Submit struct {
		Artifact *models.Artifact
		Preview  string
		Token    uint64
	}
	// Succeed commits the response of request Token.
	Succeed struct {
		Result *models.AnalysisResult
		Token  uint64
	}
	// Fail reports the failure of request Token.
	Fail struct {
		Message string
		Token   uint64
	}
	// Report shows an error in the current input mode.
	Report struct{ Message string }
	// Restart clears everything and returns to Selecting.
	Restart struct{}
)

func (ChooseMode) isEvent() {}
func (SelectFile) isEvent() {}
func (Cancel) isEvent()     {}
func (Submit) isEvent()     {}
func (Succeed) isEvent()    {}
func (Fail) isEvent()       {}
func (Report) isEvent()     {}
func (Restart) isEvent()    {}

// Transition applies ev to s. It has no side effects; on error the returned
// state is s.
func Transition(s State, ev Event) (State, error) {
	if _, ok := ev.(Restart); ok {
		return Selecting{}, nil
	}

	switch st := s.(type) {
	case Selecting:
		if e, ok := ev.(ChooseMode); ok {
			switch e.Mode {
			case ModeUploading:
				return Uploading{}, nil
			case ModeLiveCapturing:
				return LiveCapturing{}, nil
			}
		}

	case Uploading:
		switch e := ev.(type) {
		case SelectFile:
			artifact := e.Artifact
			return Uploading{Artifact: &artifact, Preview: e.Preview}, nil
		case Cancel:
			return Selecting{}, nil
		case Report:
			st.Err = e.Message
			return st, nil
		case Submit:
			if st.Artifact == nil {
				return s, ErrNoArtifact
			}
			return Pending{From: ModeUploading, Artifact: st.Artifact.Clone(), Preview: st.Preview, Token: e.Token}, nil
		}

	case LiveCapturing:
		switch e := ev.(type) {
		case Cancel:
			return Selecting{}, nil
		case Report:
			return LiveCapturing{Err: e.Message}, nil
		case Submit:
			if e.Artifact == nil {
				return s, ErrNoArtifact
			}
			return Pending{From: ModeLiveCapturing, Artifact: e.Artifact.Clone(), Preview: e.Preview, Token: e.Token}, nil
		}

	case Pending:
		switch e := ev.(type) {
		case Submit:
			return s, ErrBusy
		case Succeed:
			if e.Token != st.Token {
				return s, ErrStaleResponse
			}
			return Submitted{Result: e.Result, Preview: st.Preview}, nil
		case Fail:
			if e.Token != st.Token {
				return s, ErrStaleResponse
			}
			if st.From == ModeLiveCapturing {
				return LiveCapturing{Err: e.Message}, nil
			}
			artifact := st.Artifact
			return Uploading{Artifact: &artifact, Preview: st.Preview, Err: e.Message}, nil
		}

	case Submitted:
	}

	switch ev.(type) {
	case Succeed, Fail:
		return s, ErrStaleResponse
	}
	return s, fmt.Errorf("%w: %T in %s", ErrIllegalTransition, ev, s.Mode())
}

// previewOf returns the preview handle held by s, if any.
func previewOf(s State) string {
	switch st := s.(type) {
	case Uploading:
		return st.Preview
	case Pending:
		return st.Preview
	case Submitted:
		return st.Preview
	}
	return ""
}
