package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mala-sight/analyzer"
	"mala-sight/db"
	"mala-sight/livefeed"
	"mala-sight/models"
	"mala-sight/relay"
	"mala-sight/session"
)

const analysisResponse = `{
	"overall_diagnosis": "P. falciparum detected",
	"total_cells_segmented": 40,
	"original_image_url": "static/results/original.png",
	"vit_characteristics": [
		{"characteristic": "1chromatin", "bbox": {"x": 10, "y": 20, "w": 30, "h": 40}, "chromatin_count": 2, "marginal_ratio": 0.8, "url": "static/cells/c0.png"},
		{"characteristic": "nomal_cell", "bbox": {"x": 0, "y": 0, "w": 5, "h": 5}}
	],
	"size_analysis": []
}`

type testStation struct {
	station  *station
	router   http.Handler
	ingestor *livefeed.Ingestor
	backend  *httptest.Server
	uploads  chan string
}

func newTestStation(t *testing.T) *testStation {
	t.Helper()

	ts := &testStation{uploads: make(chan string, 4)}
	ts.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		file.Close()
		ts.uploads <- header.Filename
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, analysisResponse)
	}))
	t.Cleanup(ts.backend.Close)

	archive := db.NewFileArchive(filepath.Join(t.TempDir(), "captures.json"))
	hub := relay.NewHub(archive)
	ts.ingestor = livefeed.NewIngestor(hub, livefeed.DefaultStreamID)
	client := analyzer.NewClient(ts.backend.URL, 5*time.Second)
	controller := session.NewController(client, ts.ingestor, session.NewPreviewRegistry(0),
		session.WithAssetOrigin(client.Origin()),
	)
	t.Cleanup(controller.Close)

	ts.station = &station{
		controller: controller,
		hub:        hub,
		archive:    archive,
		collection: livefeed.DefaultCaptureCollection,
	}
	ts.router = newRouter(ts.station, nil, "")
	return ts
}

func (ts *testStation) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testStation) postJSON(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, path, strings.NewReader(body), "application/json")
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) session.View {
	t.Helper()
	var v session.View
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	return v
}

func multipartFile(t *testing.T, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestUploadFlow(t *testing.T) {
	t.Parallel()
	ts := newTestStation(t)

	if rec := ts.postJSON(t, "/api/session/submit", ""); rec.Code != http.StatusConflict {
		t.Fatalf("submit from selecting: expected 409, got %d", rec.Code)
	}

	rec := ts.postJSON(t, "/api/session/mode", `{"mode":"upload"}`)
	if rec.Code != http.StatusOK || decodeView(t, rec).Mode != session.ModeUploading {
		t.Fatalf("mode: unexpected response %d %s", rec.Code, rec.Body)
	}

	if rec := ts.postJSON(t, "/api/session/submit", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("submit without file: expected 400, got %d", rec.Code)
	}

	png := []byte("\x89PNG\r\n\x1a\nfake")
	body, contentType := multipartFile(t, "smear.png", png)
	rec = ts.do(t, http.MethodPost, "/api/session/file", body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("file: unexpected response %d %s", rec.Code, rec.Body)
	}
	view := decodeView(t, rec)
	if view.FileName != "smear.png" || view.Error != "" || !strings.HasPrefix(view.PreviewURL, session.DefaultPreviewPrefix) {
		t.Fatalf("file: unexpected view %+v", view)
	}

	preview := ts.do(t, http.MethodGet, view.PreviewURL, nil, "")
	if preview.Code != http.StatusOK || !bytes.Equal(preview.Body.Bytes(), png) || preview.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("preview: unexpected response %d %q %q", preview.Code, preview.Header().Get("Content-Type"), preview.Body.Bytes())
	}

	rec = ts.postJSON(t, "/api/session/submit", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: unexpected response %d %s", rec.Code, rec.Body)
	}
	if got := <-ts.uploads; got != "smear.png" {
		t.Fatalf("backend received %q", got)
	}
	view = decodeView(t, rec)
	if view.Mode != session.ModeSubmitted || view.Result == nil {
		t.Fatalf("submit: unexpected view %+v", view)
	}
	if view.Result.DisplayImage != ts.backend.URL+"/static/results/original.png" {
		t.Fatalf("unexpected display image %q", view.Result.DisplayImage)
	}
	if !view.Result.Flags.Chromatin || !view.Result.Flags.Applique || view.Result.ColorClass != "falciparum" {
		t.Fatalf("unexpected checklist %+v", view.Result)
	}

	rec = ts.postJSON(t, "/api/session/image-loaded", `{"width":100,"height":200}`)
	view = decodeView(t, rec)
	if len(view.Result.Overlays) != 1 || view.Result.Overlays[0].Rect.Left != 10 || view.Result.Overlays[0].Rect.Top != 10 {
		t.Fatalf("unexpected overlays %+v", view.Result.Overlays)
	}

	rec = ts.postJSON(t, "/api/session/gallery", `{"gallery":"chromatin"}`)
	if v := decodeView(t, rec); v.Result.ActiveGallery != session.GalleryChromatin {
		t.Fatalf("unexpected gallery %q", v.Result.ActiveGallery)
	}
	if rec := ts.postJSON(t, "/api/session/gallery", `{"gallery":"histogram"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown gallery: expected 400, got %d", rec.Code)
	}

	rec = ts.postJSON(t, "/api/session/cell-detail", `{"index":0}`)
	var detail session.CellView
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatalf("failed to decode cell detail: %v", err)
	}
	if detail.Status != "Multiple Infection" || detail.Position != "Edge (Appliqué)" || detail.ImageURL != ts.backend.URL+"/static/cells/c0.png" {
		t.Fatalf("unexpected cell detail %+v", detail)
	}
	if rec := ts.postJSON(t, "/api/session/cell-detail", `{"index":5}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown cell: expected 404, got %d", rec.Code)
	}

	rec = ts.postJSON(t, "/api/session/restart", "")
	if v := decodeView(t, rec); v.Mode != session.ModeSelecting || v.Result != nil {
		t.Fatalf("restart: unexpected view %+v", v)
	}
	if rec := ts.do(t, http.MethodGet, view.PreviewURL, nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("preview after restart: expected 404, got %d", rec.Code)
	}
}

func TestCameraFlowArchivesCapture(t *testing.T) {
	t.Parallel()
	ts := newTestStation(t)

	rec := ts.postJSON(t, "/api/session/mode", `{"mode":"camera"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mode: unexpected response %d %s", rec.Code, rec.Body)
	}
	if rec := ts.postJSON(t, "/api/session/capture", ""); rec.Code != http.StatusConflict {
		t.Fatalf("capture without frame: expected 409, got %d", rec.Code)
	}

	frame := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	rec = ts.do(t, http.MethodPut, "/api/streams/stream1", strings.NewReader(`{"frame":"`+frame+`","ts":1700000000000}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: unexpected response %d %s", rec.Code, rec.Body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := ts.ingestor.Latest(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never reached the ingestor")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = ts.postJSON(t, "/api/session/capture", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("capture: unexpected response %d %s", rec.Code, rec.Body)
	}
	if got := <-ts.uploads; got != livefeed.CaptureFilename {
		t.Fatalf("backend received %q", got)
	}
	if v := decodeView(t, rec); v.Mode != session.ModeSubmitted || v.Live != nil {
		t.Fatalf("capture: unexpected view %+v", v)
	}
	if ts.ingestor.Active() {
		t.Fatal("feed still subscribed after a result")
	}

	ts.ingestor.WaitArchives()
	rec = ts.do(t, http.MethodGet, "/api/captures", nil, "")
	var captures []models.StoredCapture
	if err := json.NewDecoder(rec.Body).Decode(&captures); err != nil {
		t.Fatalf("failed to decode captures: %v", err)
	}
	if len(captures) != 1 || captures[0].Record.Image != frame || captures[0].Record.Note != livefeed.CaptureNote {
		t.Fatalf("unexpected captures %+v", captures)
	}
}

func TestPublishRejectsEmptyFrame(t *testing.T) {
	t.Parallel()
	ts := newTestStation(t)

	rec := ts.do(t, http.MethodPut, "/api/streams/stream1", strings.NewReader(`{"ts":1}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPut, "/api/streams/stream1", strings.NewReader(`not json`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCORSAndMethods(t *testing.T) {
	t.Parallel()
	ts := newTestStation(t)

	rec := ts.do(t, http.MethodOptions, "/api/session/submit", nil, "")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: unexpected response %d %v", rec.Code, rec.Header())
	}
	if rec := ts.do(t, http.MethodGet, "/api/session/submit", nil, ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/previews/unknown", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPrintChecklist(t *testing.T) {
	t.Parallel()

	res := &models.AnalysisResult{
		OverallDiagnosis: "P. malariae",
		Cells:            []models.Cell{{Characteristic: models.CharacteristicBandForm}},
	}
	var out bytes.Buffer
	printChecklist(&out, "http://backend", res)

	text := out.String()
	for _, want := range []string{"Diagnosis:       P. malariae", "[x] smaller [x] band form [ ] basket form", "Treatment guide: /medication-guide/malariae"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}
