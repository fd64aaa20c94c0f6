package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mala-sight/analyzer"
	"mala-sight/config"
	"mala-sight/db"
	"mala-sight/livefeed"
	"mala-sight/models"
	"mala-sight/overlay"
	"mala-sight/relay"
	"mala-sight/session"
	"mala-sight/utils"

	"github.com/mdobak/go-xerrors"
)

const (
	maxUploadBytes  = 32 << 20
	maxFrameBytes   = 8 << 20
	shutdownTimeout = 5 * time.Second
)

type apiError struct {
	Message string `json:"message"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type dimensionsRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type galleryRequest struct {
	Gallery string `json:"gallery"`
}

type cellDetailRequest struct {
	Index  int     `json:"index"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// station wires the HTTP surface to the session and the frame relay.
type station struct {
	controller *session.Controller
	hub        *relay.Hub
	archive    db.Archive
	collection string
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

// withCORS answers preflight requests and rejects other methods than allowed.
func withCORS(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", method+", OPTIONS")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.Method != method {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		next(w, r)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("empty request body")
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// writeSessionError maps session and transport errors to HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoArtifact):
		writeJSONError(w, http.StatusBadRequest, session.UserMessage(err))
	case errors.Is(err, livefeed.ErrNoFrameAvailable):
		writeJSONError(w, http.StatusConflict, session.UserMessage(err))
	case errors.Is(err, session.ErrIllegalTransition), errors.Is(err, session.ErrNoResult):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrUnknownCell):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, analyzer.ErrNetworkFailure):
		writeJSONError(w, http.StatusBadGateway, session.UserMessage(err))
	default:
		writeJSONError(w, http.StatusInternalServerError, session.UserMessage(err))
	}
}

func (s *station) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.View())
}

func (s *station) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.controller.SelectMode(r.Context(), mode); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.View())
}

func (s *station) handleFile(w http.ResponseWriter, r *http.Request) {
	logger := utils.GetLogger()
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		logger.ErrorContext(ctx, "failed to parse multipart form", slog.Any("error", err))
		writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to read uploaded file", slog.Any("error", err))
		writeJSONError(w, http.StatusBadRequest, "unable to read uploaded file")
		return
	}

	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}

	artifact := models.Artifact{Name: header.Filename, MIME: mime, Data: data}
	if err := s.controller.SelectFile(ctx, artifact); err != nil {
		writeSessionError(w, err)
		return
	}
	logger.InfoContext(ctx, "file selected",
		slog.String("file", header.Filename),
		slog.Int("size", len(data)),
	)
	writeJSON(w, http.StatusOK, s.controller.View())
}

func (s *station) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Submit(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.View())
}

func (s *station) handleCapture(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.CaptureAndSubmit(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.View())
}

func (s *station) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Cancel(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.View())
}

func (s *station) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.controller.Restart(r.Context())
	writeJSON(w, http.StatusOK, s.controller.View())
}

func (s *station) handleImageLoaded(w http.ResponseWriter, r *http.Request) {
	var req dimensionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.controller.ImageLoaded(overlay.Dimensions{Width: req.Width, Height: req.Height}); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.View())
}

func (s *station) handleGallery(w http.ResponseWriter, r *http.Request) {
	var req galleryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := session.ParseGalleryKind(req.Gallery)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if kind == session.GalleryNone {
		s.controller.CloseGallery()
	} else if err := s.controller.OpenGallery(kind); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.View())
}

func (s *station) handleCellDetail(w http.ResponseWriter, r *http.Request) {
	var req cellDetailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail, err := s.controller.CellDetail(req.Index, overlay.Dimensions{Width: req.Width, Height: req.Height})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *station) handlePreview(w http.ResponseWriter, r *http.Request) {
	artifact, ok := s.controller.Previews().Get(r.PathValue("handle"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "preview not found")
		return
	}
	w.Header().Set("Content-Type", artifact.MIME)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Data)
}

func (s *station) handlePublish(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	if streamID == "" || strings.Contains(streamID, "/") {
		writeJSONError(w, http.StatusBadRequest, "invalid stream id")
		return
	}

	var frame models.LiveFrame
	if err := json.NewDecoder(io.LimitReader(r.Body, maxFrameBytes)).Decode(&frame); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid frame payload")
		return
	}

	path := livefeed.FeedPath(streamID)
	switch err := s.hub.Publish(path, frame); {
	case errors.Is(err, relay.ErrEmptyFrame):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, relay.ErrThrottled):
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, "failed to publish frame")
	default:
		latest, _ := s.hub.Latest(path)
		writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "ts": latest.TS})
	}
}

func (s *station) handleCaptures(w http.ResponseWriter, r *http.Request) {
	logger := utils.GetLogger()
	ctx := r.Context()

	if s.archive == nil {
		writeJSON(w, http.StatusOK, []models.StoredCapture{})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	captures, err := s.archive.Captures(ctx, s.collection, limit)
	if err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to load captures", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to load captures")
		return
	}
	writeJSON(w, http.StatusOK, captures)
}

// newRouter registers the station API. socketServer may be nil.
func newRouter(s *station, socketServer http.Handler, staticDir string) *http.ServeMux {
	mux := http.NewServeMux()
	if socketServer != nil {
		mux.Handle("/socket.io/", socketServer)
	}
	mux.HandleFunc("/api/session", withCORS(http.MethodGet, s.handleView))
	mux.HandleFunc("/api/session/mode", withCORS(http.MethodPost, s.handleMode))
	mux.HandleFunc("/api/session/file", withCORS(http.MethodPost, s.handleFile))
	mux.HandleFunc("/api/session/submit", withCORS(http.MethodPost, s.handleSubmit))
	mux.HandleFunc("/api/session/capture", withCORS(http.MethodPost, s.handleCapture))
	mux.HandleFunc("/api/session/cancel", withCORS(http.MethodPost, s.handleCancel))
	mux.HandleFunc("/api/session/restart", withCORS(http.MethodPost, s.handleRestart))
	mux.HandleFunc("/api/session/image-loaded", withCORS(http.MethodPost, s.handleImageLoaded))
	mux.HandleFunc("/api/session/gallery", withCORS(http.MethodPost, s.handleGallery))
	mux.HandleFunc("/api/session/cell-detail", withCORS(http.MethodPost, s.handleCellDetail))
	mux.HandleFunc("/api/previews/{handle}", withCORS(http.MethodGet, s.handlePreview))
	mux.HandleFunc("/api/streams/{id}", withCORS(http.MethodPut, s.handlePublish))
	mux.HandleFunc("/api/captures", withCORS(http.MethodGet, s.handleCaptures))
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// serveHTTP blocks until ctx is done or the listener fails.
func serveHTTP(ctx context.Context, cfg config.Config, handler http.Handler) error {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server Shutdown: %v", err)
		}
	}()

	var err error
	if cfg.Protocol == "https" {
		server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		log.Printf("Starting HTTPS server on %s\n", server.Addr)
		err = server.ListenAndServeTLS(cfg.CertFile, cfg.CertKey)
	} else {
		log.Printf("Starting HTTP server on port %v", cfg.Port)
		err = server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
