package server

import (
	"encoding/json"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ayusman/scanview/internal/capture"
	"github.com/ayusman/scanview/internal/session"
	"github.com/ayusman/scanview/internal/store"
	"github.com/gorilla/mux"
)

// Request and response types

type sizeResponse struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type rectResponse struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

type cameraResponse struct {
	State            string        `json:"state"`
	Torch            bool          `json:"torch"`
	TorchSupported   bool          `json:"torch_supported"`
	Zoom             *zoomResponse `json:"zoom,omitempty"`
	CameraResolution *sizeResponse `json:"camera_resolution,omitempty"`
	ScreenResolution sizeResponse  `json:"screen_resolution"`
	FramesDelivered  uint64        `json:"frames_delivered"`
	FramesDropped    uint64        `json:"frames_dropped"`
}

type statusResponse struct {
	Session session.Status `json:"session"`
	Camera  cameraResponse `json:"camera"`
}

type screenRectRequest struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

type manualFramingRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type torchRequest struct {
	On bool `json:"on"`
}

type torchResponse struct {
	On        bool `json:"on"`
	Supported bool `json:"supported"`
}

type zoomRequest struct {
	Level int `json:"level"`
}

type zoomResponse struct {
	Level int `json:"level"`
	Max   int `json:"max"`
}

func toSize(p image.Point) sizeResponse {
	return sizeResponse{Width: p.X, Height: p.Y}
}

func toRect(r image.Rectangle) rectResponse {
	return rectResponse{Left: r.Min.X, Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y}
}

func (s *Server) manager() *capture.Manager {
	return s.config.Session.Manager()
}

func (s *Server) status() statusResponse {
	m := s.manager()
	stats := m.Stats()
	camera := cameraResponse{
		State:            m.State().String(),
		Torch:            m.Torch(),
		TorchSupported:   m.TorchSupported(),
		ScreenResolution: toSize(m.ScreenResolution()),
		FramesDelivered:  stats.FramesDelivered,
		FramesDropped:    stats.FramesDropped,
	}
	if res, ok := m.CameraResolution(); ok {
		size := toSize(res)
		camera.CameraResolution = &size
	}
	if level, maxZoom, ok := m.Zoom(); ok {
		camera.Zoom = &zoomResponse{Level: level, Max: maxZoom}
	}
	return statusResponse{Session: s.config.Session.Status(), Camera: camera}
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleResume handles POST /api/scan/resume and starts scanning.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Session.Resume(); err != nil {
		switch {
		case errors.Is(err, session.ErrClosed):
			writeError(w, http.StatusConflict, "Session closed")
		case errors.Is(err, capture.ErrDriverUnavailable):
			writeError(w, http.StatusServiceUnavailable, "Camera unavailable")
		default:
			slog.Error("server: resume failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to start scanning")
		}
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

// handlePause handles POST /api/scan/pause and releases the camera.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Session.Pause(); err != nil {
		slog.Error("server: pause failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to pause scanning")
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

// handleRescan handles POST /api/scan/rescan.
func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	s.config.Session.Rescan()
	writeJSON(w, http.StatusOK, s.status())
}

// handleFramingRect handles GET /api/framing?width=&height= and returns the
// scan region for a viewfinder canvas of that size.
func (s *Server) handleFramingRect(w http.ResponseWriter, r *http.Request) {
	width, err := strconv.Atoi(r.URL.Query().Get("width"))
	if err != nil || width <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid width")
		return
	}
	height, err := strconv.Atoi(r.URL.Query().Get("height"))
	if err != nil || height <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid height")
		return
	}

	rect, err := s.manager().FramingRect(width, height)
	if err != nil {
		if errors.Is(err, capture.ErrDriverClosed) {
			writeError(w, http.StatusConflict, "Camera closed")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRect(rect.Rectangle))
}

// handleGetScreenRect handles GET /api/framing/screen.
func (s *Server) handleGetScreenRect(w http.ResponseWriter, r *http.Request) {
	rect, ok := s.manager().FramingRectOnScreen()
	if !ok {
		writeError(w, http.StatusNotFound, "Scan region not placed")
		return
	}
	writeJSON(w, http.StatusOK, toRect(rect.Rectangle))
}

// handleSetScreenRect handles POST /api/framing/screen. The rectangle in
// force is returned, which is the first one placed in this camera session.
func (s *Server) handleSetScreenRect(w http.ResponseWriter, r *http.Request) {
	var req screenRectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Right <= req.Left || req.Bottom <= req.Top {
		writeError(w, http.StatusBadRequest, "Empty rectangle")
		return
	}
	if res, ok := s.manager().CameraResolution(); ok {
		area := image.Rect(req.Left, req.Top, req.Right, req.Bottom)
		if !area.In(image.Rectangle{Max: res}) {
			writeError(w, http.StatusBadRequest, "Rectangle lies outside the camera frame")
			return
		}
	}

	rect := s.manager().SetFramingRectOnScreen(req.Left, req.Top, req.Right, req.Bottom)
	writeJSON(w, http.StatusOK, toRect(rect.Rectangle))
}

// handleManualFraming handles POST /api/framing/manual.
func (s *Server) handleManualFraming(w http.ResponseWriter, r *http.Request) {
	var req manualFramingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		writeError(w, http.StatusBadRequest, "Width and height must be positive")
		return
	}

	s.manager().SetManualFramingRect(req.Width, req.Height)

	if s.config.Store != nil {
		settings := s.config.Store.Settings()
		if err := settings.SetInt(store.KeyManualWidth, req.Width); err != nil {
			slog.Warn("server: could not save manual framing", "error", err)
		} else if err := settings.SetInt(store.KeyManualHeight, req.Height); err != nil {
			slog.Warn("server: could not save manual framing", "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetTorch handles GET /api/torch.
func (s *Server) handleGetTorch(w http.ResponseWriter, r *http.Request) {
	m := s.manager()
	writeJSON(w, http.StatusOK, torchResponse{On: m.Torch(), Supported: m.TorchSupported()})
}

// handleSetTorch handles PUT /api/torch.
func (s *Server) handleSetTorch(w http.ResponseWriter, r *http.Request) {
	var req torchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	m := s.manager()
	if !m.IsOpen() {
		writeError(w, http.StatusConflict, "Camera closed")
		return
	}
	if !m.TorchSupported() {
		writeError(w, http.StatusConflict, "Torch not supported")
		return
	}
	if err := m.SetTorch(req.On); err != nil {
		slog.Warn("server: torch change rejected", "on", req.On, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to switch torch")
		return
	}
	writeJSON(w, http.StatusOK, torchResponse{On: m.Torch(), Supported: true})
}

// handleGetZoom handles GET /api/zoom.
func (s *Server) handleGetZoom(w http.ResponseWriter, r *http.Request) {
	s.writeZoom(w)
}

// handleSetZoom handles PUT /api/zoom. Out of range levels are clamped.
func (s *Server) handleSetZoom(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	s.changeZoom(w, func(m *capture.Manager) error { return m.SetZoom(req.Level) })
}

// handleZoomStep handles POST /api/zoom/in and /api/zoom/out.
func (s *Server) handleZoomStep(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["direction"] == "in" {
		s.changeZoom(w, (*capture.Manager).ZoomIn)
		return
	}
	s.changeZoom(w, (*capture.Manager).ZoomOut)
}

func (s *Server) changeZoom(w http.ResponseWriter, change func(*capture.Manager) error) {
	m := s.manager()
	if _, _, ok := m.Zoom(); !ok {
		writeError(w, http.StatusConflict, "Zoom unavailable")
		return
	}
	if err := change(m); err != nil {
		slog.Warn("server: zoom change rejected", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to change zoom")
		return
	}

	if level, _, ok := m.Zoom(); ok && s.config.Store != nil {
		if err := s.config.Store.Settings().SetInt(store.KeyZoom, level); err != nil {
			slog.Warn("server: could not save zoom level", "error", err)
		}
	}
	s.writeZoom(w)
}

func (s *Server) writeZoom(w http.ResponseWriter) {
	level, maxZoom, ok := s.manager().Zoom()
	if !ok {
		writeError(w, http.StatusConflict, "Zoom unavailable")
		return
	}
	writeJSON(w, http.StatusOK, zoomResponse{Level: level, Max: maxZoom})
}
