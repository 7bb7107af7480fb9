package server

import (
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/scanview/internal/capture"
	"github.com/ayusman/scanview/internal/decode"
	"github.com/ayusman/scanview/internal/decode/decodetest"
	"github.com/ayusman/scanview/internal/session"
	"github.com/ayusman/scanview/internal/store"
)

var previewSize = image.Pt(640, 480)

type testRig struct {
	srv     *Server
	drv     *capture.FakeDriver
	opener  *capture.FakeOpener
	decoder *decode.MockDecoder
	session *session.Session
	store   *store.Store
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	drv := capture.NewFakeDriver()
	opener := &capture.FakeOpener{Driver: drv}
	decoder := decode.NewMockDecoder()
	surface := NewStreamSurface(previewSize)

	sess, err := session.New(session.Config{
		Manager:        capture.NewManager(opener, capture.Options{}),
		Surface:        surface,
		Overlay:        session.CanvasOverlay(previewSize),
		Decoder:        decoder,
		Continuous:     true,
		ResumeDelay:    5 * time.Millisecond,
		RequestTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}

	srv := New(Config{Store: st, Session: sess, Stream: surface})
	t.Cleanup(func() {
		srv.Close()
		sess.Close()
		st.Close()
	})

	return &testRig{
		srv:     srv,
		drv:     drv,
		opener:  opener,
		decoder: decoder,
		session: sess,
		store:   st,
	}
}

func (r *testRig) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.srv.ServeHTTP(rec, req)
	return rec
}

func (r *testRig) resume(t *testing.T) {
	t.Helper()
	if rec := r.do(t, http.MethodPost, "/api/scan/resume", ""); rec.Code != http.StatusOK {
		t.Fatalf("POST /api/scan/resume status = %d, body %s", rec.Code, rec.Body.String())
	}
}

// pump feeds blank frames to the driver until the test ends.
func (r *testRig) pump(t *testing.T) {
	t.Helper()
	frame := decodetest.Blank(previewSize)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				r.drv.EmitFrame(frame)
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		wg.Wait()
	})
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestControl_ResumeAndPause(t *testing.T) {
	r := newTestRig(t)

	status := decodeBody[statusResponse](t, r.do(t, http.MethodGet, "/api/status", ""))
	if status.Session.State != session.StatePaused || status.Camera.State != "closed" {
		t.Fatalf("initial status = %+v", status)
	}

	rec := r.do(t, http.MethodPost, "/api/scan/resume", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d, body %s", rec.Code, rec.Body.String())
	}
	status = decodeBody[statusResponse](t, rec)
	if status.Session.State != session.StateScanning {
		t.Errorf("session state = %s, want scanning", status.Session.State)
	}
	if status.Camera.State != "previewing" {
		t.Errorf("camera state = %s, want previewing", status.Camera.State)
	}
	if status.Camera.CameraResolution == nil || *status.Camera.CameraResolution != toSize(previewSize) {
		t.Errorf("camera resolution = %v, want %v", status.Camera.CameraResolution, previewSize)
	}
	if status.Camera.Zoom == nil || status.Camera.Zoom.Max != 30 {
		t.Errorf("zoom = %+v, want max 30", status.Camera.Zoom)
	}

	rec = r.do(t, http.MethodPost, "/api/scan/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	status = decodeBody[statusResponse](t, rec)
	if status.Session.State != session.StatePaused || status.Camera.State != "closed" {
		t.Errorf("status after pause = %+v", status)
	}
	if !r.drv.IsReleased() {
		t.Error("camera not released after pause")
	}
}

func TestControl_ResumeErrors(t *testing.T) {
	t.Run("camera unavailable", func(t *testing.T) {
		r := newTestRig(t)
		r.opener.Err = errors.New("device busy")

		rec := r.do(t, http.MethodPost, "/api/scan/resume", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("session closed", func(t *testing.T) {
		r := newTestRig(t)
		r.session.Close()

		rec := r.do(t, http.MethodPost, "/api/scan/resume", "")
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
		}
	})
}

func TestControl_FramingRect(t *testing.T) {
	r := newTestRig(t)

	tests := []struct {
		name   string
		query  string
		resume bool
		want   int
	}{
		{name: "camera closed", query: "?width=640&height=480", want: http.StatusConflict},
		{name: "missing width", query: "?height=480", want: http.StatusBadRequest},
		{name: "bad height", query: "?width=640&height=tall", want: http.StatusBadRequest},
		{name: "zero width", query: "?width=0&height=480", want: http.StatusBadRequest},
		{name: "open", query: "?width=640&height=480", resume: true, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.resume {
				r.resume(t)
			}
			rec := r.do(t, http.MethodGet, "/api/framing"+tt.query, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			got := decodeBody[rectResponse](t, rec)
			want := rectResponse{Left: 200, Top: 120, Right: 440, Bottom: 360}
			if got != want {
				t.Errorf("rect = %+v, want %+v", got, want)
			}
		})
	}
}

func TestControl_ScreenRect(t *testing.T) {
	r := newTestRig(t)

	if rec := r.do(t, http.MethodGet, "/api/framing/screen", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET before placing status = %d, want 404", rec.Code)
	}

	rec := r.do(t, http.MethodPost, "/api/framing/screen", `{"left":10,"top":20,"right":110,"bottom":120}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d", rec.Code)
	}
	first := rectResponse{Left: 10, Top: 20, Right: 110, Bottom: 120}
	if got := decodeBody[rectResponse](t, rec); got != first {
		t.Errorf("rect = %+v, want %+v", got, first)
	}

	// Set once per camera session
	rec = r.do(t, http.MethodPost, "/api/framing/screen", `{"left":0,"top":0,"right":50,"bottom":50}`)
	if got := decodeBody[rectResponse](t, rec); got != first {
		t.Errorf("second POST rect = %+v, want %+v", got, first)
	}

	rec = r.do(t, http.MethodGet, "/api/framing/screen", "")
	if got := decodeBody[rectResponse](t, rec); got != first {
		t.Errorf("GET rect = %+v, want %+v", got, first)
	}

	bad := []string{`{"left":10,"top":10,"right":10,"bottom":20}`, `not json`}
	for _, body := range bad {
		if rec := r.do(t, http.MethodPost, "/api/framing/screen", body); rec.Code != http.StatusBadRequest {
			t.Errorf("POST %s status = %d, want 400", body, rec.Code)
		}
	}
}

func TestControl_ScreenRectOutsideFrame(t *testing.T) {
	r := newTestRig(t)
	r.resume(t)

	rec := r.do(t, http.MethodPost, "/api/framing/screen", `{"left":0,"top":0,"right":5000,"bottom":5000}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST oversized rect status = %d, want 400", rec.Code)
	}
}

func TestControl_ManualFraming(t *testing.T) {
	r := newTestRig(t)
	r.resume(t)

	rec := r.do(t, http.MethodPost, "/api/framing/manual", `{"width":300,"height":200}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = r.do(t, http.MethodGet, "/api/framing?width=640&height=480", "")
	want := rectResponse{Left: 170, Top: 140, Right: 470, Bottom: 340}
	if got := decodeBody[rectResponse](t, rec); got != want {
		t.Errorf("framing rect = %+v, want %+v", got, want)
	}

	width, err := r.store.Settings().Int(store.KeyManualWidth)
	if err != nil || width != 300 {
		t.Errorf("saved manual width = %d, %v; want 300", width, err)
	}
	height, err := r.store.Settings().Int(store.KeyManualHeight)
	if err != nil || height != 200 {
		t.Errorf("saved manual height = %d, %v; want 200", height, err)
	}

	if rec := r.do(t, http.MethodPost, "/api/framing/manual", `{"width":0,"height":200}`); rec.Code != http.StatusBadRequest {
		t.Errorf("zero width status = %d, want 400", rec.Code)
	}
}

func TestControl_Torch(t *testing.T) {
	r := newTestRig(t)

	if rec := r.do(t, http.MethodPut, "/api/torch", `{"on":true}`); rec.Code != http.StatusConflict {
		t.Errorf("PUT while closed status = %d, want 409", rec.Code)
	}

	r.resume(t)

	rec := r.do(t, http.MethodPut, "/api/torch", `{"on":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[torchResponse](t, rec); !got.On || !got.Supported {
		t.Errorf("torch = %+v, want on and supported", got)
	}

	rec = r.do(t, http.MethodGet, "/api/torch", "")
	if got := decodeBody[torchResponse](t, rec); !got.On {
		t.Errorf("GET torch = %+v, want on", got)
	}
	if got := r.drv.Current().FlashMode(); got != capture.FlashModeTorch {
		t.Errorf("driver flash mode = %q, want torch", got)
	}

	if rec := r.do(t, http.MethodPut, "/api/torch", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", rec.Code)
	}
}

func TestControl_Zoom(t *testing.T) {
	r := newTestRig(t)

	if rec := r.do(t, http.MethodGet, "/api/zoom", ""); rec.Code != http.StatusConflict {
		t.Errorf("GET while closed status = %d, want 409", rec.Code)
	}

	r.resume(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "set clamps to max", method: http.MethodPut, path: "/api/zoom", body: `{"level":50}`, want: 30},
		{name: "zoom out", method: http.MethodPost, path: "/api/zoom/out", want: 29},
		{name: "zoom in", method: http.MethodPost, path: "/api/zoom/in", want: 30},
		{name: "set clamps to zero", method: http.MethodPut, path: "/api/zoom", body: `{"level":-4}`, want: 0},
		{name: "zoom out at zero", method: http.MethodPost, path: "/api/zoom/out", want: 0},
		{name: "set", method: http.MethodPut, path: "/api/zoom", body: `{"level":7}`, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := r.do(t, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			got := decodeBody[zoomResponse](t, rec)
			if got.Level != tt.want || got.Max != 30 {
				t.Errorf("zoom = %+v, want level %d max 30", got, tt.want)
			}
			saved, err := r.store.Settings().Int(store.KeyZoom)
			if err != nil || saved != tt.want {
				t.Errorf("saved zoom = %d, %v; want %d", saved, err, tt.want)
			}
		})
	}

	if rec := r.do(t, http.MethodPost, "/api/zoom/sideways", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown direction status = %d, want 404", rec.Code)
	}
}

func TestControl_Settings(t *testing.T) {
	r := newTestRig(t)

	rec := r.do(t, http.MethodPut, "/api/settings/"+store.KeyWidthScale, `{"value":"0.7"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = r.do(t, http.MethodGet, "/api/settings/"+store.KeyWidthScale, "")
	if got := decodeBody[settingResponse](t, rec); got.Value != "0.7" {
		t.Errorf("GET value = %q, want 0.7", got.Value)
	}

	rec = r.do(t, http.MethodGet, "/api/settings", "")
	listed := decodeBody[listSettingsResponse](t, rec)
	if len(listed.Settings) != 1 || listed.Settings[0].Key != store.KeyWidthScale {
		t.Errorf("listed = %+v", listed)
	}

	invalid := []struct {
		key  string
		body string
	}{
		{store.KeyWidthScale, `{"value":"1.5"}`},
		{store.KeyWidthScale, `{"value":"wide"}`},
		{store.KeyZoom, `{"value":"-1"}`},
		{store.KeyManualWidth, `{"value":"0"}`},
		{store.KeyContinuous, `{"value":"sometimes"}`},
		{"camera.device", `{"value":"1"}`},
		{store.KeyZoom, `{`},
	}
	for _, tt := range invalid {
		if rec := r.do(t, http.MethodPut, "/api/settings/"+tt.key, tt.body); rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %s %s status = %d, want 400", tt.key, tt.body, rec.Code)
		}
	}

	if rec := r.do(t, http.MethodDelete, "/api/settings/"+store.KeyWidthScale, ""); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", rec.Code)
	}
	if rec := r.do(t, http.MethodDelete, "/api/settings/"+store.KeyWidthScale, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", rec.Code)
	}
	if rec := r.do(t, http.MethodGet, "/api/settings/"+store.KeyWidthScale, ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET deleted status = %d, want 404", rec.Code)
	}
}

func TestControl_Rescan(t *testing.T) {
	r := newTestRig(t)

	rec := r.do(t, http.MethodPost, "/api/scan/rescan", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
