package e2e

import (
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayusman/scanview/internal/capture"
	"github.com/ayusman/scanview/internal/decode"
	"github.com/ayusman/scanview/internal/decode/decodetest"
	"github.com/ayusman/scanview/internal/server"
	"github.com/ayusman/scanview/internal/session"
	"github.com/ayusman/scanview/internal/store"
	"github.com/gorilla/websocket"
)

var previewSize = image.Pt(640, 480)

type resultMessage struct {
	Session string `json:"session"`
	Result  struct {
		Text   string `json:"text"`
		Format string `json:"format"`
	} `json:"result"`
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()
	s, err := store.New(filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	drv := capture.NewFakeDriver()
	surface := server.NewStreamSurface(previewSize)
	sess, err := session.New(session.Config{
		Manager:        capture.NewManager(&capture.FakeOpener{Driver: drv}, capture.Options{}),
		Surface:        surface,
		Overlay:        session.CanvasOverlay(previewSize),
		Decoder:        decode.NewQRDecoder(decode.DefaultConfig()),
		RequestTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	defer sess.Close()

	srv := server.New(server.Config{Store: s, Session: sess, Stream: surface})
	defer srv.Close()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	// The camera shows whatever frame is current
	var current atomic.Pointer[[]byte]
	show := func(data []byte) { current.Store(&data) }
	show(decodetest.Blank(previewSize))

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
				drv.EmitFrame(*current.Load())
			}
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	post := func(t *testing.T, path, body string) *http.Response {
		t.Helper()
		resp, err := client.Post(ts.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST %s error = %v", path, err)
		}
		return resp
	}

	showCode := func(t *testing.T, text string) {
		t.Helper()
		frame, err := decodetest.Frame(text, previewSize, image.Rect(220, 140, 420, 340))
		if err != nil {
			t.Fatalf("decodetest.Frame() error = %v", err)
		}
		show(frame)
	}

	var conn *websocket.Conn

	t.Run("StartScanning", func(t *testing.T) {
		resp := post(t, "/api/scan/resume", "")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		resp, err := client.Get(ts.URL + "/api/framing/screen")
		if err != nil {
			t.Fatalf("GET /api/framing/screen error = %v", err)
		}
		defer resp.Body.Close()

		var rect struct{ Left, Top, Right, Bottom int }
		json.NewDecoder(resp.Body).Decode(&rect)
		if rect.Left != 200 || rect.Top != 120 || rect.Right != 440 || rect.Bottom != 360 {
			t.Errorf("scan region = %+v, want (200,120)-(440,360)", rect)
		}
	})

	t.Run("ConnectResults", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/results"
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		conn = c
	})
	if conn == nil {
		t.FailNow()
	}
	defer conn.Close()

	readResult := func(t *testing.T) resultMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		var msg resultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		return msg
	}

	t.Run("ScanCode", func(t *testing.T) {
		showCode(t, "https://scanview.example/first")

		msg := readResult(t)
		if msg.Result.Text != "https://scanview.example/first" {
			t.Errorf("text = %q", msg.Result.Text)
		}
		if msg.Result.Format != "QR_CODE" {
			t.Errorf("format = %q, want QR_CODE", msg.Result.Format)
		}
		if msg.Session != sess.ID().String() {
			t.Errorf("session = %q, want %q", msg.Session, sess.ID())
		}
	})

	t.Run("HoldsAfterResult", func(t *testing.T) {
		deadline := time.Now().Add(time.Second)
		for sess.State() != session.StateHolding && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}

		resp, err := client.Get(ts.URL + "/api/status")
		if err != nil {
			t.Fatalf("GET /api/status error = %v", err)
		}
		defer resp.Body.Close()

		var status struct {
			Session struct {
				State   string `json:"state"`
				Results int    `json:"results"`
			} `json:"session"`
		}
		json.NewDecoder(resp.Body).Decode(&status)
		if status.Session.State != string(session.StateHolding) || status.Session.Results != 1 {
			t.Errorf("session status = %+v, want holding with 1 result", status.Session)
		}
	})

	t.Run("Rescan", func(t *testing.T) {
		showCode(t, "second code")
		resp := post(t, "/api/scan/rescan", "")
		resp.Body.Close()

		if msg := readResult(t); msg.Result.Text != "second code" {
			t.Errorf("text = %q, want %q", msg.Result.Text, "second code")
		}
	})

	t.Run("ZoomIsSaved", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/zoom", strings.NewReader(`{"level":12}`))
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("PUT /api/zoom error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}

		zoom, err := s.Settings().Int(store.KeyZoom)
		if err != nil || zoom != 12 {
			t.Errorf("saved zoom = %d, %v; want 12", zoom, err)
		}
	})

	t.Run("PauseReleasesCamera", func(t *testing.T) {
		resp := post(t, "/api/scan/pause", "")
		resp.Body.Close()

		if !drv.IsReleased() {
			t.Error("camera not released")
		}
		if n := drv.LateCallbacks(); n != 0 {
			t.Errorf("%d frame callbacks after preview stopped", n)
		}
	})
}
