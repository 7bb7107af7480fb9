package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestResultsHandler_Broadcast(t *testing.T) {
	r := newTestRig(t)
	ts := httptest.NewServer(r.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/results"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if !waitUntil(time.Second, func() bool { return r.srv.results.Clients() == 1 }) {
		t.Fatal("client not registered")
	}

	r.decoder.SetText("hello")
	r.resume(t)
	r.pump(t)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var msg struct {
		Session string `json:"session"`
		Result  struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if msg.Session != r.session.ID().String() {
		t.Errorf("session = %q, want %q", msg.Session, r.session.ID())
	}
	if msg.Result.Text != "hello" || msg.Result.ID == "" {
		t.Errorf("result = %+v", msg.Result)
	}
}

func TestResultsHandler_Disconnect(t *testing.T) {
	r := newTestRig(t)
	ts := httptest.NewServer(r.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/results"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if !waitUntil(time.Second, func() bool { return r.srv.results.Clients() == 1 }) {
		t.Fatal("client not registered")
	}

	conn.Close()
	if !waitUntil(time.Second, func() bool { return r.srv.results.Clients() == 0 }) {
		t.Error("client not removed after disconnect")
	}
}
