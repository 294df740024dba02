package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tracksession-go/internal/config"
)

func TestHandleConfig(t *testing.T) {
	srv := New(config.AppConfig{
		Port:     9999,
		Endpoint: "tcp://localhost:1",
		Streams:  []string{"depth", "hands"},
	}, nil, nil, nil)

	req := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.handleConfig(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if payload["port"].(float64) != 9999 {
		t.Fatalf("unexpected port: %v", payload["port"])
	}
	if payload["endpoint"] != "tcp://localhost:1" {
		t.Fatalf("unexpected endpoint: %v", payload["endpoint"])
	}
	if streams := payload["streams"].([]any); len(streams) != 2 || streams[1] != "hands" {
		t.Fatalf("unexpected streams: %v", payload["streams"])
	}
}

func TestHandleStatus(t *testing.T) {
	srv := New(config.AppConfig{}, func() map[string]any {
		return map[string]any{"state": "active", "metrics": map[string]any{"passes": 3}}
	}, nil, nil)

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["state"] != "active" {
		t.Fatalf("unexpected state: %v", payload["state"])
	}
	metrics := payload["metrics"].(map[string]any)
	if metrics["ws_clients"].(float64) != 0 || metrics["passes"].(float64) != 3 {
		t.Fatalf("unexpected metrics: %v", metrics)
	}
	proc, ok := payload["process"].(map[string]any)
	if !ok || proc["pid"] == nil {
		t.Fatalf("missing process stats: %v", payload["process"])
	}
}

func TestWebsocketSnapshotAndBroadcast(t *testing.T) {
	srv := New(config.AppConfig{Port: 1}, nil, func() any {
		return map[string]any{"type": "snapshot", "data": map[string]any{}}
	}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages := make(chan any, 1)
	go srv.Broadcast(ctx, messages)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil || msg["type"] != "config" {
		t.Fatalf("first message = %v, %v", msg, err)
	}

	if err := conn.WriteJSON(map[string]any{"type": "snapshot_request"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = nil
	if err := conn.ReadJSON(&msg); err != nil || msg["type"] != "snapshot" {
		t.Fatalf("snapshot reply = %v, %v", msg, err)
	}

	messages <- map[string]any{"type": "frame", "stream": "depth"}
	msg = nil
	if err := conn.ReadJSON(&msg); err != nil || msg["stream"] != "depth" {
		t.Fatalf("broadcast = %v, %v", msg, err)
	}
}
