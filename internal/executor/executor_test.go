package executor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smolenkov/conveyor/internal/domain"
)

func testRequest(nodeType string, config map[string]any, inputs ...Upstream) *Request {
	return &Request{
		NodeID:   "n1",
		NodeType: nodeType,
		Config:   config,
		Inputs:   inputs,
		Attempt:  1,
		Log:      func(domain.LogLevel, string) {},
	}
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()

	for _, nodeType := range []string{"http", "delay", "transform"} {
		if !r.Known(nodeType) {
			t.Errorf("builtin %q not registered", nodeType)
		}
		if _, err := r.Get(nodeType); err != nil {
			t.Errorf("Get(%q): %v", nodeType, err)
		}
	}

	if _, err := r.Get("nonexistent"); !errors.Is(err, ErrUnknownNodeType) {
		t.Errorf("expected ErrUnknownNodeType, got %v", err)
	}
}

func TestRegistryCapabilities(t *testing.T) {
	r := NewRegistry()

	caps, err := r.Capabilities("transform")
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if !caps.Deterministic {
		t.Error("transform must be deterministic")
	}

	caps, err = r.Capabilities("http")
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if caps.Deterministic {
		t.Error("http must not be deterministic")
	}
}

func TestValidateConfig(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name     string
		nodeType string
		config   map[string]any
		wantErr  error
	}{
		{
			name:     "valid http config",
			nodeType: "http",
			config:   map[string]any{"url": "https://example.com", "method": "POST"},
		},
		{
			name:     "http without url",
			nodeType: "http",
			config:   map[string]any{"method": "GET"},
			wantErr:  ErrInvalidConfig,
		},
		{
			name:     "http with bad method",
			nodeType: "http",
			config:   map[string]any{"url": "https://example.com", "method": "YEET"},
			wantErr:  ErrInvalidConfig,
		},
		{
			name:     "valid delay config",
			nodeType: "delay",
			config:   map[string]any{"duration_ms": 100},
		},
		{
			name:     "delay out of range",
			nodeType: "delay",
			config:   map[string]any{"duration_ms": 7_200_000},
			wantErr:  ErrInvalidConfig,
		},
		{
			name:     "transform is free-form",
			nodeType: "transform",
			config:   map[string]any{"anything": []any{1, 2, 3}},
		},
		{
			name:     "unknown node type",
			nodeType: "nonexistent",
			config:   map[string]any{},
			wantErr:  ErrUnknownNodeType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateConfig(tt.nodeType, tt.config)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTransformMergesInputsInEdgeOrder(t *testing.T) {
	exec := &TransformExecutor{}

	req := testRequest("transform",
		map[string]any{"from_config": true},
		Upstream{
			SourceID: "a",
			Output:   &domain.Output{Payload: map[string]any{"x": 1, "y": "first"}},
		},
		Upstream{
			SourceID: "b",
			Output:   &domain.Output{Payload: map[string]any{"y": "second", "z": 3}},
		},
	)

	out, err := exec.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if out.Schema != "json" {
		t.Errorf("schema = %q, want json", out.Schema)
	}
	if out.Payload["x"] != 1 {
		t.Errorf("x = %v", out.Payload["x"])
	}
	// поздний вход перекрывает ранний
	if out.Payload["y"] != "second" {
		t.Errorf("y = %v, want second", out.Payload["y"])
	}
	// конфигурация перекрывает входы
	if out.Payload["from_config"] != true {
		t.Errorf("from_config = %v", out.Payload["from_config"])
	}
}

func TestDelayExecutorSleeps(t *testing.T) {
	exec := &DelayExecutor{}

	start := time.Now()
	out, err := exec.Execute(context.Background(),
		testRequest("delay", map[string]any{"duration_ms": float64(20)}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned after %s, want >= 20ms", elapsed)
	}
	if out.Payload["slept_ms"] != 20 {
		t.Errorf("slept_ms = %v", out.Payload["slept_ms"])
	}
}

func TestDelayExecutorRespectsCancellation(t *testing.T) {
	exec := &DelayExecutor{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := exec.Execute(ctx, testRequest("delay", map[string]any{"duration_ms": 10_000}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %s", elapsed)
	}
}

func TestHTTPExecutorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("X-Token"); got != "abc" {
			t.Errorf("X-Token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	exec := &HTTPExecutor{Client: srv.Client()}
	out, err := exec.Execute(context.Background(), testRequest("http", map[string]any{
		"url":     srv.URL,
		"method":  "POST",
		"headers": map[string]any{"X-Token": "abc"},
		"body":    map[string]any{"hello": "world"},
	}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if out.Schema != "http_response" {
		t.Errorf("schema = %q", out.Schema)
	}
	if out.Payload["status_code"] != 200 {
		t.Errorf("status_code = %v", out.Payload["status_code"])
	}
	body, ok := out.Payload["body"].(map[string]any)
	if !ok || body["ok"] != true {
		t.Errorf("body = %v", out.Payload["body"])
	}
}

// Запрос уходит по разрешённому URL, а в лог узла попадает Display-форма.
func TestHTTPExecutorLogsDisplayURL(t *testing.T) {
	const secret = "raw-secret-value"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != secret {
			t.Errorf("request key = %q, want the resolved secret", r.URL.Query().Get("key"))
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var logged []string
	req := testRequest("http", map[string]any{"url": srv.URL + "/?key=" + secret})
	req.Display = map[string]any{"url": srv.URL + "/?key=" + domain.MaskedValue}
	req.Log = func(_ domain.LogLevel, msg string) { logged = append(logged, msg) }

	exec := &HTTPExecutor{Client: srv.Client()}
	if _, err := exec.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var sawMasked bool
	for _, msg := range logged {
		if strings.Contains(msg, secret) {
			t.Errorf("resolved URL leaked into log: %q", msg)
		}
		if strings.Contains(msg, domain.MaskedValue) {
			sawMasked = true
		}
	}
	if !sawMasked {
		t.Errorf("expected the display URL in logs, got %v", logged)
	}
}

func TestHTTPExecutorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec := &HTTPExecutor{Client: srv.Client()}
	_, err := exec.Execute(context.Background(),
		testRequest("http", map[string]any{"url": srv.URL}))
	if !errors.Is(err, ErrHTTPRequest) {
		t.Fatalf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestRequestInput(t *testing.T) {
	req := testRequest("transform", nil,
		Upstream{SourceID: "a", TargetHandle: "left", Output: &domain.Output{Schema: "left"}},
		Upstream{SourceID: "b", TargetHandle: "right", Output: &domain.Output{Schema: "right"}},
	)

	if got := req.Input("right"); got == nil || got.Schema != "right" {
		t.Errorf("Input(right) = %v", got)
	}
	if got := req.Input(""); got == nil || got.Schema != "left" {
		t.Errorf("Input(\"\") = %v", got)
	}
	if got := req.Input("missing"); got != nil {
		t.Errorf("Input(missing) = %v", got)
	}
}
