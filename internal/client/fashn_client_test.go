package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/config"
	"github.com/snapsell/api/internal/model"
)

func newTestFashnClient(baseURL string, maxPolls int, timeout time.Duration) *FashnClient {
	return NewFashnClient(&config.FashnConfig{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		PollInterval: 5 * time.Millisecond,
		MaxPolls:     maxPolls,
		Timeout:      timeout,
	}, zerolog.Nop())
}

func TestFashnRun_SendsModelAndInputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/run" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.ModelName != "tryon-v1.6" || req.Inputs["garment_image"] != "https://img.test/shirt.jpg" {
			t.Errorf("unexpected payload: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "pred-1", "error": nil})
	}))
	defer srv.Close()

	c := newTestFashnClient(srv.URL, 3, time.Second)
	resp, err := c.Run(context.Background(), &RunRequest{
		ModelName: "tryon-v1.6",
		Inputs:    map[string]interface{}{"garment_image": "https://img.test/shirt.jpg"},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.ID != "pred-1" {
		t.Errorf("expected pred-1, got %q", resp.ID)
	}
}

func TestFashnRun_ClassifiesHTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   model.FailureKind
	}{
		{http.StatusBadRequest, model.FailureValidation},
		{http.StatusTooManyRequests, model.FailureTransport},
		{http.StatusInternalServerError, model.FailureProcessing},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestFashnClient(srv.URL, 3, time.Second)
		_, err := c.Run(context.Background(), &RunRequest{ModelName: "model-swap"})
		if got := KindOf(err); got != tt.want {
			t.Errorf("status %d: expected kind %s, got %s (%v)", tt.status, tt.want, got, err)
		}
		srv.Close()
	}
}

func TestFashnPoll_CompletesAfterProcessing(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := FashnStatusProcessing
		var output []string
		if n >= 3 {
			status = FashnStatusCompleted
			output = []string{"https://cdn.test/out.png"}
		}
		_ = json.NewEncoder(w).Encode(StatusResponse{ID: "pred-1", Status: status, Output: output})
	}))
	defer srv.Close()

	c := newTestFashnClient(srv.URL, 10, time.Second)
	result, err := c.Poll(context.Background(), "pred-1")
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if result.Output[0] != "https://cdn.test/out.png" {
		t.Errorf("unexpected output %v", result.Output)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 status calls, got %d", calls)
	}
}

func TestFashnPoll_MaxPollsIsTimeout(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(StatusResponse{ID: "pred-1", Status: FashnStatusInQueue})
	}))
	defer srv.Close()

	c := newTestFashnClient(srv.URL, 4, 5*time.Second)
	_, err := c.Poll(context.Background(), "pred-1")
	if KindOf(err) != model.FailureTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 4 {
		t.Errorf("expected exactly 4 polls, got %d", calls)
	}
}

func TestFashnPoll_FailedPredictionClassification(t *testing.T) {
	tests := []struct {
		name string
		want model.FailureKind
	}{
		{"PoseError", model.FailureValidation},
		{"ContentModerationError", model.FailureValidation},
		{"PipelineError", model.FailureProcessing},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(StatusResponse{
				ID:     "pred-1",
				Status: FashnStatusFailed,
				Error:  &FashnError{Name: tt.name, Message: "details"},
			})
		}))

		c := newTestFashnClient(srv.URL, 3, time.Second)
		_, err := c.Poll(context.Background(), "pred-1")
		if got := KindOf(err); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
		srv.Close()
	}
}

func TestFashnClient_NotConfigured(t *testing.T) {
	c := NewFashnClient(&config.FashnConfig{BaseURL: "http://127.0.0.1:1", MaxPolls: 1, Timeout: time.Second}, zerolog.Nop())
	if c.IsConfigured() {
		t.Fatal("expected client without key to be unconfigured")
	}
	if _, err := c.Run(context.Background(), &RunRequest{ModelName: "model-swap"}); err == nil {
		t.Fatal("expected error from unconfigured client")
	}
}
