package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStreamChatReturnsTheRawEventBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var body struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body.Message != "hello" {
			t.Errorf("expected message %q, got %q", "hello", body.Message)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: token\ndata: {\"token\":\"hi\"}\n")
	}))
	defer server.Close()

	client := NewClient(server.URL)
	stream, err := client.StreamChat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected stream to open, got %v", err)
	}
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("expected stream to read to the end, got %v", err)
	}
	if string(raw) != "event: token\ndata: {\"token\":\"hi\"}\n" {
		t.Fatalf("unexpected stream contents: %q", string(raw))
	}
}

func TestSynthesizeReturnsTheAudioClip(t *testing.T) {
	clip := []byte{0xFF, 0xFB, 0x90, 0x00}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(clip)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	audio, err := client.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected a clip, got %v", err)
	}
	if string(audio) != string(clip) {
		t.Fatalf("expected clip %v, got %v", clip, audio)
	}
}

func TestSynthesizeSurfacesTheServersErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": "Empty text"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.Synthesize(context.Background(), ""); err == nil {
		t.Fatal("expected an error")
	} else if got := err.Error(); got != "speech synthesis failed: Empty text" {
		t.Fatalf("expected the server's error message, got %q", got)
	}
}

func TestStatusDecodesTheSessionSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"model":"m","mode":"psycho","expression":"angry","phase":3,"phase_name":"執着","session_count":7,"msg_count":42,"has_mem0":true}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("expected a status, got %v", err)
	}
	if status.Mode != "psycho" || status.Expression != "angry" {
		t.Fatalf("unexpected mode/expression: %q/%q", status.Mode, status.Expression)
	}
	if status.Phase != 3 || status.PhaseName != "執着" {
		t.Fatalf("unexpected phase: %d %q", status.Phase, status.PhaseName)
	}
	if !status.HasSemantic {
		t.Fatal("expected semantic memory to be reported active")
	}
}

func TestRecallMemoriesFailsWhenRecallIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "cats" {
			t.Errorf("expected query %q, got %q", "cats", got)
		}
		io.WriteString(w, `{"results": [], "error": "mem0 not active"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.RecallMemories(context.Background(), "cats"); err == nil {
		t.Fatal("expected an error when recall is unavailable")
	}
}

func TestConfirmActionDecodesRejectionsToo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/confirm-action/abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"status": "failed", "message": "already executed"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.ConfirmAction(context.Background(), "abc")
	if err != nil {
		t.Fatalf("expected a result even on rejection, got %v", err)
	}
	if result.Status != "failed" || result.Message != "already executed" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
