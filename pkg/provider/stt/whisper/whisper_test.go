package whisper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vadscribe/pkg/audio/wavio"
	"github.com/MrWong99/vadscribe/pkg/provider/stt"
	"github.com/MrWong99/vadscribe/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// capturedRequest holds the multipart fields of the last /inference request.
type capturedRequest struct {
	mu     sync.Mutex
	fields map[string]string
	audio  []byte
}

// newMockServer creates a test server that answers POST /inference with the
// given JSON body and records the request fields in captured.
func newMockServer(t *testing.T, body any, captured *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if captured != nil {
			captured.mu.Lock()
			captured.fields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				captured.fields[k] = v[0]
			}
			if f, _, err := r.FormFile("file"); err == nil {
				captured.audio, _ = io.ReadAll(f)
				f.Close()
			}
			captured.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func speech(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16((i % 64) * 200)
	}
	return s
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	tr, err := whisper.New("http://localhost:8080/",
		whisper.WithModel("small"),
		whisper.WithParams(stt.Params{Language: "de"}),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil {
		t.Fatal("expected non-nil Transcriber")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_VerboseSegments(t *testing.T) {
	captured := &capturedRequest{}
	srv := newMockServer(t, map[string]any{
		"text": " hello world",
		"segments": []map[string]any{
			{"start": 0.0, "end": 1.5, "text": " hello"},
			{"start": 1.5, "end": 2.25, "text": " world "},
			{"start": 2.25, "end": 2.5, "text": "  "},
		},
	}, captured)
	defer srv.Close()

	tr, _ := whisper.New(srv.URL, whisper.WithModel("base"), whisper.WithParams(stt.Params{Language: "zh", Translate: true}))
	segs, err := stt.Collect(context.Background(), tr, speech(16000), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2: %+v", len(segs), segs)
	}
	if segs[0].Text != "hello" || segs[0].End != 1500*time.Millisecond {
		t.Errorf("segment 0 = %+v", segs[0])
	}
	if segs[1].Text != "world" || segs[1].Start != 1500*time.Millisecond || segs[1].End != 2250*time.Millisecond {
		t.Errorf("segment 1 = %+v", segs[1])
	}

	captured.mu.Lock()
	defer captured.mu.Unlock()
	want := map[string]string{
		"language":        "zh",
		"translate":       "true",
		"model":           "base",
		"response_format": "verbose_json",
	}
	for k, v := range want {
		if captured.fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, captured.fields[k], v)
		}
	}
	dec, err := wavio.NewDecoder(bytes.NewReader(captured.audio))
	if err != nil {
		t.Fatalf("uploaded file is not a WAV: %v", err)
	}
	if dec.Format().SampleRate != 16000 || dec.Format().Channels != 1 {
		t.Errorf("uploaded format = %+v", dec.Format())
	}
}

func TestTranscribe_PlainTextFallback(t *testing.T) {
	srv := newMockServer(t, map[string]any{"text": " just text "}, nil)
	defer srv.Close()

	tr, _ := whisper.New(srv.URL)
	segs, err := stt.Collect(context.Background(), tr, speech(8000), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "just text" || segs[0].End != 500*time.Millisecond {
		t.Fatalf("segments = %+v", segs)
	}
}

func TestTranscribe_EmptyAudioSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	tr, _ := whisper.New(srv.URL)
	if err := tr.Transcribe(context.Background(), nil, 16000, func(stt.Segment) {}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if called {
		t.Error("server was called for empty audio")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, _ := whisper.New(srv.URL)
	err := tr.Transcribe(context.Background(), speech(1600), 16000, func(stt.Segment) {})
	if err == nil || !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("err = %v, want HTTP 500 with body", err)
	}
}

func TestTranscribe_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	tr, _ := whisper.New(srv.URL)
	if err := tr.Transcribe(context.Background(), speech(1600), 16000, func(stt.Segment) {}); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	srv := newMockServer(t, map[string]any{"text": "x"}, nil)
	defer srv.Close()

	tr, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Transcribe(ctx, speech(1600), 16000, func(stt.Segment) {}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
