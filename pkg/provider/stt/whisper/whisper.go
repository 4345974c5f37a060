// Package whisper provides whisper.cpp-backed transcribers.
//
// Transcriber talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. Each segment is wrapped in a WAV container and
// submitted as one multipart request; the verbose JSON response carries the
// timed pieces.
//
// NativeTranscriber links whisper.cpp through its CGO bindings and runs
// inference in-process, which avoids HTTP overhead entirely.
//
// Usage:
//
//	t, err := whisper.New("http://localhost:8080",
//	    whisper.WithParams(stt.Params{Language: "en", Threads: 4}),
//	)
//	err = t.Transcribe(ctx, samples, 16000, func(s stt.Segment) {
//	    fmt.Println(s.Start, s.End, s.Text)
//	})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/vadscribe/pkg/audio"
	"github.com/MrWong99/vadscribe/pkg/audio/wavio"
	"github.com/MrWong99/vadscribe/pkg/provider/stt"
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with; this is the default.
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithParams sets the decoding parameters sent with every request. Defaults
// to stt.DefaultParams().
func WithParams(p stt.Params) Option {
	return func(t *Transcriber) {
		t.params = p
	}
}

// WithHTTPClient replaces the HTTP client. Defaults to a client with a 60 s
// timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// Transcriber implements stt.Transcriber backed by a whisper.cpp HTTP
// server. It is safe for concurrent use.
type Transcriber struct {
	serverURL  string
	model      string
	params     stt.Params
	httpClient *http.Client
}

// New creates a Transcriber that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  strings.TrimRight(serverURL, "/"),
		params:     stt.DefaultParams(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// inferenceResponse is the verbose_json body returned by whisper-server.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int, onSegment func(stt.Segment)) error {
	if len(samples) == 0 {
		return nil
	}
	wav, err := wavio.EncodeBytes(samples, sampleRate)
	if err != nil {
		return fmt.Errorf("whisper: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return fmt.Errorf("whisper: write audio: %w", err)
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0.0",
		"translate":       strconv.FormatBool(t.params.Translate),
	}
	if t.params.Language != "" {
		fields["language"] = t.params.Language
	}
	if t.model != "" {
		fields["model"] = t.model
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+"/inference", &body)
	if err != nil {
		return fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	if len(result.Segments) == 0 {
		if text := strings.TrimSpace(result.Text); text != "" {
			onSegment(stt.Segment{End: audio.Duration(len(samples), sampleRate), Text: text})
		}
		return nil
	}
	for _, s := range result.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		onSegment(stt.Segment{
			Start: secondsToDuration(s.Start),
			End:   secondsToDuration(s.End),
			Text:  text,
		})
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
