// Package openai provides a transcriber backed by the OpenAI audio
// transcription API (or any server that implements it).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/vadscribe/pkg/audio"
	"github.com/MrWong99/vadscribe/pkg/audio/wavio"
	"github.com/MrWong99/vadscribe/pkg/provider/stt"
)

// DefaultModel is used when no model is configured.
const DefaultModel = oai.AudioModelWhisper1

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client oai.Client
	model  string
	params stt.Params
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	params     stt.Params
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries a failed request.
// Defaults to the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithParams sets the decoding parameters. Only Language is honoured by the
// API; Translate is rejected by New because translation uses a separate
// endpoint.
func WithParams(p stt.Params) Option {
	return func(c *config) {
		c.params = p
	}
}

// New constructs a Transcriber. model defaults to DefaultModel when empty.
func New(apiKey, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1, params: stt.DefaultParams()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.params.Translate {
		return nil, fmt.Errorf("openai: translate is not supported by the transcription endpoint")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Transcriber{
		client: oai.NewClient(reqOpts...),
		model:  model,
		params: cfg.params,
	}, nil
}

// verboseTranscription is the part of a verbose_json response the SDK's
// Transcription type does not expose.
type verboseTranscription struct {
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
		return fmt.Errorf("openai: %w", err)
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model:          t.model,
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if lang := t.params.Language; lang != "" && lang != "auto" {
		params.Language = oai.String(lang)
	}

	res, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai: transcribe: %w", err)
	}

	var verbose verboseTranscription
	if raw := res.RawJSON(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &verbose); err != nil {
			return fmt.Errorf("openai: parse segments: %w", err)
		}
	}
	if len(verbose.Segments) == 0 {
		if text := strings.TrimSpace(res.Text); text != "" {
			onSegment(stt.Segment{End: audio.Duration(len(samples), sampleRate), Text: text})
		}
		return nil
	}
	for _, s := range verbose.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		onSegment(stt.Segment{
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
			Text:  text,
		})
	}
	return nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
