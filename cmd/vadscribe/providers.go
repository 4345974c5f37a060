package main

import (
	"context"
	"net/http"
	"time"

	"github.com/MrWong99/vadscribe/internal/config"
	"github.com/MrWong99/vadscribe/pkg/audio/source"
	"github.com/MrWong99/vadscribe/pkg/provider/stt"
	"github.com/MrWong99/vadscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/vadscribe/pkg/provider/stt/whisper"
	"github.com/MrWong99/vadscribe/pkg/provider/vad"
	"github.com/MrWong99/vadscribe/pkg/provider/vad/energy"
	"github.com/MrWong99/vadscribe/pkg/provider/vad/silero"
)

// registerBuiltinProviders wires all built-in provider and source factories
// into reg. Each factory receives its config entry and constructs the
// implementation from the real provider packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if v, ok := config.OptFloat(entry.Options, "speech_level_db"); ok {
			opts = append(opts, energy.WithSpeechLevel(v))
		}
		if v, ok := config.OptFloat(entry.Options, "slope_db"); ok {
			opts = append(opts, energy.WithSlope(v))
		}
		if v, ok := config.OptFloat(entry.Options, "smoothing"); ok {
			opts = append(opts, energy.WithSmoothing(v))
		}
		return energy.New(opts...), nil
	})
	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []silero.Option
		if v, ok := config.OptFloat(entry.Options, "threshold"); ok {
			opts = append(opts, silero.WithThreshold(v))
		}
		e, err := silero.New(entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return e, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	// whisper talks to a whisper.cpp server; BaseURL is the server address.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry, params stt.Params) (stt.Transcriber, error) {
		opts := []whisper.Option{whisper.WithParams(params)}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if v, ok := config.OptFloat(entry.Options, "timeout_seconds"); ok && v > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{Timeout: time.Duration(v * float64(time.Second))}))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// whisper-native runs whisper.cpp in-process; Model is the ggml file path.
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry, params stt.Params) (stt.Transcriber, error) {
		return whisper.NewNative(entry.Model, whisper.WithNativeParams(params))
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry, params stt.Params) (stt.Transcriber, error) {
		opts := []openai.Option{openai.WithParams(params)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if v, ok := config.OptFloat(entry.Options, "timeout_seconds"); ok && v > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(v*float64(time.Second))))
		}
		if v, ok := config.OptFloat(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(int(v)))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Sources ───────────────────────────────────────────────────────────────

	reg.RegisterSource(config.SourceFFmpeg, func(ctx context.Context, sc config.StreamConfig) (source.Source, error) {
		var opts []source.FFmpegOption
		if sc.FFmpegPath != "" {
			opts = append(opts, source.WithFFmpegBinary(sc.FFmpegPath))
		}
		return source.NewFFmpeg(ctx, sc.URL, sourceConfig(sc), opts...)
	})

	reg.RegisterSource(config.SourceWAV, func(_ context.Context, sc config.StreamConfig) (source.Source, error) {
		return source.OpenWAV(sc.URL, sourceConfig(sc))
	})

	reg.RegisterSource(config.SourceWebSocket, func(ctx context.Context, sc config.StreamConfig) (source.Source, error) {
		header := make(http.Header, len(sc.Headers))
		for k, v := range sc.Headers {
			header.Set(k, v)
		}
		return source.DialWebSocket(ctx, sc.URL, sourceConfig(sc), header)
	})
}

func sourceConfig(sc config.StreamConfig) source.Config {
	return source.Config{SampleRate: sc.SampleRate, ChunkSize: sc.ChunkSize}
}
