package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// stderrTailSize bounds how much ffmpeg diagnostic output is kept for error
// messages.
const stderrTailSize = 4096

// FFmpeg decodes any input ffmpeg understands (HTTP/HLS streams, local
// files, containers) into mono s16le PCM at the configured sample rate by
// running ffmpeg as a subprocess and framing its stdout.
type FFmpeg struct {
	cmd    *exec.Cmd
	reader *Reader
	stderr *tailBuffer
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	waitErr   error
}

// FFmpegOption configures an FFmpeg source.
type FFmpegOption func(*ffmpegOptions)

type ffmpegOptions struct {
	binary    string
	extraArgs []string
}

// WithFFmpegBinary overrides the ffmpeg executable. Defaults to "ffmpeg" on
// PATH.
func WithFFmpegBinary(path string) FFmpegOption {
	return func(o *ffmpegOptions) {
		if path != "" {
			o.binary = path
		}
	}
}

// WithInputArgs adds arguments placed before -i (e.g. "-re" or reconnect
// flags for flaky HTTP streams).
func WithInputArgs(args ...string) FFmpegOption {
	return func(o *ffmpegOptions) { o.extraArgs = append(o.extraArgs, args...) }
}

// NewFFmpeg starts ffmpeg on input. The process is killed when ctx is
// cancelled or Close is called.
func NewFFmpeg(ctx context.Context, input string, cfg Config, opts ...FFmpegOption) (*FFmpeg, error) {
	if input == "" {
		return nil, errors.New("source: ffmpeg input must not be empty")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := ffmpegOptions{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, o.binary, ffmpegArgs(input, cfg.SampleRate, o.extraArgs)...)
	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("source: ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("source: start ffmpeg: %w", err)
	}
	slog.Debug("ffmpeg source started", "input", input, "sample_rate", cfg.SampleRate, "pid", cmd.Process.Pid)

	return &FFmpeg{
		cmd:    cmd,
		reader: NewReader(stdout, cfg.ChunkSize),
		stderr: stderr,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ffmpegArgs builds the ffmpeg command line that writes raw mono s16le PCM
// to stdout.
func ffmpegArgs(input string, sampleRate int, extra []string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, extra...)
	args = append(args,
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	)
	return args
}

// Next implements Source. When ffmpeg exits with an error, or is killed by
// anything other than Close or ctx cancellation, the error carries the tail
// of its stderr output.
func (f *FFmpeg) Next(ctx context.Context) ([]int16, error) {
	chunk, err := f.reader.Next(ctx)
	if errors.Is(err, io.EOF) {
		if werr := f.wait(); werr != nil {
			return nil, werr
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("source: read ffmpeg output: %w", err)
	}
	return chunk, nil
}

// Close implements Source.
func (f *FFmpeg) Close() error {
	f.cancel()
	_ = f.wait()
	return nil
}

func (f *FFmpeg) wait() error {
	f.closeOnce.Do(func() {
		err := f.cmd.Wait()
		if err == nil {
			return
		}
		if f.ctx.Err() != nil {
			// killed by Close or context cancellation
			return
		}
		msg := strings.TrimSpace(f.stderr.String())
		if msg != "" {
			f.waitErr = fmt.Errorf("source: ffmpeg: %w: %s", err, msg)
		} else {
			f.waitErr = fmt.Errorf("source: ffmpeg: %w", err)
		}
	})
	return f.waitErr
}

// tailBuffer is an io.Writer that keeps only the last limit bytes written.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, p...)
	if over := len(t.data) - t.limit; over > 0 {
		t.data = append(t.data[:0], t.data[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.data)
}

var _ Source = (*FFmpeg)(nil)
