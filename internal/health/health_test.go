package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

// operationalCheckers builds the three checkers the service registers, backed
// by the given stream status, ping error and breaker states.
func operationalCheckers(st StreamStatus, pingErr error, open map[string]bool) []Checker {
	return []Checker{
		Stream(func() StreamStatus { return st }, 30*time.Second),
		Database(pingerFunc(func(context.Context) error { return pingErr })),
		Transcribers(func() map[string]bool { return open }),
	}
}

func TestReadyz_OperationalCheckers(t *testing.T) {
	live := StreamStatus{Running: true, LastChunk: time.Now()}
	tests := []struct {
		name       string
		stream     StreamStatus
		pingErr    error
		open       map[string]bool
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "streaming",
			stream:     live,
			open:       map[string]bool{"whisper": false, "openai": false},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"stream": "ok", "database": "ok", "transcriber": "ok"},
		},
		{
			name:       "one breaker open",
			stream:     live,
			open:       map[string]bool{"whisper": true, "openai": false},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"stream": "ok", "database": "ok", "transcriber": "ok"},
		},
		{
			name:       "every breaker open",
			stream:     live,
			open:       map[string]bool{"whisper": true, "openai": true},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{
				"stream":      "ok",
				"database":    "ok",
				"transcriber": "fail: circuit open for openai, whisper",
			},
		},
		{
			name:       "before first chunk",
			pingErr:    errors.New("connection refused"),
			open:       map[string]bool{"whisper": false},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{
				"stream":      "fail: not running",
				"database":    "fail: ping: connection refused",
				"transcriber": "ok",
			},
		},
		{
			name:       "stream ended with error",
			stream:     StreamStatus{LastChunk: time.Now(), Err: errors.New("source: read: connection reset")},
			open:       map[string]bool{"whisper": false},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{
				"stream":      "fail: source: read: connection reset",
				"database":    "ok",
				"transcriber": "ok",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(operationalCheckers(tt.stream, tt.pingErr, tt.open)...)
			code, body := readyz(t, h, context.Background())
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			wantBody := "ok"
			if tt.wantStatus != http.StatusOK {
				wantBody = "fail"
			}
			if body.Status != wantBody {
				t.Errorf("body status = %q, want %q", body.Status, wantBody)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RunsCheckersConcurrently(t *testing.T) {
	// Every checker waits until all of them have started, so a sequential
	// Readyz would only finish through the timeout.
	const n = 3
	var started sync.WaitGroup
	started.Add(n)
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()

	checkers := make([]Checker, n)
	for i, name := range []string{"stream", "database", "transcriber"} {
		checkers[i] = Checker{Name: name, Check: func(ctx context.Context) error {
			started.Done()
			select {
			case <-all:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, body := readyz(t, New(checkers...), ctx)
	if code != http.StatusOK {
		t.Fatalf("status = %d, checks %v; checkers did not overlap", code, body.Checks)
	}
}

func TestReadyz_CancelledRequestFailsPendingChecks(t *testing.T) {
	h := New(
		Stream(func() StreamStatus { return StreamStatus{Running: true, LastChunk: time.Now()} }, 0),
		Database(pingerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, body := readyz(t, h, ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Checks["stream"] != "ok" || body.Checks["database"] != "fail: ping: context canceled" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	code, body := readyz(t, New(), context.Background())
	if code != http.StatusOK || body.Status != "ok" || len(body.Checks) != 0 {
		t.Errorf("status %d body %+v, want 200 ok with no checks", code, body)
	}
}

func TestNew_CopiesCheckers(t *testing.T) {
	checkers := []Checker{{Name: "stream", Check: func(context.Context) error { return nil }}}
	h := New(checkers...)
	checkers[0] = Checker{Name: "stream", Check: func(context.Context) error { return errors.New("replaced") }}

	if code, _ := readyz(t, h, context.Background()); code != http.StatusOK {
		t.Errorf("status = %d; handler saw a later change to the caller's slice", code)
	}
}

func TestRegister_Routes(t *testing.T) {
	h := New(Stream(func() StreamStatus { return StreamStatus{} }, 0))
	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		method, path string
		wantStatus   int
	}{
		{"GET", "/healthz", http.StatusOK},
		{"GET", "/readyz", http.StatusServiceUnavailable},
		{"POST", "/healthz", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
