package observe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// logRecorder is a slog.Handler that keeps every record it sees.
type logRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

func (l *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (l *logRecorder) Handle(_ context.Context, r slog.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r.Clone())
	return nil
}

func (l *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return l }
func (l *logRecorder) WithGroup(string) slog.Handler      { return l }

// requestLog returns the "request completed" record for path.
func (l *logRecorder) requestLog(path string) (slog.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.Message != "request completed" {
			continue
		}
		var match bool
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "path" && a.Value.String() == path {
				match = true
				return false
			}
			return true
		})
		if match {
			return r, true
		}
	}
	return slog.Record{}, false
}

type opsEnv struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	logs    *logRecorder
}

// newOpsEnv wraps a stand-in for the operational endpoints in Middleware,
// with in-memory metrics, spans and logs. Tests using it must not run in
// parallel because it swaps the global tracer provider and logger.
func newOpsEnv(t *testing.T) *opsEnv {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	logs := &logRecorder{}
	origLog := slog.Default()
	slog.SetDefault(slog.New(logs))
	t.Cleanup(func() { slog.SetDefault(origLog) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})

	return &opsEnv{handler: Middleware(m)(mux), reader: reader, spans: exp, logs: logs}
}

func (e *opsEnv) get(path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_LogLevelFollowsStatus(t *testing.T) {
	env := newOpsEnv(t)

	tests := []struct {
		path       string
		wantStatus int
		wantLevel  slog.Level
	}{
		{"/healthz", http.StatusOK, slog.LevelDebug},
		{"/metrics", http.StatusOK, slog.LevelDebug},
		{"/readyz", http.StatusServiceUnavailable, slog.LevelWarn},
		{"/boom", http.StatusInternalServerError, slog.LevelWarn},
		{"/missing", http.StatusNotFound, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if rec := env.get(tt.path, nil); rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			r, ok := env.logs.requestLog(tt.path)
			if !ok {
				t.Fatal("no request log line")
			}
			if r.Level != tt.wantLevel {
				t.Errorf("level = %v, want %v", r.Level, tt.wantLevel)
			}
			var status int64
			r.Attrs(func(a slog.Attr) bool {
				if a.Key == "status" {
					status = a.Value.Int64()
				}
				return true
			})
			if status != int64(tt.wantStatus) {
				t.Errorf("logged status = %d, want %d", status, tt.wantStatus)
			}
		})
	}
}

func TestMiddleware_SpanPerEndpoint(t *testing.T) {
	env := newOpsEnv(t)
	env.get("/readyz", nil)

	spans := env.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "HTTP GET /readyz" {
		t.Errorf("span name = %q", span.Name)
	}
	want := map[attribute.Key]attribute.Value{
		"http.request.method":       attribute.StringValue("GET"),
		"url.path":                  attribute.StringValue("/readyz"),
		"http.response.status_code": attribute.IntValue(http.StatusServiceUnavailable),
	}
	for _, kv := range span.Attributes {
		if v, ok := want[kv.Key]; ok {
			if v != kv.Value {
				t.Errorf("attribute %s = %v, want %v", kv.Key, kv.Value.Emit(), v.Emit())
			}
			delete(want, kv.Key)
		}
	}
	for k := range want {
		t.Errorf("span missing attribute %s", k)
	}
}

func TestMiddleware_DurationPerPath(t *testing.T) {
	env := newOpsEnv(t)
	for range 3 {
		env.get("/metrics", nil)
	}
	env.get("/healthz", nil)

	var rm metricdata.ResourceMetrics
	if err := env.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "vadscribe.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want histogram", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		method, _ := dp.Attributes.Value("method")
		if method.AsString() != "GET" {
			t.Errorf("method attribute = %q", method.AsString())
		}
		counts[path.AsString()] += dp.Count
	}
	if counts["/metrics"] != 3 || counts["/healthz"] != 1 {
		t.Errorf("samples per path = %v, want /metrics:3 /healthz:1", counts)
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	env := newOpsEnv(t)

	t.Run("generated", func(t *testing.T) {
		rec := env.get("/healthz", nil)
		if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
			t.Errorf("X-Correlation-ID = %q, want a 32 character trace ID", cid)
		}
	})

	t.Run("from traceparent", func(t *testing.T) {
		const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
		rec := env.get("/readyz", http.Header{
			"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
		})
		if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
			t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
		}
		r, ok := env.logs.requestLog("/readyz")
		if !ok {
			t.Fatal("no request log line")
		}
		var logged string
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "trace_id" {
				logged = a.Value.String()
			}
			return true
		})
		if logged != traceID {
			t.Errorf("logged trace_id = %q, want %q", logged, traceID)
		}
	})
}
