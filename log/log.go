package log

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const traceLogField = "logging.googleapis.com/trace"

type (
	ctxKey   struct{}
	traceKey struct{}
)

// CloudLoggingHandler is a slog.Handler writing Google Cloud structured log lines.
type CloudLoggingHandler struct {
	attrs []slog.Attr
	level slog.Leveler
	mu    *sync.Mutex
	out   io.Writer
}

// NewCloudLoggingHandler creates a new handler that writes logs in Google Cloud structured format to stdout.
func NewCloudLoggingHandler() *CloudLoggingHandler {
	return NewCloudLoggingHandlerTo(os.Stdout, slog.LevelInfo)
}

func NewCloudLoggingHandlerTo(out io.Writer, level slog.Leveler) *CloudLoggingHandler {
	return &CloudLoggingHandler{level: level, mu: &sync.Mutex{}, out: out}
}

// Handle processes log records.
func (h *CloudLoggingHandler) Handle(ctx context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	entry := map[string]any{
		"severity": severity(r.Level),
		"time":     ts.Format(time.RFC3339),
		"message":  r.Message,
	}

	if traceID := TraceID(ctx); traceID != "" {
		entry[traceLogField] = traceID
	}

	// handler attributes first, record attributes override them
	for _, attr := range h.attrs {
		entry[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(attr slog.Attr) bool {
		entry[attr.Key] = attr.Value.Any()
		return true
	})

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(append(jsonData, '\n'))
	return err
}

func (h *CloudLoggingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// WithAttrs returns a new handler with additional attributes.
func (h *CloudLoggingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &CloudLoggingHandler{attrs: newAttrs, level: h.level, mu: h.mu, out: h.out}
}

// WithGroup returns the same handler, as grouping is not implemented.
func (h *CloudLoggingHandler) WithGroup(_ string) slog.Handler {
	return h
}

// severity maps slog levels to Cloud Logging severities.
func severity(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTraceID stores the Cloud Trace resource name for the request.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceKey{}).(string)
	return traceID
}

// TraceFromHeader converts an X-Cloud-Trace-Context header value
// ("TRACE_ID/SPAN_ID;o=1") into a trace resource name.
func TraceFromHeader(projectID, header string) string {
	if header == "" || projectID == "" {
		return ""
	}
	traceID, _, _ := strings.Cut(header, "/")
	if traceID == "" {
		return ""
	}
	return "projects/" + projectID + "/traces/" + traceID
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.New(NewCloudLoggingHandler())
}
