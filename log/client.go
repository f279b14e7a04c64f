package log

import (
	"context"
	"log/slog"

	"cloud.google.com/go/logging"
)

// ClientHandler sends records through the Cloud Logging API instead of stdout.
// Used when the process does not run inside a log-scraping runtime.
type ClientHandler struct {
	logger *logging.Logger
	attrs  []slog.Attr
	level  slog.Leveler
}

func NewClientHandler(ctx context.Context, projectID, logID string, level slog.Leveler) (*ClientHandler, func() error, error) {
	client, err := logging.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	h := &ClientHandler{logger: client.Logger(logID), level: level}
	return h, client.Close, nil
}

func (h *ClientHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ClientHandler) Handle(ctx context.Context, r slog.Record) error {
	payload := map[string]any{"message": r.Message}
	for _, attr := range h.attrs {
		payload[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(attr slog.Attr) bool {
		payload[attr.Key] = attr.Value.Any()
		return true
	})
	h.logger.Log(logging.Entry{
		Timestamp: r.Time,
		Severity:  logging.ParseSeverity(severity(r.Level)),
		Trace:     TraceID(ctx),
		Payload:   payload,
	})
	return nil
}

func (h *ClientHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &ClientHandler{logger: h.logger, attrs: newAttrs, level: h.level}
}

func (h *ClientHandler) WithGroup(_ string) slog.Handler {
	return h
}
