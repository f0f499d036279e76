package handler

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/fabian4/peaudiosys-gateway/internal/config"
)

type AccessLog struct {
	Time         time.Time
	RequestID    string
	Method       string
	Path         string
	Command      string
	Service      string
	Payload      string
	Outcome      string
	Status       int
	Duration     int64 // milliseconds
	RemoteIP     string
	BytesWritten int64
}

// AccessLogger writes one JSON line per request. A nil *AccessLogger drops entries.
type AccessLogger struct {
	logger   *slog.Logger
	sampling float64
	allowed  map[string]bool // nil => every field
}

// NewAccessLogger returns nil when access logging is disabled.
func NewAccessLogger(w io.Writer, c config.AccessLogConfig) *AccessLogger {
	if !c.Enabled || w == nil {
		return nil
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		// entries carry their own time; drop slog's built-in keys
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey || a.Key == slog.MessageKey) {
				return slog.Attr{}
			}
			return a
		},
	})
	al := &AccessLogger{logger: slog.New(h), sampling: c.Sampling}
	if len(c.Fields) > 0 {
		al.allowed = make(map[string]bool, len(c.Fields))
		for _, f := range c.Fields {
			al.allowed[f] = true
		}
	}
	return al
}

func (a *AccessLogger) Log(e AccessLog) {
	if a == nil {
		return
	}
	if a.sampling < 1.0 && rand.Float64() >= a.sampling {
		return
	}

	all := []slog.Attr{
		slog.Time("time", e.Time),
		slog.String("request_id", e.RequestID),
		slog.String("method", e.Method),
		slog.String("path", e.Path),
		slog.String("command", e.Command),
		slog.String("service", e.Service),
		slog.String("payload", e.Payload),
		slog.String("outcome", e.Outcome),
		slog.Int("status", e.Status),
		slog.Int64("duration_ms", e.Duration),
		slog.String("remote_ip", e.RemoteIP),
		slog.Int64("bytes_written", e.BytesWritten),
	}
	attrs := all
	if a.allowed != nil {
		attrs = attrs[:0:0]
		for _, at := range all {
			if a.allowed[at.Key] {
				attrs = append(attrs, at)
			}
		}
	}
	a.logger.LogAttrs(context.Background(), slog.LevelInfo, "", attrs...)
}
