package server

import (
	"io"
	"log/slog"

	"github.com/fabian4/peaudiosys-gateway/internal/config"
)

// NewLogger builds the process logger for c.
func NewLogger(w io.Writer, c config.Log) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
