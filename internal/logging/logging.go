package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/grabbit/grabbit/internal/config"
)

// New constructs a slog.Logger writing to w, configured according to the
// provided settings. The CLI logs to stderr so stdout stays free for rendered
// reports; tests pass a buffer.
func New(w io.Writer, cfg config.LoggingConfig) (*slog.Logger, error) {
	handler, err := buildHandler(w, cfg)
	if err != nil {
		return nil, err
	}

	return slog.New(handler), nil
}

func buildHandler(w io.Writer, cfg config.LoggingConfig) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	switch cfg.Format {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
}
