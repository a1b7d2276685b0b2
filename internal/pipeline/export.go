package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grabbit/grabbit/internal/events"
	"github.com/grabbit/grabbit/internal/export"
)

// ExportStage renders the session report from the events recorded so far and
// writes it into the output directory.
type ExportStage struct {
	Recorder *events.Recorder
}

func (s *ExportStage) Name() string { return "export" }

func (s *ExportStage) Run(ctx context.Context, pc *Context) error {
	data, err := export.Render(s.Recorder.Events())
	if err != nil {
		return err
	}
	path := filepath.Join(pc.OutputDir, "report.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	pc.Logger.Info("report written", "path", path)
	return nil
}
