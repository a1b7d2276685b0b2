package pipeline

import (
	"context"
	"time"

	"github.com/grabbit/grabbit/internal/events"
	"github.com/grabbit/grabbit/internal/metadata"
	"github.com/grabbit/grabbit/internal/models"
	"github.com/grabbit/grabbit/internal/recovery"
)

// ProcessStage persists metadata for every successful download. Embedding
// into the media file is attempted first; formats that cannot carry metadata
// degrade to a sidecar-only result instead of failing the post.
type ProcessStage struct {
	Writer  *metadata.Writer
	Workers int
}

func (s *ProcessStage) Name() string { return "process" }

func (s *ProcessStage) Run(ctx context.Context, pc *Context) error {
	downloads := pc.SuccessfulDownloads()

	return forEach(ctx, s.Workers, len(downloads), func(unitCtx context.Context, i int) {
		s.processOne(unitCtx, pc, downloads[i])
	})
}

func (s *ProcessStage) processOne(ctx context.Context, pc *Context, dl models.DownloadResult) {
	post, ok := pc.PostByID(dl.PostID)
	if !ok {
		pc.Logger.Warn("download without matching post", "post_id", dl.PostID)
		return
	}
	md := metadata.FromPost(post)
	start := time.Now()

	var result metadata.Result
	res := pc.Recovery.Execute(ctx, recovery.Operation{
		Name:      "write-metadata",
		Stage:     s.Name(),
		PostID:    post.ID,
		DegradeOn: []recovery.ErrKind{recovery.KindPermanent},
		Run: func(ctx context.Context) error {
			if err := s.Writer.Embed(dl.LocalPath, md); err != nil {
				return err
			}
			sidecar, err := s.Writer.WriteSidecar(dl.LocalPath, md)
			if err != nil {
				return err
			}
			result = metadata.Result{Embedded: true, SidecarWritten: true, SidecarPath: sidecar}
			return nil
		},
		Fallback: func(ctx context.Context, cause error) error {
			sidecar, err := s.Writer.WriteSidecar(dl.LocalPath, md)
			if err != nil {
				return err
			}
			result = metadata.Result{SidecarWritten: true, SidecarPath: sidecar}
			return nil
		},
	})

	processed := events.PostProcessed{
		PostID:           post.ID,
		Stage:            s.Name(),
		Success:          res.Succeeded(),
		Operations:       []string{"write-metadata"},
		MetadataEmbedded: result.Embedded,
		SidecarWritten:   result.SidecarWritten,
		Degraded:         res.Degraded,
		Duration:         time.Since(start),
	}
	if !res.Succeeded() && res.Err != nil {
		processed.Error = res.Err.Error()
	}
	pc.RecordOutcome(s.Name(), res.Succeeded())
	pc.Publish(processed)
}
