package tracks

import (
	"context"
	"log/slog"
)

// TempoDetector estimates the BPM of an audio file. Detection quality is the
// collaborator's concern; the agent only caches the returned estimate on the
// project's audio track.
type TempoDetector interface {
	DetectTempo(ctx context.Context, audioPath string) (float64, error)
}

// StubTempoDetector reports a fixed house-default tempo. Catalog tracks carry
// their own BPM, so this only backs locally uploaded audio with no estimate.
type StubTempoDetector struct {
	logger *slog.Logger
}

func NewStubTempoDetector(logger *slog.Logger) *StubTempoDetector {
	return &StubTempoDetector{logger: logger}
}

func (d *StubTempoDetector) DetectTempo(ctx context.Context, audioPath string) (float64, error) {
	d.logger.Info("tempo stub: detection requested, returning default", "path", audioPath)
	return 120, nil
}
