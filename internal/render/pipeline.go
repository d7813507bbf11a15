package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Progress boundaries per stage. Encoding dominates the work, so it owns the
// first 60 points; the remainder is split across concat, mux and finalize.
const (
	progressEncodeEnd   = 60
	progressConcatEnd   = 70
	progressMuxEnd      = 90
	progressFinalizeEnd = 100
)

// Pipeline runs one export through the fixed stage sequence against a single
// encoder session. Cancellation is cooperative: the flag is polled between
// every stage and every slide iteration, so an in-flight engine command may
// finish but nothing further is issued.
type Pipeline struct {
	engine Engine
	logger *slog.Logger
}

func NewPipeline(engine Engine, logger *slog.Logger) *Pipeline {
	return &Pipeline{engine: engine, logger: logger}
}

// EngineName reports the active engine for status endpoints.
func (p *Pipeline) EngineName() string { return p.engine.Name() }

// Run executes the pipeline for one job. The cancelled func is polled at
// every suspend point; a true return stops the job with ErrCancelled and no
// output. All intermediate artifacts are removed on every exit path.
func (p *Pipeline) Run(ctx context.Context, jobID string, in Input, plan LoopPlan, cancelled func() bool, progress ProgressFunc) (*Result, error) {
	report := newMonotonicReporter(progress)

	report(0, StagePreparing, "preparing encoder")

	session, err := p.engine.Acquire(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
	}
	defer session.Release()

	if cancelled() {
		return nil, ErrCancelled
	}

	// EncodingSlides: each unique slide is encoded once; loop passes are
	// applied as repeated references at concatenation, never by re-encoding.
	clipRefs := make([]string, len(in.Slides))
	for i, slide := range in.Slides {
		if cancelled() {
			return nil, ErrCancelled
		}

		if _, err := os.Stat(slide.NormalizedPath); err != nil {
			return nil, fmt.Errorf("%w: slide %d: %v", ErrAssetLoad, i+1, err)
		}

		report(i*progressEncodeEnd/len(in.Slides), StageEncodingSlides,
			fmt.Sprintf("encoding slide %d of %d", i+1, len(in.Slides)))

		ref, err := session.EncodeClip(ctx, ClipSpec{
			Index:      i,
			ImagePath:  slide.NormalizedPath,
			Duration:   in.PerSlideDuration,
			Resolution: in.Resolution,
			FitMode:    in.FitMode,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: slide %d: %v", ErrEncode, i+1, err)
		}
		clipRefs[i] = ref
	}

	if cancelled() {
		return nil, ErrCancelled
	}
	report(progressEncodeEnd, StageConcatenating, "joining slides")

	refs := make([]string, 0, plan.LoopCount*len(clipRefs))
	for pass := 0; pass < plan.LoopCount; pass++ {
		refs = append(refs, clipRefs...)
	}

	videoPath, err := session.Concatenate(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("%w: concat: %v", ErrEncode, err)
	}

	if cancelled() {
		return nil, ErrCancelled
	}
	report(progressConcatEnd, StageMuxingAudio, "adding music")

	finalPath := videoPath
	warning := ""
	if in.Audio != nil {
		muxed, err := session.MuxAudio(ctx, videoPath, *in.Audio)
		if err != nil {
			// Audio problems never fail the job: export silent video and
			// surface a warning instead.
			warning = "audio could not be processed; exported without sound"
			p.logger.Warn("audio mux failed, continuing without audio",
				"job_id", jobID, "error", err)
		} else {
			finalPath = muxed
		}
	}

	if cancelled() {
		return nil, ErrCancelled
	}
	report(progressMuxEnd, StageFinalizing, "finalizing video")

	data, err := os.ReadFile(finalPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrEncode, err)
	}

	report(progressFinalizeEnd, StageComplete, "export complete")

	return &Result{
		Output:       data,
		ContainerExt: p.engine.ContainerExt(),
		Warning:      warning,
	}, nil
}

// newMonotonicReporter wraps a ProgressFunc so reported percentages never go
// backwards within a job.
func newMonotonicReporter(progress ProgressFunc) ProgressFunc {
	last := -1
	return func(percent int, stage Stage, message string) {
		if progress == nil {
			return
		}
		if percent < last {
			percent = last
		}
		last = percent
		progress(percent, stage, message)
	}
}
