// Package export coordinates one export job at a time: it validates the
// request, plans loops against the duration cap, runs the render pipeline on
// a project snapshot, and hands the finished container to the save
// collaborator. Every pipeline failure is converted to a user-facing outcome
// here; nothing internal escapes to the API layer.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bennhub/groove-slider-app/internal/logging"
	"github.com/bennhub/groove-slider-app/internal/project"
	"github.com/bennhub/groove-slider-app/internal/render"
)

var (
	// ErrExportInFlight rejects a second export while one is live.
	ErrExportInFlight = errors.New("an export is already running")
	// ErrDurationCap rejects a plan that overruns the hard duration cap.
	ErrDurationCap = errors.New("export duration exceeds the limit")
	// ErrInvalidFileName rejects a bad output file name.
	ErrInvalidFileName = errors.New("invalid file name")
)

// Request is one export request.
type Request struct {
	// FileName is the desired output name; empty derives one from the
	// project title.
	FileName string
}

// Job is one live export. Cancel is safe to call at any time from any
// goroutine; the pipeline polls the flag between stages and slides.
type Job struct {
	ID        string
	ProjectID string

	cancelled atomic.Bool
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// Cancel requests cooperative cancellation. In-flight engine commands may
// finish; no further stages begin.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err returns the job's terminal error (nil on success, render.ErrCancelled
// on cancellation). Only meaningful after Done is closed.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
	close(j.done)
}

// ProgressFunc mirrors the pipeline's progress callback, tagged with the job.
type ProgressFunc func(jobID string, percent int, stage render.Stage, message string)

// Orchestrator owns the single outstanding export job.
type Orchestrator struct {
	pipeline   *render.Pipeline
	repo       project.Repository
	saver      Saver
	hardCap    float64
	logger     *slog.Logger
	onProgress ProgressFunc // optional, for tray/status fan-out

	mu     sync.Mutex
	active *Job
}

func NewOrchestrator(pipeline *render.Pipeline, repo project.Repository, saver Saver, hardCapSeconds float64, logger *slog.Logger) *Orchestrator {
	if hardCapSeconds <= 0 {
		hardCapSeconds = render.DefaultHardCapSeconds
	}
	return &Orchestrator{
		pipeline: pipeline,
		repo:     repo,
		saver:    saver,
		hardCap:  hardCapSeconds,
		logger:   logger,
	}
}

// SetProgressListener registers an extra progress observer. Must be called
// before the first Start.
func (o *Orchestrator) SetProgressListener(fn ProgressFunc) {
	o.onProgress = fn
}

// Active returns the live job, or nil.
func (o *Orchestrator) Active() *Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Start validates the request and launches the export in the background.
// Validation failures return synchronously; everything after that is
// reported through the persisted export record and the progress listener.
func (o *Orchestrator) Start(ctx context.Context, snap *project.Snapshot, req Request) (*Job, error) {
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = SanitizeName(snap.ProjectName, maxFileNameLen)
		if fileName == "" {
			fileName = "slideshow"
		}
	}
	if err := ValidateFileName(fileName); err != nil {
		return nil, err
	}

	plan, err := render.PlanLoops(len(snap.Slides), snap.PerSlideDuration, snap.LoopEnabled, snap.LoopTarget)
	if err != nil {
		return nil, err
	}
	// Single authoritative cap check; the pipeline never re-derives it.
	if plan.Exceeds(o.hardCap) {
		return nil, fmt.Errorf("%w: %.0fs > %.0fs", ErrDurationCap, plan.EffectiveTotalDuration, o.hardCap)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil {
		select {
		case <-o.active.done:
			// Previous job finished; slot is free.
		default:
			return nil, ErrExportInFlight
		}
	}

	job := &Job{
		ID:        project.NewID(),
		ProjectID: snap.ProjectID,
		done:      make(chan struct{}),
	}

	now := time.Now().UTC()
	record := &project.ExportRecord{
		ID:        job.ID,
		ProjectID: snap.ProjectID,
		Status:    project.ExportStatusPending,
		FileName:  fileName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.repo.CreateExport(ctx, record); err != nil {
		return nil, fmt.Errorf("create export record: %w", err)
	}

	o.active = job

	o.logger.Info("export started",
		"export_id", job.ID,
		"project_id", snap.ProjectID,
		"slides", len(snap.Slides),
		"loops", plan.LoopCount,
		"duration_s", plan.EffectiveTotalDuration,
	)

	go o.run(job, snap, plan, fileName)

	return job, nil
}

// run executes the job to a terminal state. It uses a background context so
// the job outlives the HTTP request that started it; cancellation goes
// through the cooperative flag only, letting in-flight engine commands
// finish.
func (o *Orchestrator) run(job *Job, snap *project.Snapshot, plan render.LoopPlan, fileName string) {
	ctx := context.Background()
	logger := logging.WithExportID(o.logger, job.ID)

	o.repo.UpdateExportStatus(ctx, job.ID, project.ExportStatusRunning, "")

	in := render.Input{
		Resolution:       snap.Resolution,
		FitMode:          snap.FitMode,
		PerSlideDuration: snap.PerSlideDuration,
		Slides:           make([]render.SlideInput, len(snap.Slides)),
	}
	for i, s := range snap.Slides {
		in.Slides[i] = render.SlideInput{SlideID: s.SlideID, NormalizedPath: s.NormalizedPath}
	}
	if snap.Audio != nil {
		in.Audio = &render.AudioInput{
			Path:               snap.Audio.Path,
			StartOffsetSeconds: snap.Audio.StartOffsetSeconds,
		}
	}

	progress := func(percent int, stage render.Stage, message string) {
		o.repo.UpdateExportProgress(ctx, job.ID, percent, string(stage))
		if o.onProgress != nil {
			o.onProgress(job.ID, percent, stage, message)
		}
	}

	result, err := o.pipeline.Run(ctx, job.ID, in, plan, job.cancelled.Load, progress)
	if err != nil {
		if errors.Is(err, render.ErrCancelled) {
			logger.Info("export cancelled")
			o.repo.UpdateExportStatus(ctx, job.ID, project.ExportStatusCancelled, "")
			job.finish(err)
			return
		}
		msg := userMessage(err)
		logger.Error("export failed", "error", err)
		o.repo.UpdateExportStatus(ctx, job.ID, project.ExportStatusFailed, msg)
		job.finish(err)
		return
	}

	outName := withContainerExt(fileName, result.ContainerExt)
	outputPath, err := o.saver.Save(outName, result.Output)
	if err != nil {
		logger.Error("export save failed", "error", err)
		o.repo.UpdateExportStatus(ctx, job.ID, project.ExportStatusFailed, "could not save the exported video")
		job.finish(err)
		return
	}

	o.repo.UpdateExportResult(ctx, job.ID, outputPath, result.Warning)
	o.repo.UpdateExportStatus(ctx, job.ID, project.ExportStatusCompleted, "")

	logger.Info("export complete", "output", outputPath, "bytes", len(result.Output), "warning", result.Warning)
	job.finish(nil)
}

// userMessage maps pipeline failures to the three user-distinguishable
// outcomes the UI shows.
func userMessage(err error) string {
	switch {
	case errors.Is(err, render.ErrAssetLoad):
		return "a slide image could not be loaded"
	case errors.Is(err, render.ErrEngineInit):
		return "the video encoder could not be started"
	default:
		return "video encoding failed"
	}
}
