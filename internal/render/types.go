// Package render drives an external encoding engine through the fixed export
// pipeline: per-slide clip synthesis, concatenation, audio muxing and the
// final container read-back. The engine is a serially-reusable collaborator:
// one session per job, never shared concurrently.
package render

import (
	"context"
	"errors"

	"github.com/bennhub/groove-slider-app/internal/assets"
)

// Stage is one state of the export pipeline state machine.
type Stage string

const (
	StageIdle           Stage = "idle"
	StagePreparing      Stage = "preparing"
	StageEncodingSlides Stage = "encoding_slides"
	StageConcatenating  Stage = "concatenating"
	StageMuxingAudio    Stage = "muxing_audio"
	StageFinalizing     Stage = "finalizing"
	StageComplete       Stage = "complete"
	StageCancelled      Stage = "cancelled"
	StageFailed         Stage = "failed"
)

var (
	// ErrCancelled reports a user-initiated cancellation, not a failure.
	ErrCancelled = errors.New("export cancelled")
	// ErrEngineInit reports that the encoding engine could not be prepared.
	ErrEngineInit = errors.New("encoder initialization failed")
	// ErrEncode reports an unrecoverable engine command failure.
	ErrEncode = errors.New("encode failed")
	// ErrAssetLoad reports an input asset that could not be read.
	ErrAssetLoad = errors.New("asset load failed")
	// ErrAudioUnsupported is returned by engines that cannot mux audio; the
	// pipeline downgrades it to a silent-video warning.
	ErrAudioUnsupported = errors.New("audio muxing not supported by engine")
	// ErrEngineBusy reports an acquire attempt while a session is live.
	ErrEngineBusy = errors.New("encoder session already in use")
)

// FrameRate is the fixed output frame rate.
const FrameRate = 30

// Engine hands out scoped encoder sessions.
type Engine interface {
	// Name identifies the engine in logs and status reports.
	Name() string
	// ContainerExt is the output container extension ("mp4", "avi").
	ContainerExt() string
	// Acquire prepares the engine (idempotent across jobs) and opens a
	// session scoped to one export job. Returns ErrEngineBusy while another
	// session is live.
	Acquire(ctx context.Context, jobID string) (Session, error)
}

// Session is one job's view of the engine. Every intermediate artifact a
// session creates must be removed by Release, on all exit paths.
type Session interface {
	// EncodeClip synthesizes a fixed-duration video clip from one still image
	// and returns an opaque clip reference for Concatenate.
	EncodeClip(ctx context.Context, clip ClipSpec) (string, error)
	// Concatenate joins clip references, in order and with repetition, into a
	// single silent video and returns its path.
	Concatenate(ctx context.Context, clipRefs []string) (string, error)
	// MuxAudio muxes the audio track (from its start offset, truncated to the
	// shorter stream) against the video and returns the new container path.
	MuxAudio(ctx context.Context, videoPath string, audio AudioInput) (string, error)
	// Release deletes the session's working storage and frees the engine.
	Release() error
}

// ClipSpec describes one slide clip.
type ClipSpec struct {
	Index      int
	ImagePath  string
	Duration   float64
	Resolution assets.Resolution
	FitMode    assets.FitMode
}

// AudioInput describes the audio to mux.
type AudioInput struct {
	Path               string
	StartOffsetSeconds float64
}

// Input is the snapshot of everything one render consumes.
type Input struct {
	Resolution       assets.Resolution
	FitMode          assets.FitMode
	PerSlideDuration float64
	Slides           []SlideInput
	Audio            *AudioInput
}

// SlideInput is one normalized slide image.
type SlideInput struct {
	SlideID        string
	NormalizedPath string
}

// Result is a finished render: the container bytes and an optional non-fatal
// warning (silent-video downgrade).
type Result struct {
	Output       []byte
	ContainerExt string
	Warning      string
}

// ProgressFunc receives monotonic percentage updates with a stage and a
// human-readable message.
type ProgressFunc func(percent int, stage Stage, message string)
