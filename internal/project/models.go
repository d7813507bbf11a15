// Package project holds the slideshow data model and its SQLite persistence:
// ordered slides, an optional audio track, and export job records.
package project

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bennhub/groove-slider-app/internal/assets"
	"github.com/bennhub/groove-slider-app/internal/timing"
)

// Project is a slideshow: ordered slides plus playback/export settings.
type Project struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Resolution         assets.Resolution  `json:"-"`
	ResolutionStr      string             `json:"resolution"`
	FitMode            assets.FitMode     `json:"fit_mode"`
	TempoBPM           float64            `json:"tempo_bpm"`
	Subdivision        timing.Subdivision `json:"subdivision"`
	LoopEnabled        bool               `json:"loop_enabled"`
	LoopTargetDuration float64            `json:"loop_target_duration"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Slide is one image in the sequence. The normalized asset is produced once
// and cached; NormalizedPath is checked against the current cache key at
// export time, so a resolution or fit-mode change invalidates it.
type Slide struct {
	ID                   string    `json:"id"`
	ProjectID            string    `json:"project_id"`
	Position             int       `json:"position"`
	SourcePath           string    `json:"-"`
	Fingerprint          string    `json:"fingerprint"`
	DurationSeconds      float64   `json:"duration_seconds"`
	NormalizedPath       string    `json:"-"`
	NormalizedResolution string    `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
}

// AudioTrack is the project's music. Replaced wholesale on re-upload; never
// partially mutated.
type AudioTrack struct {
	ProjectID          string    `json:"project_id"`
	Path               string    `json:"-"`
	Title              string    `json:"title"`
	StartOffsetSeconds float64   `json:"start_offset_seconds"`
	TempoBPM           float64   `json:"tempo_bpm,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

const (
	ExportStatusPending   = "pending"
	ExportStatusRunning   = "running"
	ExportStatusCompleted = "completed"
	ExportStatusFailed    = "failed"
	ExportStatusCancelled = "cancelled"
)

// ExportRecord is the persisted view of one export job, polled by the UI.
type ExportRecord struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Progress   int       `json:"progress"`
	FileName   string    `json:"file_name"`
	OutputPath string    `json:"output_path,omitempty"`
	Warning    string    `json:"warning,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Snapshot is an immutable copy of everything an export needs, taken at
// export start so concurrent edits cannot touch an in-flight render.
type Snapshot struct {
	ProjectID        string
	ProjectName      string
	Resolution       assets.Resolution
	FitMode          assets.FitMode
	PerSlideDuration float64
	LoopEnabled      bool
	LoopTarget       float64
	Slides           []SnapshotSlide
	Audio            *SnapshotAudio
}

// SnapshotSlide carries only what the render pipeline consumes.
type SnapshotSlide struct {
	SlideID        string
	NormalizedPath string
}

// SnapshotAudio carries the audio inputs for muxing.
type SnapshotAudio struct {
	Path               string
	StartOffsetSeconds float64
}

func NewID() string {
	return uuid.NewString()
}

var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

var AudioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
	".ogg":  true,
	".flac": true,
}

func IsImageFile(filename string) bool {
	return ImageExtensions[lowerExt(filename)]
}

func IsAudioFile(filename string) bool {
	return AudioExtensions[lowerExt(filename)]
}

func lowerExt(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx:])
}

func fitModeFromString(s string) assets.FitMode {
	if m, err := assets.ParseFitMode(s); err == nil {
		return m
	}
	return assets.FitContain
}

func subdivisionFromFloat(f float64) timing.Subdivision {
	if s := timing.Subdivision(f); s.Valid() {
		return s
	}
	return timing.SubdivisionBar
}
