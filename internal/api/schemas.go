package api

import (
	"time"

	"github.com/bennhub/groove-slider-app/internal/project"
	"github.com/bennhub/groove-slider-app/internal/render"
	"github.com/bennhub/groove-slider-app/internal/timing"
	"github.com/bennhub/groove-slider-app/internal/tracks"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State         string           `json:"state"`
	ProjectsCount int              `json:"projects_count"`
	ActiveExport  *ExportResponse  `json:"active_export,omitempty"`
	Encoder       *EncoderResponse `json:"encoder,omitempty"`
}

type EncoderResponse struct {
	Engine    string `json:"engine"`
	Container string `json:"container"`
	HasFFmpeg bool   `json:"has_ffmpeg"`
	Version   string `json:"version,omitempty"`
	ProbedAt  string `json:"probed_at,omitempty"`
}

type CreateProjectRequest struct {
	Name       string `json:"name"`
	Resolution string `json:"resolution,omitempty"`
	FitMode    string `json:"fit_mode,omitempty"`
}

// UpdateSettingsRequest uses pointers so absent fields are left untouched.
type UpdateSettingsRequest struct {
	Name               *string  `json:"name,omitempty"`
	Resolution         *string  `json:"resolution,omitempty"`
	FitMode            *string  `json:"fit_mode,omitempty"`
	TempoBPM           *float64 `json:"tempo_bpm,omitempty"`
	Subdivision        *float64 `json:"subdivision,omitempty"`
	LoopEnabled        *bool    `json:"loop_enabled,omitempty"`
	LoopTargetDuration *float64 `json:"loop_target_duration,omitempty"`
}

type ProjectResponse struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Resolution         string  `json:"resolution"`
	FitMode            string  `json:"fit_mode"`
	TempoBPM           float64 `json:"tempo_bpm"`
	Subdivision        float64 `json:"subdivision"`
	SlideDurationS     float64 `json:"slide_duration_s"`
	LoopEnabled        bool    `json:"loop_enabled"`
	LoopTargetDuration float64 `json:"loop_target_duration,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type ProjectDetailResponse struct {
	ProjectResponse
	Slides []SlideResponse `json:"slides"`
	Audio  *AudioResponse  `json:"audio,omitempty"`
}

type SlideResponse struct {
	ID          string  `json:"id"`
	Position    int     `json:"position"`
	Fingerprint string  `json:"fingerprint"`
	DurationS   float64 `json:"duration_s"`
	CreatedAt   string  `json:"created_at"`
}

type ReorderRequest struct {
	SlideIDs []string `json:"slide_ids"`
}

type AudioResponse struct {
	Title        string  `json:"title"`
	StartOffsetS float64 `json:"start_offset_s"`
	TempoBPM     float64 `json:"tempo_bpm,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// SetAudioFromTrackRequest attaches a catalog search result as the project's
// audio: the agent fetches the stream itself and caches the track's BPM as the
// tempo estimate.
type SetAudioFromTrackRequest struct {
	StreamURL    string  `json:"stream_url"`
	Title        string  `json:"title,omitempty"`
	BPM          float64 `json:"bpm,omitempty"`
	StartOffsetS float64 `json:"start_offset_s,omitempty"`
}

type StartExportRequest struct {
	FileName string `json:"file_name,omitempty"`
}

type StartExportResponse struct {
	ExportID string `json:"export_id"`
}

type ExportResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Status     string `json:"status"`
	Stage      string `json:"stage,omitempty"`
	Progress   int    `json:"progress"`
	FileName   string `json:"file_name"`
	OutputPath string `json:"output_path,omitempty"`
	Warning    string `json:"warning,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type TrackResponse struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist,omitempty"`
	StreamURL string  `json:"stream_url"`
	BPM       float64 `json:"bpm,omitempty"`
	DurationS float64 `json:"duration_s,omitempty"`
}

type TracksResponse struct {
	Tracks []TrackResponse `json:"tracks"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProjectToResponse(p *project.Project) ProjectResponse {
	duration, _ := timing.ComputeSlideDuration(p.TempoBPM, p.Subdivision)
	return ProjectResponse{
		ID:                 p.ID,
		Name:               p.Name,
		Resolution:         p.ResolutionStr,
		FitMode:            string(p.FitMode),
		TempoBPM:           p.TempoBPM,
		Subdivision:        float64(p.Subdivision),
		SlideDurationS:     duration,
		LoopEnabled:        p.LoopEnabled,
		LoopTargetDuration: p.LoopTargetDuration,
		CreatedAt:          p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          p.UpdatedAt.Format(time.RFC3339),
	}
}

func SlideToResponse(s *project.Slide) SlideResponse {
	return SlideResponse{
		ID:          s.ID,
		Position:    s.Position,
		Fingerprint: s.Fingerprint,
		DurationS:   s.DurationSeconds,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
	}
}

func AudioToResponse(a *project.AudioTrack) AudioResponse {
	return AudioResponse{
		Title:        a.Title,
		StartOffsetS: a.StartOffsetSeconds,
		TempoBPM:     a.TempoBPM,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
}

func ExportToResponse(e *project.ExportRecord) ExportResponse {
	return ExportResponse{
		ID:         e.ID,
		ProjectID:  e.ProjectID,
		Status:     e.Status,
		Stage:      e.Stage,
		Progress:   e.Progress,
		FileName:   e.FileName,
		OutputPath: e.OutputPath,
		Warning:    e.Warning,
		Error:      e.Error,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  e.UpdatedAt.Format(time.RFC3339),
	}
}

func TrackToResponse(t tracks.Track) TrackResponse {
	return TrackResponse{
		ID:        t.ID,
		Title:     t.Title,
		Artist:    t.Artist,
		StreamURL: t.StreamURL,
		BPM:       t.BPM,
		DurationS: t.DurationS,
	}
}

func CapabilitiesToResponse(engineName, container string, caps *render.Capabilities) *EncoderResponse {
	resp := &EncoderResponse{Engine: engineName, Container: container}
	if caps != nil {
		resp.HasFFmpeg = caps.HasFFmpeg
		resp.Version = caps.Version
		if !caps.ProbedAt.IsZero() {
			resp.ProbedAt = caps.ProbedAt.Format(time.RFC3339)
		}
	}
	return resp
}
