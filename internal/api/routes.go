package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bennhub/groove-slider-app/internal/assets"
	"github.com/bennhub/groove-slider-app/internal/config"
	"github.com/bennhub/groove-slider-app/internal/export"
	"github.com/bennhub/groove-slider-app/internal/project"
	"github.com/bennhub/groove-slider-app/internal/render"
	"github.com/bennhub/groove-slider-app/internal/timing"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	uploadLimit := UploadLimitMiddleware(2, 5)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/projects", listProjectsHandler(cfg))
		r.Post("/projects", createProjectHandler(cfg))
		r.Get("/projects/{id}", getProjectHandler(cfg))
		r.Delete("/projects/{id}", deleteProjectHandler(cfg))
		r.Patch("/projects/{id}/settings", updateSettingsHandler(cfg))

		r.With(uploadLimit).Post("/projects/{id}/slides", addSlideHandler(cfg))
		r.Put("/projects/{id}/slides/order", reorderSlidesHandler(cfg))
		r.Delete("/projects/{id}/slides/{slideID}", removeSlideHandler(cfg))

		r.With(uploadLimit).Put("/projects/{id}/audio", setAudioHandler(cfg))
		r.With(uploadLimit).Put("/projects/{id}/audio/track", setAudioFromTrackHandler(cfg))
		r.Delete("/projects/{id}/audio", removeAudioHandler(cfg))

		r.Get("/tracks/search", searchTracksHandler(cfg))

		r.Post("/projects/{id}/export", startExportHandler(cfg))
		r.Get("/projects/{id}/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Post("/exports/{id}/cancel", cancelExportHandler(cfg))
		r.Get("/exports/{id}/preview", previewExportHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		projects, _ := cfg.Projects.ListProjects(ctx)

		state := "idle"
		var activeExport *ExportResponse
		if job := cfg.Orchestrator.Active(); job != nil {
			select {
			case <-job.Done():
				// finished; still report the last record below
			default:
				state = "exporting"
			}
			if record, err := cfg.Repository.GetExport(ctx, job.ID); err == nil && record != nil {
				resp := ExportToResponse(record)
				activeExport = &resp
			}
		}

		resp := StatusResponse{
			State:         state,
			ProjectsCount: len(projects),
			ActiveExport:  activeExport,
		}

		if cfg.Doctor != nil {
			caps := cfg.Doctor.Get(ctx)
			resp.Encoder = CapabilitiesToResponse(cfg.EngineName, cfg.ContainerExt, caps)
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.Projects.ListProjects(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list projects", "INTERNAL_ERROR")
			return
		}

		resp := ProjectsResponse{Projects: make([]ProjectResponse, len(projects))}
		for i, p := range projects {
			resp.Projects[i] = ProjectToResponse(p)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.Name == "" {
			WriteError(w, http.StatusBadRequest, "name is required", "BAD_REQUEST")
			return
		}

		p, err := cfg.Projects.CreateProject(r.Context(), req.Name, req.Resolution, req.FitMode)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusCreated, ProjectToResponse(p))
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		p, err := cfg.Projects.GetProject(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if p == nil {
			WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			return
		}

		slides, err := cfg.Projects.ListSlides(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := ProjectDetailResponse{
			ProjectResponse: ProjectToResponse(p),
			Slides:          make([]SlideResponse, len(slides)),
		}
		for i, s := range slides {
			resp.Slides[i] = SlideToResponse(s)
		}

		if audio, err := cfg.Projects.GetAudio(r.Context(), id); err == nil && audio != nil {
			a := AudioToResponse(audio)
			resp.Audio = &a
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := cfg.Projects.DeleteProject(r.Context(), id); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func updateSettingsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req UpdateSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		p, err := cfg.Projects.UpdateSettings(r.Context(), id, project.SettingsParams{
			Name:               req.Name,
			Resolution:         req.Resolution,
			FitMode:            req.FitMode,
			TempoBPM:           req.TempoBPM,
			Subdivision:        req.Subdivision,
			LoopEnabled:        req.LoopEnabled,
			LoopTargetDuration: req.LoopTargetDuration,
		})
		if err != nil {
			switch {
			case errors.Is(err, project.ErrProjectNotFound):
				WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			case errors.Is(err, timing.ErrTempoOutOfRange),
				errors.Is(err, assets.ErrUnsupportedResolution):
				WriteError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			default:
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			}
			return
		}

		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func addSlideHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, cfg.UploadMaxBytes)
		file, header, err := r.FormFile("image")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "image file is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		slide, err := cfg.Projects.AddSlide(r.Context(), id, header.Filename, file)
		if err != nil {
			if errors.Is(err, project.ErrProjectNotFound) {
				WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusCreated, SlideToResponse(slide))
	}
}

func reorderSlidesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req ReorderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if len(req.SlideIDs) == 0 {
			WriteError(w, http.StatusBadRequest, "slide_ids is required", "BAD_REQUEST")
			return
		}

		if err := cfg.Projects.ReorderSlides(r.Context(), id, req.SlideIDs); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func removeSlideHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		slideID := chi.URLParam(r, "slideID")

		if err := cfg.Projects.RemoveSlide(r.Context(), id, slideID); err != nil {
			WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func setAudioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, cfg.UploadMaxBytes)
		file, header, err := r.FormFile("audio")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "audio file is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		startOffset := 0.0
		if v := r.FormValue("start_offset_s"); v != "" {
			startOffset, err = strconv.ParseFloat(v, 64)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid start_offset_s", "BAD_REQUEST")
				return
			}
		}

		tempoBPM := 0.0
		if v := r.FormValue("tempo_bpm"); v != "" {
			tempoBPM, err = strconv.ParseFloat(v, 64)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid tempo_bpm", "BAD_REQUEST")
				return
			}
		}

		audio, err := cfg.Projects.SetAudio(r.Context(), id, header.Filename, file, startOffset, tempoBPM)
		if err != nil {
			if errors.Is(err, project.ErrProjectNotFound) {
				WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusOK, AudioToResponse(audio))
	}
}

func setAudioFromTrackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req SetAudioFromTrackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.StreamURL == "" {
			WriteError(w, http.StatusBadRequest, "stream_url is required", "BAD_REQUEST")
			return
		}

		stream, err := cfg.Tracks.Fetch(r.Context(), req.StreamURL)
		if err != nil {
			WriteError(w, http.StatusBadGateway, "track stream fetch failed", "UPSTREAM_ERROR")
			return
		}
		defer stream.Close()

		audio, err := cfg.Projects.SetAudio(r.Context(), id, trackFileName(req.Title, req.StreamURL), stream, req.StartOffsetS, req.BPM)
		if err != nil {
			if errors.Is(err, project.ErrProjectNotFound) {
				WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusOK, AudioToResponse(audio))
	}
}

// trackFileName derives a storable file name for a catalog track. The stream
// URL's extension wins when it is a known audio type; catalog streams without
// one are mp3 in practice.
func trackFileName(title, streamURL string) string {
	ext := ".mp3"
	if u, err := url.Parse(streamURL); err == nil && project.IsAudioFile(u.Path) {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	base := strings.TrimSpace(title)
	if base == "" {
		base = "track"
	}
	return base + ext
}

func removeAudioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := cfg.Projects.RemoveAudio(r.Context(), id); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func searchTracksHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			WriteError(w, http.StatusBadRequest, "q is required", "BAD_REQUEST")
			return
		}

		results, err := cfg.Tracks.Search(r.Context(), query)
		if err != nil {
			WriteError(w, http.StatusBadGateway, "track search failed", "UPSTREAM_ERROR")
			return
		}

		resp := TracksResponse{Tracks: make([]TrackResponse, len(results))}
		for i, t := range results {
			resp.Tracks[i] = TrackToResponse(t)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req StartExportRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		snap, err := cfg.Projects.PrepareExport(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, project.ErrProjectNotFound):
				WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			case errors.Is(err, assets.ErrUnreadableImage):
				WriteError(w, http.StatusUnprocessableEntity, err.Error(), "ASSET_ERROR")
			default:
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			}
			return
		}

		job, err := cfg.Orchestrator.Start(r.Context(), snap, export.Request{FileName: req.FileName})
		if err != nil {
			switch {
			case errors.Is(err, export.ErrExportInFlight):
				WriteError(w, http.StatusConflict, err.Error(), "EXPORT_IN_FLIGHT")
			case errors.Is(err, export.ErrInvalidFileName),
				errors.Is(err, export.ErrDurationCap),
				errors.Is(err, render.ErrNoSlides),
				errors.Is(err, render.ErrInvalidDuration):
				WriteError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			default:
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			}
			return
		}

		WriteJSON(w, http.StatusAccepted, StartExportResponse{ExportID: job.ID})
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		records, err := cfg.Repository.ListExports(r.Context(), id, 20)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}

		resp := make([]ExportResponse, len(records))
		for i, e := range records {
			resp[i] = ExportToResponse(e)
		}
		WriteJSON(w, http.StatusOK, map[string][]ExportResponse{"exports": resp})
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		record, err := cfg.Repository.GetExport(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if record == nil {
			WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, ExportToResponse(record))
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job := cfg.Orchestrator.Active()
		if job != nil && job.ID == id {
			job.Cancel()
			WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
			return
		}

		record, err := cfg.Repository.GetExport(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if record == nil {
			WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
			return
		}

		WriteError(w, http.StatusConflict, "export is not running", "NOT_RUNNING")
	}
}

func previewExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		record, err := cfg.Repository.GetExport(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if record == nil {
			WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
			return
		}
		if record.Status != project.ExportStatusCompleted || record.OutputPath == "" {
			WriteError(w, http.StatusConflict, "export has no output yet", "NOT_READY")
			return
		}

		if err := cfg.Preview.ServeFile(w, r, record.OutputPath); err != nil {
			cfg.Logger.Error("preview error", "error", err, "export_id", id)
		}
	}
}
