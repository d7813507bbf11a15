package project

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bennhub/groove-slider-app/internal/assets"
	"github.com/bennhub/groove-slider-app/internal/timing"
	"github.com/bennhub/groove-slider-app/internal/tracks"
)

// ErrProjectNotFound is returned when an operation names a project id with
// no matching row.
var ErrProjectNotFound = errors.New("project not found")

// ProjectService is the mutation and snapshot contract the API layer consumes.
type ProjectService interface {
	CreateProject(ctx context.Context, name, resolution, fitMode string) (*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	DeleteProject(ctx context.Context, id string) error
	UpdateSettings(ctx context.Context, id string, params SettingsParams) (*Project, error)

	AddSlide(ctx context.Context, projectID, filename string, r io.Reader) (*Slide, error)
	ListSlides(ctx context.Context, projectID string) ([]*Slide, error)
	RemoveSlide(ctx context.Context, projectID, slideID string) error
	ReorderSlides(ctx context.Context, projectID string, orderedIDs []string) error

	SetAudio(ctx context.Context, projectID, filename string, r io.Reader, startOffset, tempoBPM float64) (*AudioTrack, error)
	GetAudio(ctx context.Context, projectID string) (*AudioTrack, error)
	RemoveAudio(ctx context.Context, projectID string) error

	PrepareExport(ctx context.Context, projectID string) (*Snapshot, error)
}

// SettingsParams carries a settings update. Nil fields are left unchanged.
type SettingsParams struct {
	Name               *string
	Resolution         *string
	FitMode            *string
	TempoBPM           *float64
	Subdivision        *float64
	LoopEnabled        *bool
	LoopTargetDuration *float64
}

// Service guards all project mutations with one mutex; PrepareExport takes
// the same lock, so an export always snapshots a consistent sequence.
type Service struct {
	mu         sync.Mutex
	repo       Repository
	normalizer *assets.Normalizer
	tempo      tracks.TempoDetector
	sourcesDir string
	audioDir   string
	logger     *slog.Logger
}

func NewService(repo Repository, normalizer *assets.Normalizer, tempo tracks.TempoDetector, assetsDir string, logger *slog.Logger) (*Service, error) {
	sourcesDir := filepath.Join(assetsDir, "sources")
	audioDir := filepath.Join(assetsDir, "audio")
	for _, dir := range []string{sourcesDir, audioDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create assets dir: %w", err)
		}
	}
	return &Service{
		repo:       repo,
		normalizer: normalizer,
		tempo:      tempo,
		sourcesDir: sourcesDir,
		audioDir:   audioDir,
		logger:     logger,
	}, nil
}

func (s *Service) CreateProject(ctx context.Context, name, resolution, fitMode string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resolution == "" {
		resolution = "1080x1920"
	}
	res, err := assets.ParseResolution(resolution)
	if err != nil {
		return nil, err
	}

	fit := assets.FitContain
	if fitMode != "" {
		fit, err = assets.ParseFitMode(fitMode)
		if err != nil {
			return nil, err
		}
	}

	if name == "" {
		name = "Untitled Slideshow"
	}

	now := time.Now().UTC()
	p := &Project{
		ID:            NewID(),
		Name:          name,
		Resolution:    res,
		ResolutionStr: res.String(),
		FitMode:       fit,
		TempoBPM:      120,
		Subdivision:   timing.SubdivisionBar,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	s.logger.Info("project created", "project_id", p.ID, "resolution", p.ResolutionStr)
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p != nil {
		p.Resolution, _ = assets.ParseResolution(p.ResolutionStr)
	}
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.repo.ListProjects(ctx)
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.DeleteProject(ctx, id)
}

func (s *Service) UpdateSettings(ctx context.Context, id string, params SettingsParams) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProjectNotFound
	}

	if params.Name != nil && *params.Name != "" {
		p.Name = *params.Name
	}
	if params.Resolution != nil {
		res, err := assets.ParseResolution(*params.Resolution)
		if err != nil {
			return nil, err
		}
		p.Resolution = res
		p.ResolutionStr = res.String()
	}
	if params.FitMode != nil {
		fit, err := assets.ParseFitMode(*params.FitMode)
		if err != nil {
			return nil, err
		}
		p.FitMode = fit
	}
	if params.TempoBPM != nil {
		if err := timing.ValidateTempo(*params.TempoBPM); err != nil {
			return nil, err
		}
		p.TempoBPM = *params.TempoBPM
	}
	if params.Subdivision != nil {
		sub := timing.Subdivision(*params.Subdivision)
		if !sub.Valid() {
			return nil, fmt.Errorf("invalid subdivision %v", *params.Subdivision)
		}
		p.Subdivision = sub
	}
	if params.LoopEnabled != nil {
		p.LoopEnabled = *params.LoopEnabled
	}
	if params.LoopTargetDuration != nil {
		if *params.LoopTargetDuration < 0 {
			return nil, fmt.Errorf("loop target duration cannot be negative")
		}
		p.LoopTargetDuration = *params.LoopTargetDuration
	}

	if err := s.repo.UpdateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}

	// Tempo or subdivision changes reprice every slide.
	duration, err := timing.ComputeSlideDuration(p.TempoBPM, p.Subdivision)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateSlideDurations(ctx, p.ID, duration); err != nil {
		return nil, fmt.Errorf("update slide durations: %w", err)
	}

	return p, nil
}

func (s *Service) AddSlide(ctx context.Context, projectID, filename string, r io.Reader) (*Slide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !IsImageFile(filename) {
		return nil, fmt.Errorf("unsupported image type: %s", filename)
	}

	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProjectNotFound
	}

	id := NewID()
	destPath := filepath.Join(s.sourcesDir, id+lowerExt(filename))
	fingerprint, err := storeWithFingerprint(destPath, r)
	if err != nil {
		return nil, fmt.Errorf("store slide image: %w", err)
	}

	slides, err := s.repo.ListSlides(ctx, projectID)
	if err != nil {
		return nil, err
	}

	duration, err := timing.ComputeSlideDuration(p.TempoBPM, p.Subdivision)
	if err != nil {
		return nil, err
	}

	slide := &Slide{
		ID:              id,
		ProjectID:       projectID,
		Position:        len(slides),
		SourcePath:      destPath,
		Fingerprint:     fingerprint,
		DurationSeconds: duration,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.repo.CreateSlide(ctx, slide); err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("create slide: %w", err)
	}

	s.logger.Info("slide added", "project_id", projectID, "slide_id", id, "position", slide.Position)
	return slide, nil
}

func (s *Service) ListSlides(ctx context.Context, projectID string) ([]*Slide, error) {
	return s.repo.ListSlides(ctx, projectID)
}

func (s *Service) RemoveSlide(ctx context.Context, projectID, slideID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slide, err := s.repo.GetSlide(ctx, slideID)
	if err != nil {
		return err
	}
	if slide == nil || slide.ProjectID != projectID {
		return fmt.Errorf("slide not found")
	}

	if err := s.repo.DeleteSlide(ctx, slideID); err != nil {
		return err
	}

	// Compact positions so the order stays dense.
	slides, err := s.repo.ListSlides(ctx, projectID)
	if err != nil {
		return err
	}
	ids := make([]string, len(slides))
	for i, sl := range slides {
		ids[i] = sl.ID
	}
	return s.repo.ReorderSlides(ctx, projectID, ids)
}

func (s *Service) ReorderSlides(ctx context.Context, projectID string, orderedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slides, err := s.repo.ListSlides(ctx, projectID)
	if err != nil {
		return err
	}
	if len(orderedIDs) != len(slides) {
		return fmt.Errorf("reorder must include all %d slides", len(slides))
	}
	return s.repo.ReorderSlides(ctx, projectID, orderedIDs)
}

func (s *Service) SetAudio(ctx context.Context, projectID, filename string, r io.Reader, startOffset, tempoBPM float64) (*AudioTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !IsAudioFile(filename) {
		return nil, fmt.Errorf("unsupported audio type: %s", filename)
	}
	if startOffset < 0 {
		return nil, fmt.Errorf("start offset cannot be negative")
	}
	if tempoBPM != 0 {
		if err := timing.ValidateTempo(tempoBPM); err != nil {
			return nil, err
		}
	}

	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProjectNotFound
	}

	destPath := filepath.Join(s.audioDir, projectID+lowerExt(filename))
	if _, err := storeWithFingerprint(destPath, r); err != nil {
		return nil, fmt.Errorf("store audio: %w", err)
	}

	// No tempo supplied: ask the detector for an estimate. A failed or
	// out-of-range estimate leaves the track untagged rather than erroring.
	if tempoBPM == 0 && s.tempo != nil {
		if est, err := s.tempo.DetectTempo(ctx, destPath); err == nil && timing.ValidateTempo(est) == nil {
			tempoBPM = est
		} else if err != nil {
			s.logger.Warn("tempo detection failed", "project_id", projectID, "error", err)
		}
	}

	track := &AudioTrack{
		ProjectID:          projectID,
		Path:               destPath,
		Title:              filepath.Base(filename),
		StartOffsetSeconds: startOffset,
		TempoBPM:           tempoBPM,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.repo.SetAudioTrack(ctx, track); err != nil {
		return nil, fmt.Errorf("set audio track: %w", err)
	}

	s.logger.Info("audio track set", "project_id", projectID, "title", track.Title, "offset_s", startOffset)
	return track, nil
}

func (s *Service) GetAudio(ctx context.Context, projectID string) (*AudioTrack, error) {
	return s.repo.GetAudioTrack(ctx, projectID)
}

func (s *Service) RemoveAudio(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.DeleteAudioTrack(ctx, projectID)
}

// PrepareExport normalizes any slide whose cached asset is missing or was
// produced at a different resolution or fit mode, then returns an immutable
// snapshot of the sequence and settings. Edits made after this call cannot
// affect the returned snapshot.
func (s *Service) PrepareExport(ctx context.Context, projectID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProjectNotFound
	}

	slides, err := s.repo.ListSlides(ctx, projectID)
	if err != nil {
		return nil, err
	}

	duration, err := timing.ComputeSlideDuration(p.TempoBPM, p.Subdivision)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ProjectID:        p.ID,
		ProjectName:      p.Name,
		Resolution:       p.Resolution,
		FitMode:          p.FitMode,
		PerSlideDuration: duration,
		LoopEnabled:      p.LoopEnabled,
		LoopTarget:       p.LoopTargetDuration,
		Slides:           make([]SnapshotSlide, 0, len(slides)),
	}

	for i, slide := range slides {
		// The cache key covers fingerprint, resolution and fit mode; a change
		// to any of them moves the expected path and forces a re-normalize.
		wantPath := s.normalizer.CachePath(slide.Fingerprint, p.Resolution, p.FitMode)
		needsNormalize := slide.NormalizedPath != wantPath
		if !needsNormalize {
			if _, err := os.Stat(slide.NormalizedPath); err != nil {
				needsNormalize = true
			}
		}

		normalizedPath := slide.NormalizedPath
		if needsNormalize {
			normalizedPath, err = s.normalizer.Normalize(slide.SourcePath, slide.Fingerprint, p.Resolution, p.FitMode)
			if err != nil {
				// One bad slide fails the whole export, named by position.
				return nil, fmt.Errorf("slide %d (%s): %w", i+1, slide.ID, err)
			}
			if err := s.repo.UpdateSlideNormalized(ctx, slide.ID, normalizedPath, p.ResolutionStr); err != nil {
				return nil, fmt.Errorf("record normalized asset: %w", err)
			}
		}

		snap.Slides = append(snap.Slides, SnapshotSlide{
			SlideID:        slide.ID,
			NormalizedPath: normalizedPath,
		})
	}

	track, err := s.repo.GetAudioTrack(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if track != nil {
		snap.Audio = &SnapshotAudio{
			Path:               track.Path,
			StartOffsetSeconds: track.StartOffsetSeconds,
		}
	}

	return snap, nil
}

// storeWithFingerprint streams an upload to disk while hashing it, returning
// the hex sha-256 of the content.
func storeWithFingerprint(destPath string, r io.Reader) (string, error) {
	f, err := os.Create(destPath)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		f.Close()
		os.Remove(destPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(destPath)
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
