package project

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Repository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, id string) error

	CreateSlide(ctx context.Context, s *Slide) error
	GetSlide(ctx context.Context, id string) (*Slide, error)
	ListSlides(ctx context.Context, projectID string) ([]*Slide, error)
	DeleteSlide(ctx context.Context, id string) error
	ReorderSlides(ctx context.Context, projectID string, orderedIDs []string) error
	UpdateSlideDurations(ctx context.Context, projectID string, durationSeconds float64) error
	UpdateSlideNormalized(ctx context.Context, id, normalizedPath, normalizedResolution string) error

	SetAudioTrack(ctx context.Context, t *AudioTrack) error
	GetAudioTrack(ctx context.Context, projectID string) (*AudioTrack, error)
	DeleteAudioTrack(ctx context.Context, projectID string) error

	CreateExport(ctx context.Context, e *ExportRecord) error
	GetExport(ctx context.Context, id string) (*ExportRecord, error)
	ListExports(ctx context.Context, projectID string, limit int) ([]*ExportRecord, error)
	UpdateExportStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateExportProgress(ctx context.Context, id string, progress int, stage string) error
	UpdateExportResult(ctx context.Context, id, outputPath, warning string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateProject(ctx context.Context, p *Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, resolution, fit_mode, tempo_bpm, subdivision, loop_enabled, loop_target_duration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.ResolutionStr, string(p.FitMode), p.TempoBPM, float64(p.Subdivision),
		boolToInt(p.LoopEnabled), p.LoopTargetDuration,
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, resolution, fit_mode, tempo_bpm, subdivision, loop_enabled, loop_target_duration, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row)
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, resolution, fit_mode, tempo_bpm, subdivision, loop_enabled, loop_target_duration, created_at, updated_at
		FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *SQLiteRepository) UpdateProject(ctx context.Context, p *Project) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, resolution = ?, fit_mode = ?, tempo_bpm = ?, subdivision = ?,
			loop_enabled = ?, loop_target_duration = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.ResolutionStr, string(p.FitMode), p.TempoBPM, float64(p.Subdivision),
		boolToInt(p.LoopEnabled), p.LoopTargetDuration, time.Now().UTC().Format(time.RFC3339), p.ID)
	return err
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var subdivision float64
	var loopEnabled int
	var createdAt, updatedAt, fitMode string

	err := row.Scan(&p.ID, &p.Name, &p.ResolutionStr, &fitMode, &p.TempoBPM, &subdivision,
		&loopEnabled, &p.LoopTargetDuration, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.FitMode = fitModeFromString(fitMode)
	p.Subdivision = subdivisionFromFloat(subdivision)
	p.LoopEnabled = loopEnabled == 1
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func (r *SQLiteRepository) CreateSlide(ctx context.Context, s *Slide) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO slides (id, project_id, position, source_path, fingerprint, duration_seconds, normalized_path, normalized_resolution, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.ProjectID, s.Position, s.SourcePath, s.Fingerprint, s.DurationSeconds,
		nullString(s.NormalizedPath), nullString(s.NormalizedResolution), s.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetSlide(ctx context.Context, id string) (*Slide, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, position, source_path, fingerprint, duration_seconds, normalized_path, normalized_resolution, created_at
		FROM slides WHERE id = ?
	`, id)
	return scanSlide(row)
}

func (r *SQLiteRepository) ListSlides(ctx context.Context, projectID string) ([]*Slide, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, position, source_path, fingerprint, duration_seconds, normalized_path, normalized_resolution, created_at
		FROM slides WHERE project_id = ? ORDER BY position
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slides []*Slide
	for rows.Next() {
		s, err := scanSlide(rows)
		if err != nil {
			return nil, err
		}
		slides = append(slides, s)
	}
	return slides, rows.Err()
}

func scanSlide(row rowScanner) (*Slide, error) {
	var s Slide
	var createdAt string
	var normalizedPath, normalizedResolution sql.NullString

	err := row.Scan(&s.ID, &s.ProjectID, &s.Position, &s.SourcePath, &s.Fingerprint,
		&s.DurationSeconds, &normalizedPath, &normalizedResolution, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.NormalizedPath = normalizedPath.String
	s.NormalizedResolution = normalizedResolution.String
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &s, nil
}

func (r *SQLiteRepository) DeleteSlide(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM slides WHERE id = ?", id)
	return err
}

// ReorderSlides rewrites positions in one transaction so a reorder is atomic
// relative to any concurrent read of the sequence.
func (r *SQLiteRepository) ReorderSlides(ctx context.Context, projectID string, orderedIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, id := range orderedIDs {
		res, err := tx.ExecContext(ctx,
			"UPDATE slides SET position = ? WHERE id = ? AND project_id = ?", i, id, projectID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("slide %s not found in project", id)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) UpdateSlideDurations(ctx context.Context, projectID string, durationSeconds float64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE slides SET duration_seconds = ? WHERE project_id = ?", durationSeconds, projectID)
	return err
}

func (r *SQLiteRepository) UpdateSlideNormalized(ctx context.Context, id, normalizedPath, normalizedResolution string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE slides SET normalized_path = ?, normalized_resolution = ? WHERE id = ?",
		nullString(normalizedPath), nullString(normalizedResolution), id)
	return err
}

// SetAudioTrack replaces the project's audio wholesale.
func (r *SQLiteRepository) SetAudioTrack(ctx context.Context, t *AudioTrack) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM audio_tracks WHERE project_id = ?", t.ProjectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audio_tracks (project_id, path, title, start_offset_seconds, tempo_bpm, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ProjectID, t.Path, nullString(t.Title), t.StartOffsetSeconds, nullFloat(t.TempoBPM), t.CreatedAt.Format(time.RFC3339)); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLiteRepository) GetAudioTrack(ctx context.Context, projectID string) (*AudioTrack, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT project_id, path, title, start_offset_seconds, tempo_bpm, created_at
		FROM audio_tracks WHERE project_id = ?
	`, projectID)

	var t AudioTrack
	var createdAt string
	var title sql.NullString
	var tempo sql.NullFloat64

	err := row.Scan(&t.ProjectID, &t.Path, &title, &t.StartOffsetSeconds, &tempo, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t.Title = title.String
	t.TempoBPM = tempo.Float64
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

func (r *SQLiteRepository) DeleteAudioTrack(ctx context.Context, projectID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM audio_tracks WHERE project_id = ?", projectID)
	return err
}

func (r *SQLiteRepository) CreateExport(ctx context.Context, e *ExportRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (id, project_id, status, stage, progress, file_name, output_path, warning, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ProjectID, e.Status, e.Stage, e.Progress, e.FileName,
		nullString(e.OutputPath), nullString(e.Warning), nullString(e.Error),
		e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetExport(ctx context.Context, id string) (*ExportRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, status, stage, progress, file_name, output_path, warning, error, created_at, updated_at
		FROM exports WHERE id = ?
	`, id)
	return scanExport(row)
}

func (r *SQLiteRepository) ListExports(ctx context.Context, projectID string, limit int) ([]*ExportRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, status, stage, progress, file_name, output_path, warning, error, created_at, updated_at
		FROM exports WHERE project_id = ? ORDER BY created_at DESC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exports []*ExportRecord
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

func scanExport(row rowScanner) (*ExportRecord, error) {
	var e ExportRecord
	var createdAt, updatedAt string
	var outputPath, warning, errorMsg sql.NullString

	err := row.Scan(&e.ID, &e.ProjectID, &e.Status, &e.Stage, &e.Progress, &e.FileName,
		&outputPath, &warning, &errorMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.OutputPath = outputPath.String
	e.Warning = warning.String
	e.Error = errorMsg.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &e, nil
}

func (r *SQLiteRepository) UpdateExportStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, nullString(errorMsg), id)
	return err
}

func (r *SQLiteRepository) UpdateExportProgress(ctx context.Context, id string, progress int, stage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET progress = ?, stage = ?, updated_at = datetime('now') WHERE id = ?
	`, progress, stage, id)
	return err
}

func (r *SQLiteRepository) UpdateExportResult(ctx context.Context, id, outputPath, warning string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET output_path = ?, warning = ?, updated_at = datetime('now') WHERE id = ?
	`, nullString(outputPath), nullString(warning), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
