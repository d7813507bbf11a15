package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bennhub/groove-slider-app/internal/assets"
	"github.com/bennhub/groove-slider-app/internal/db"
	"github.com/bennhub/groove-slider-app/internal/project"
	"github.com/bennhub/groove-slider-app/internal/render"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRepo(t *testing.T) project.Repository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return project.NewRepository(database.Conn())
}

// slowEngine blocks inside EncodeClip until release is closed, so tests can
// observe the in-flight state.
type slowEngine struct {
	release chan struct{}
}

func (e *slowEngine) Name() string         { return "slow" }
func (e *slowEngine) ContainerExt() string { return "mp4" }

func (e *slowEngine) Acquire(ctx context.Context, jobID string) (render.Session, error) {
	return &slowSession{engine: e, dir: os.TempDir()}, nil
}

type slowSession struct {
	engine *slowEngine
	dir    string
}

func (s *slowSession) EncodeClip(ctx context.Context, clip render.ClipSpec) (string, error) {
	if s.engine.release != nil {
		<-s.engine.release
	}
	return fmt.Sprintf("clip:%d", clip.Index), nil
}

func (s *slowSession) Concatenate(ctx context.Context, refs []string) (string, error) {
	out := filepath.Join(s.dir, "orch_test_video.mp4")
	if err := os.WriteFile(out, []byte("video-bytes"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func (s *slowSession) MuxAudio(ctx context.Context, videoPath string, audio render.AudioInput) (string, error) {
	return videoPath, nil
}

func (s *slowSession) Release() error { return nil }

// recordingSaver counts saves.
type recordingSaver struct {
	saves []string
	dir   string
}

func (s *recordingSaver) Save(fileName string, data []byte) (string, error) {
	s.saves = append(s.saves, fileName)
	path := filepath.Join(s.dir, fileName)
	return path, os.WriteFile(path, data, 0o644)
}

func testSnapshot(t *testing.T, slideCount int, loopEnabled bool, loopTarget float64) *project.Snapshot {
	t.Helper()
	tmp := t.TempDir()
	snap := &project.Snapshot{
		ProjectID:        project.NewID(),
		ProjectName:      "My Slideshow",
		Resolution:       assets.Resolution{Width: 720, Height: 1280},
		FitMode:          assets.FitContain,
		PerSlideDuration: 2.0,
		LoopEnabled:      loopEnabled,
		LoopTarget:       loopTarget,
	}
	for i := 0; i < slideCount; i++ {
		path := filepath.Join(tmp, fmt.Sprintf("n%d.png", i))
		if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
			t.Fatalf("write slide: %v", err)
		}
		snap.Slides = append(snap.Slides, project.SnapshotSlide{
			SlideID:        fmt.Sprintf("s%d", i),
			NormalizedPath: path,
		})
	}
	return snap
}

func newTestOrchestrator(t *testing.T, engine render.Engine) (*Orchestrator, *recordingSaver, project.Repository) {
	t.Helper()
	repo := setupRepo(t)
	saver := &recordingSaver{dir: t.TempDir()}
	pipeline := render.NewPipeline(engine, testLogger())
	return NewOrchestrator(pipeline, repo, saver, render.DefaultHardCapSeconds, testLogger()), saver, repo
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish in time")
	}
}

func TestOrchestrator_Success(t *testing.T) {
	orch, saver, repo := newTestOrchestrator(t, &slowEngine{})

	job, err := orch.Start(context.Background(), testSnapshot(t, 3, false, 0), Request{FileName: "My Slideshow 1.mp4"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, job)

	if err := job.Err(); err != nil {
		t.Fatalf("job error = %v", err)
	}
	if len(saver.saves) != 1 || saver.saves[0] != "My Slideshow 1.mp4" {
		t.Errorf("saver calls = %v, want one save of My Slideshow 1.mp4", saver.saves)
	}

	record, err := repo.GetExport(context.Background(), job.ID)
	if err != nil || record == nil {
		t.Fatalf("GetExport() = %v, %v", record, err)
	}
	if record.Status != project.ExportStatusCompleted {
		t.Errorf("status = %s, want completed", record.Status)
	}
	if record.Progress != 100 {
		t.Errorf("progress = %d, want 100", record.Progress)
	}
	if record.OutputPath == "" {
		t.Error("output path not recorded")
	}
}

func TestOrchestrator_InvalidFileName(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, &slowEngine{})

	for _, name := range []string{"bad/name", "weird*chars?"} {
		_, err := orch.Start(context.Background(), testSnapshot(t, 1, false, 0), Request{FileName: name})
		if !errors.Is(err, ErrInvalidFileName) {
			t.Errorf("Start(%q) error = %v, want ErrInvalidFileName", name, err)
		}
	}
}

func TestOrchestrator_DefaultFileNameFromProject(t *testing.T) {
	orch, saver, _ := newTestOrchestrator(t, &slowEngine{})

	job, err := orch.Start(context.Background(), testSnapshot(t, 1, false, 0), Request{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, job)

	if len(saver.saves) != 1 || saver.saves[0] != "My Slideshow.mp4" {
		t.Errorf("saves = %v, want derived project name", saver.saves)
	}
}

func TestOrchestrator_DurationCapRejected(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, &slowEngine{})

	// 10 slides x 3s = 30s base, target 200 -> 7 loops -> 210s > 180s cap.
	snap := testSnapshot(t, 10, true, 200)
	snap.PerSlideDuration = 3.0

	_, err := orch.Start(context.Background(), snap, Request{FileName: "too long"})
	if !errors.Is(err, ErrDurationCap) {
		t.Fatalf("Start() error = %v, want ErrDurationCap", err)
	}
}

func TestOrchestrator_UnderCapAccepted(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, &slowEngine{})

	// 3 slides x 2s = 6s base, target 20 -> 4 loops -> 24s <= 180s.
	job, err := orch.Start(context.Background(), testSnapshot(t, 3, true, 20), Request{FileName: "ok"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, job)
	if job.Err() != nil {
		t.Fatalf("job error = %v", job.Err())
	}
}

func TestOrchestrator_NoSlidesRejected(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, &slowEngine{})

	_, err := orch.Start(context.Background(), testSnapshot(t, 0, false, 0), Request{FileName: "empty"})
	if !errors.Is(err, render.ErrNoSlides) {
		t.Fatalf("Start() error = %v, want ErrNoSlides", err)
	}
}

func TestOrchestrator_SecondExportRejected(t *testing.T) {
	engine := &slowEngine{release: make(chan struct{})}
	orch, _, _ := newTestOrchestrator(t, engine)

	job, err := orch.Start(context.Background(), testSnapshot(t, 2, false, 0), Request{FileName: "first"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err = orch.Start(context.Background(), testSnapshot(t, 2, false, 0), Request{FileName: "second"})
	if !errors.Is(err, ErrExportInFlight) {
		t.Errorf("second Start() error = %v, want ErrExportInFlight", err)
	}

	close(engine.release)
	waitDone(t, job)

	// Slot frees after the first job completes.
	job2, err := orch.Start(context.Background(), testSnapshot(t, 2, false, 0), Request{FileName: "third"})
	if err != nil {
		t.Fatalf("Start() after completion error = %v", err)
	}
	waitDone(t, job2)
}

func TestOrchestrator_CancelDuringEncoding(t *testing.T) {
	engine := &slowEngine{release: make(chan struct{})}
	orch, saver, repo := newTestOrchestrator(t, engine)

	job, err := orch.Start(context.Background(), testSnapshot(t, 3, false, 0), Request{FileName: "cancel me"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job.Cancel()
	close(engine.release)
	waitDone(t, job)

	if !errors.Is(job.Err(), render.ErrCancelled) {
		t.Fatalf("job error = %v, want ErrCancelled", job.Err())
	}
	if len(saver.saves) != 0 {
		t.Errorf("saver called %d times after cancellation, want 0", len(saver.saves))
	}

	record, err := repo.GetExport(context.Background(), job.ID)
	if err != nil || record == nil {
		t.Fatalf("GetExport() = %v, %v", record, err)
	}
	if record.Status != project.ExportStatusCancelled {
		t.Errorf("status = %s, want cancelled", record.Status)
	}
	if record.Error != "" {
		t.Errorf("cancellation recorded an error message: %q", record.Error)
	}
}

func TestOrchestrator_EngineInitFailureMessage(t *testing.T) {
	engine := &failingEngine{}
	orch, _, repo := newTestOrchestrator(t, engine)

	job, err := orch.Start(context.Background(), testSnapshot(t, 1, false, 0), Request{FileName: "fail"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, job)

	record, _ := repo.GetExport(context.Background(), job.ID)
	if record.Status != project.ExportStatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if record.Error != "the video encoder could not be started" {
		t.Errorf("error message = %q, want engine init message", record.Error)
	}
}

type failingEngine struct{}

func (e *failingEngine) Name() string         { return "failing" }
func (e *failingEngine) ContainerExt() string { return "mp4" }
func (e *failingEngine) Acquire(ctx context.Context, jobID string) (render.Session, error) {
	return nil, errors.New("engine assets unreachable")
}
