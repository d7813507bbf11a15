package project

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bennhub/groove-slider-app/internal/assets"
	"github.com/bennhub/groove-slider-app/internal/db"
	"github.com/bennhub/groove-slider-app/internal/tracks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	root := t.TempDir()
	logger := testLogger()

	database, err := db.New(filepath.Join(root, "test.db"), logger)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := NewRepository(database.Conn())

	normalizer, err := assets.NewNormalizer(filepath.Join(root, "normalized"), logger)
	if err != nil {
		t.Fatalf("NewNormalizer() error = %v", err)
	}

	svc, err := NewService(repo, normalizer, tracks.NewStubTempoDetector(logger), filepath.Join(root, "assets"), logger)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func pngReader(t *testing.T, w, h int, c color.Color) io.Reader {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestCreateProject_Defaults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "", "", "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	if p.Name != "Untitled Slideshow" {
		t.Errorf("name = %q", p.Name)
	}
	if p.ResolutionStr != "1080x1920" {
		t.Errorf("resolution = %q, want 1080x1920", p.ResolutionStr)
	}
	if p.FitMode != assets.FitContain {
		t.Errorf("fit mode = %q, want contain", p.FitMode)
	}
	if p.TempoBPM != 120 {
		t.Errorf("tempo = %v, want 120", p.TempoBPM)
	}

	got, err := svc.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got == nil || got.ID != p.ID {
		t.Fatalf("GetProject() = %+v", got)
	}
	if got.Resolution.Width != 1080 || got.Resolution.Height != 1920 {
		t.Errorf("parsed resolution = %+v", got.Resolution)
	}
}

func TestCreateProject_RejectsArbitraryResolution(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.CreateProject(context.Background(), "x", "640x481", ""); err == nil {
		t.Error("CreateProject() with off-preset resolution should fail")
	}
}

func TestAddSlide_OrderAndDuration(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "Slides", "720x1280", "cover")
	if err != nil {
		t.Fatal(err)
	}

	s1, err := svc.AddSlide(ctx, p.ID, "a.png", pngReader(t, 4, 4, color.White))
	if err != nil {
		t.Fatalf("AddSlide() error = %v", err)
	}
	s2, err := svc.AddSlide(ctx, p.ID, "b.png", pngReader(t, 4, 4, color.Black))
	if err != nil {
		t.Fatalf("AddSlide() error = %v", err)
	}

	if s1.Position != 0 || s2.Position != 1 {
		t.Errorf("positions = %d,%d, want 0,1", s1.Position, s2.Position)
	}
	// One bar at 120 BPM in 4/4 is two seconds.
	if s1.DurationSeconds != 2 {
		t.Errorf("duration = %v, want 2", s1.DurationSeconds)
	}
	if s1.Fingerprint == "" || s1.Fingerprint == s2.Fingerprint {
		t.Errorf("fingerprints = %q, %q; want distinct non-empty", s1.Fingerprint, s2.Fingerprint)
	}
	if _, err := os.Stat(s1.SourcePath); err != nil {
		t.Errorf("source file missing: %v", err)
	}
}

func TestAddSlide_RejectsNonImage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "x", "", "")
	if _, err := svc.AddSlide(ctx, p.ID, "notes.txt", strings.NewReader("hi")); err == nil {
		t.Error("AddSlide() with .txt should fail")
	}
}

func TestAddSlide_UnknownProject(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.AddSlide(context.Background(), "missing", "a.png", pngReader(t, 2, 2, color.White))
	if !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("error = %v, want ErrProjectNotFound", err)
	}
}

func TestUpdateSettings_RepricesSlides(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "Reprice", "", "")
	svc.AddSlide(ctx, p.ID, "a.png", pngReader(t, 2, 2, color.White))

	tempo := 60.0
	sub := 0.5
	updated, err := svc.UpdateSettings(ctx, p.ID, SettingsParams{TempoBPM: &tempo, Subdivision: &sub})
	if err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}
	if updated.TempoBPM != 60 {
		t.Errorf("tempo = %v", updated.TempoBPM)
	}

	slides, _ := svc.ListSlides(ctx, p.ID)
	if len(slides) != 1 {
		t.Fatalf("slides = %d", len(slides))
	}
	// Half a bar at 60 BPM: 0.5 * 4 * 60/60 = 2s.
	if slides[0].DurationSeconds != 2 {
		t.Errorf("slide duration = %v, want 2", slides[0].DurationSeconds)
	}
}

func TestUpdateSettings_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "v", "", "")

	badTempo := 19.0
	if _, err := svc.UpdateSettings(ctx, p.ID, SettingsParams{TempoBPM: &badTempo}); err == nil {
		t.Error("tempo 19 should fail")
	}

	badSub := 0.3
	if _, err := svc.UpdateSettings(ctx, p.ID, SettingsParams{Subdivision: &badSub}); err == nil {
		t.Error("subdivision 0.3 should fail")
	}

	negTarget := -1.0
	if _, err := svc.UpdateSettings(ctx, p.ID, SettingsParams{LoopTargetDuration: &negTarget}); err == nil {
		t.Error("negative loop target should fail")
	}
}

func TestReorderSlides(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "Order", "", "")
	s1, _ := svc.AddSlide(ctx, p.ID, "a.png", pngReader(t, 2, 2, color.White))
	s2, _ := svc.AddSlide(ctx, p.ID, "b.png", pngReader(t, 2, 2, color.Black))
	s3, _ := svc.AddSlide(ctx, p.ID, "c.png", pngReader(t, 2, 2, color.RGBA{R: 255, A: 255}))

	if err := svc.ReorderSlides(ctx, p.ID, []string{s3.ID, s1.ID}); err == nil {
		t.Error("partial reorder should fail")
	}

	if err := svc.ReorderSlides(ctx, p.ID, []string{s3.ID, s1.ID, s2.ID}); err != nil {
		t.Fatalf("ReorderSlides() error = %v", err)
	}

	slides, _ := svc.ListSlides(ctx, p.ID)
	got := []string{slides[0].ID, slides[1].ID, slides[2].ID}
	want := []string{s3.ID, s1.ID, s2.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRemoveSlide_CompactsPositions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "Compact", "", "")
	s1, _ := svc.AddSlide(ctx, p.ID, "a.png", pngReader(t, 2, 2, color.White))
	svc.AddSlide(ctx, p.ID, "b.png", pngReader(t, 2, 2, color.Black))
	s3, _ := svc.AddSlide(ctx, p.ID, "c.png", pngReader(t, 2, 2, color.RGBA{G: 255, A: 255}))

	if err := svc.RemoveSlide(ctx, p.ID, s1.ID); err != nil {
		t.Fatalf("RemoveSlide() error = %v", err)
	}

	slides, _ := svc.ListSlides(ctx, p.ID)
	if len(slides) != 2 {
		t.Fatalf("slides = %d, want 2", len(slides))
	}
	if slides[0].Position != 0 || slides[1].Position != 1 {
		t.Errorf("positions = %d,%d after removal, want 0,1", slides[0].Position, slides[1].Position)
	}
	if slides[1].ID != s3.ID {
		t.Errorf("last slide = %s, want %s", slides[1].ID, s3.ID)
	}

	if err := svc.RemoveSlide(ctx, p.ID, s1.ID); err == nil {
		t.Error("removing twice should fail")
	}
}

func TestSetAudio_ReplacesWholesale(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "Audio", "", "")

	first, err := svc.SetAudio(ctx, p.ID, "song.mp3", strings.NewReader("mp3-bytes"), 1.5, 0)
	if err != nil {
		t.Fatalf("SetAudio() error = %v", err)
	}
	if first.Title != "song.mp3" || first.StartOffsetSeconds != 1.5 {
		t.Errorf("track = %+v", first)
	}

	second, err := svc.SetAudio(ctx, p.ID, "other.m4a", strings.NewReader("m4a-bytes"), 0, 95)
	if err != nil {
		t.Fatalf("SetAudio() replace error = %v", err)
	}

	got, err := svc.GetAudio(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != second.Title || got.TempoBPM != 95 {
		t.Errorf("after replace: %+v", got)
	}

	if err := svc.RemoveAudio(ctx, p.ID); err != nil {
		t.Fatalf("RemoveAudio() error = %v", err)
	}
	got, _ = svc.GetAudio(ctx, p.ID)
	if got != nil {
		t.Errorf("audio still present after removal: %+v", got)
	}
}

func TestSetAudio_DetectsTempoWhenOmitted(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "detect", "", "")

	// No tempo supplied: the stub detector tags the track with its default.
	track, err := svc.SetAudio(ctx, p.ID, "beat.mp3", strings.NewReader("mp3-bytes"), 0, 0)
	if err != nil {
		t.Fatalf("SetAudio() error = %v", err)
	}
	if track.TempoBPM != 120 {
		t.Errorf("detected tempo = %v, want 120", track.TempoBPM)
	}

	// An explicit tempo wins over detection.
	track, err = svc.SetAudio(ctx, p.ID, "beat.mp3", strings.NewReader("mp3-bytes"), 0, 95)
	if err != nil {
		t.Fatalf("SetAudio() error = %v", err)
	}
	if track.TempoBPM != 95 {
		t.Errorf("tempo = %v, want 95", track.TempoBPM)
	}
}

func TestSetAudio_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "av", "", "")

	if _, err := svc.SetAudio(ctx, p.ID, "cover.png", strings.NewReader("x"), 0, 0); err == nil {
		t.Error("png as audio should fail")
	}
	if _, err := svc.SetAudio(ctx, p.ID, "a.mp3", strings.NewReader("x"), -1, 0); err == nil {
		t.Error("negative offset should fail")
	}
	if _, err := svc.SetAudio(ctx, p.ID, "a.mp3", strings.NewReader("x"), 0, 500); err == nil {
		t.Error("tempo 500 should fail")
	}
}

func TestPrepareExport_NormalizesAndCaches(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "Snap", "720x1280", "")
	svc.AddSlide(ctx, p.ID, "a.png", pngReader(t, 10, 20, color.White))

	snap, err := svc.PrepareExport(ctx, p.ID)
	if err != nil {
		t.Fatalf("PrepareExport() error = %v", err)
	}
	if len(snap.Slides) != 1 {
		t.Fatalf("snapshot slides = %d", len(snap.Slides))
	}

	normPath := snap.Slides[0].NormalizedPath
	info, err := os.Stat(normPath)
	if err != nil {
		t.Fatalf("normalized asset missing: %v", err)
	}

	// Second export reuses the cached asset untouched.
	again, err := svc.PrepareExport(ctx, p.ID)
	if err != nil {
		t.Fatalf("PrepareExport() second call error = %v", err)
	}
	if again.Slides[0].NormalizedPath != normPath {
		t.Errorf("cache miss: %q != %q", again.Slides[0].NormalizedPath, normPath)
	}
	info2, _ := os.Stat(normPath)
	if !info2.ModTime().Equal(info.ModTime()) {
		t.Error("cached asset was rewritten")
	}
}

func TestPrepareExport_ResolutionChangeInvalidatesCache(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "Invalidate", "720x1280", "")
	svc.AddSlide(ctx, p.ID, "a.png", pngReader(t, 10, 20, color.White))

	first, err := svc.PrepareExport(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}

	res := "1080x1920"
	if _, err := svc.UpdateSettings(ctx, p.ID, SettingsParams{Resolution: &res}); err != nil {
		t.Fatal(err)
	}

	second, err := svc.PrepareExport(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Slides[0].NormalizedPath == first.Slides[0].NormalizedPath {
		t.Error("normalized path unchanged after resolution change")
	}
	if second.Resolution.Width != 1080 {
		t.Errorf("snapshot resolution = %+v", second.Resolution)
	}
}

func TestPrepareExport_FitModeChangeInvalidatesCache(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "Refit", "720x1280", "contain")
	svc.AddSlide(ctx, p.ID, "wide.png", pngReader(t, 400, 100, color.White))

	first, err := svc.PrepareExport(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(first.Slides[0].NormalizedPath, "contain") {
		t.Fatalf("first normalized path %q not keyed by contain", first.Slides[0].NormalizedPath)
	}

	fit := "cover"
	if _, err := svc.UpdateSettings(ctx, p.ID, SettingsParams{FitMode: &fit}); err != nil {
		t.Fatal(err)
	}

	second, err := svc.PrepareExport(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Slides[0].NormalizedPath == first.Slides[0].NormalizedPath {
		t.Error("normalized path unchanged after fit mode change")
	}
	if !strings.Contains(second.Slides[0].NormalizedPath, "cover") {
		t.Errorf("second normalized path %q not keyed by cover", second.Slides[0].NormalizedPath)
	}
	if second.FitMode != assets.FitCover {
		t.Errorf("snapshot fit mode = %q, want cover", second.FitMode)
	}
}

func TestPrepareExport_SnapshotIsolation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "Isolated", "720x1280", "")
	svc.AddSlide(ctx, p.ID, "a.png", pngReader(t, 4, 4, color.White))

	snap, err := svc.PrepareExport(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Mutations after the snapshot must not be visible in it.
	svc.AddSlide(ctx, p.ID, "b.png", pngReader(t, 4, 4, color.Black))
	tempo := 60.0
	svc.UpdateSettings(ctx, p.ID, SettingsParams{TempoBPM: &tempo})

	if len(snap.Slides) != 1 {
		t.Errorf("snapshot slides = %d, want 1", len(snap.Slides))
	}
	if snap.PerSlideDuration != 2 {
		t.Errorf("snapshot duration = %v, want 2", snap.PerSlideDuration)
	}
}

func TestPrepareExport_CorruptSlideNamedInError(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "Corrupt", "720x1280", "")
	svc.AddSlide(ctx, p.ID, "good.png", pngReader(t, 4, 4, color.White))
	svc.AddSlide(ctx, p.ID, "bad.jpg", strings.NewReader("this is not a jpeg"))

	_, err := svc.PrepareExport(ctx, p.ID)
	if err == nil {
		t.Fatal("PrepareExport() should fail on the corrupt slide")
	}
	if !errors.Is(err, assets.ErrUnreadableImage) {
		t.Errorf("error = %v, want ErrUnreadableImage", err)
	}
	if !strings.Contains(err.Error(), "slide 2") {
		t.Errorf("error %q does not name the failing slide", err)
	}
}
