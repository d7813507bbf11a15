package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bennhub/groove-slider-app/internal/assets"
)

const maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

// EngineConfig holds the ffmpeg engine's configuration.
type EngineConfig struct {
	FFmpegPath  string        // path to ffmpeg binary; empty = auto-detect
	WorkBase    string        // base dir for per-job working storage
	ClipTimeout time.Duration // timeout for a single slide clip encode
	MuxTimeout  time.Duration // timeout for concat and mux commands
	Logger      *slog.Logger
}

// DefaultEngineConfig returns production-ready defaults.
func DefaultEngineConfig(workBase string, logger *slog.Logger) EngineConfig {
	return EngineConfig{
		FFmpegPath:  "", // auto-detect
		WorkBase:    workBase,
		ClipTimeout: 2 * time.Minute,
		MuxTimeout:  10 * time.Minute,
		Logger:      logger,
	}
}

// FFmpegEngine drives an ffmpeg binary as a subprocess. Binary resolution is
// lazy and cached, so a prior job's Preparing work is reused; the busy flag
// enforces one live session at a time.
type FFmpegEngine struct {
	cfg  EngineConfig
	busy atomic.Bool

	mu       sync.Mutex
	resolved string // cached ffmpeg path once found
}

func NewFFmpegEngine(cfg EngineConfig) *FFmpegEngine {
	return &FFmpegEngine{cfg: cfg}
}

func (e *FFmpegEngine) Name() string { return "ffmpeg" }

func (e *FFmpegEngine) ContainerExt() string { return "mp4" }

func (e *FFmpegEngine) Acquire(ctx context.Context, jobID string) (Session, error) {
	path, err := e.resolve()
	if err != nil {
		return nil, err
	}

	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrEngineBusy
	}

	workDir := filepath.Join(e.cfg.WorkBase, jobID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		e.busy.Store(false)
		return nil, fmt.Errorf("cannot create work dir: %w", err)
	}

	e.cfg.Logger.Info("encoder session acquired", "engine", e.Name(), "job_id", jobID, "ffmpeg", path)

	return &ffmpegSession{engine: e, ffmpeg: path, workDir: workDir, jobID: jobID}, nil
}

func (e *FFmpegEngine) resolve() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.resolved != "" {
		return e.resolved, nil
	}

	path, err := resolveFFmpeg(e.cfg.FFmpegPath)
	if err != nil {
		return "", err
	}
	e.resolved = path
	return path, nil
}

// resolveFFmpeg finds a usable ffmpeg binary.
func resolveFFmpeg(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured ffmpeg %q not found", preferred)
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("no ffmpeg binary found on PATH")
}

type ffmpegSession struct {
	engine  *FFmpegEngine
	ffmpeg  string
	workDir string
	jobID   string
}

func (s *ffmpegSession) EncodeClip(ctx context.Context, clip ClipSpec) (string, error) {
	outPath := filepath.Join(s.workDir, fmt.Sprintf("clip_%04d.mp4", clip.Index))

	ctx, cancel := context.WithTimeout(ctx, s.engine.cfg.ClipTimeout)
	defer cancel()

	result := s.exec(ctx,
		"-y",
		"-loop", "1",
		"-framerate", fmt.Sprintf("%d", FrameRate),
		"-t", fmt.Sprintf("%.3f", clip.Duration),
		"-i", clip.ImagePath,
		"-vf", fitFilter(clip)+",format=yuv420p",
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-movflags", "+faststart",
		outPath,
	)
	if !result.IsSuccess() {
		return "", fmt.Errorf("clip encode exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return outPath, nil
}

// fitFilter selects the padding or cropping filter for the clip's fit mode.
// Normalized inputs already match the target frame, so this is a passthrough
// for them, but it keeps the engine correct for any still it is handed.
func fitFilter(clip ClipSpec) string {
	w, h := clip.Resolution.Width, clip.Resolution.Height
	if clip.FitMode == assets.FitCover {
		return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1", w, h, w, h)
	}
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1", w, h, w, h)
}

// Concatenate joins clips with the concat demuxer and a lossless stream copy.
// Loop repetition arrives as repeated references in clipRefs.
func (s *ffmpegSession) Concatenate(ctx context.Context, clipRefs []string) (string, error) {
	listPath := filepath.Join(s.workDir, "concat.txt")
	var list strings.Builder
	for _, ref := range clipRefs {
		// Single quotes in paths are escaped per the concat demuxer syntax.
		escaped := strings.ReplaceAll(ref, "'", `'\''`)
		fmt.Fprintf(&list, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("cannot write concat list: %w", err)
	}

	outPath := filepath.Join(s.workDir, "silent.mp4")

	ctx, cancel := context.WithTimeout(ctx, s.engine.cfg.MuxTimeout)
	defer cancel()

	result := s.exec(ctx,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		outPath,
	)
	if !result.IsSuccess() {
		return "", fmt.Errorf("concat exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return outPath, nil
}

// MuxAudio trims the audio from its start offset and muxes it against the
// video, truncating to the shorter stream.
func (s *ffmpegSession) MuxAudio(ctx context.Context, videoPath string, audio AudioInput) (string, error) {
	outPath := filepath.Join(s.workDir, "muxed.mp4")

	ctx, cancel := context.WithTimeout(ctx, s.engine.cfg.MuxTimeout)
	defer cancel()

	result := s.exec(ctx,
		"-y",
		"-i", videoPath,
		"-ss", fmt.Sprintf("%.3f", audio.StartOffsetSeconds),
		"-i", audio.Path,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		outPath,
	)
	if !result.IsSuccess() {
		return "", fmt.Errorf("mux exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return outPath, nil
}

func (s *ffmpegSession) Release() error {
	defer s.engine.busy.Store(false)
	if err := os.RemoveAll(s.workDir); err != nil {
		s.engine.cfg.Logger.Warn("failed to remove session work dir", "job_id", s.jobID, "error", err)
		return err
	}
	s.engine.cfg.Logger.Info("encoder session released", "job_id", s.jobID)
	return nil
}

// RunResult is the structured outcome of executing an engine subprocess.
type RunResult struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// exec is the core subprocess execution helper.
func (s *ffmpegSession) exec(ctx context.Context, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, s.ffmpeg, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard

	s.engine.cfg.Logger.Debug("executing encoder command", "job_id", s.jobID, "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		s.engine.cfg.Logger.Warn("encoder command failed",
			"job_id", s.jobID,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		s.engine.cfg.Logger.Debug("encoder command succeeded",
			"job_id", s.jobID,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
