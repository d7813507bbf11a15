package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/icza/mjpeg"
)

// MJPEGEngine is the fallback encoder used when no ffmpeg binary is present.
// It writes a silent motion-JPEG AVI entirely in-process: each unique slide
// becomes one JPEG frame repeated for its duration, and concatenation writes
// the frames into a single AVI. Audio muxing is not supported; the pipeline
// downgrades to silent video with a warning.
type MJPEGEngine struct {
	workBase string
	logger   *slog.Logger
	busy     atomic.Bool
}

func NewMJPEGEngine(workBase string, logger *slog.Logger) *MJPEGEngine {
	return &MJPEGEngine{workBase: workBase, logger: logger}
}

func (e *MJPEGEngine) Name() string { return "mjpeg" }

func (e *MJPEGEngine) ContainerExt() string { return "avi" }

func (e *MJPEGEngine) Acquire(ctx context.Context, jobID string) (Session, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrEngineBusy
	}

	workDir := filepath.Join(e.workBase, jobID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		e.busy.Store(false)
		return nil, fmt.Errorf("cannot create work dir: %w", err)
	}

	e.logger.Info("encoder session acquired", "engine", e.Name(), "job_id", jobID)

	return &mjpegSession{engine: e, workDir: workDir, jobID: jobID, clips: map[string]mjpegClip{}}, nil
}

type mjpegClip struct {
	jpegData   []byte
	frameCount int
	width      int
	height     int
}

type mjpegSession struct {
	engine  *MJPEGEngine
	workDir string
	jobID   string
	clips   map[string]mjpegClip
	nextRef int
}

func (s *mjpegSession) EncodeClip(ctx context.Context, clip ClipSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(clip.ImagePath)
	if err != nil {
		return "", fmt.Errorf("open still: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode still: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}

	frames := int(clip.Duration*FrameRate + 0.5)
	if frames < 1 {
		frames = 1
	}

	ref := "clip:" + strconv.Itoa(s.nextRef)
	s.nextRef++
	s.clips[ref] = mjpegClip{
		jpegData:   buf.Bytes(),
		frameCount: frames,
		width:      clip.Resolution.Width,
		height:     clip.Resolution.Height,
	}
	return ref, nil
}

func (s *mjpegSession) Concatenate(ctx context.Context, clipRefs []string) (string, error) {
	if len(clipRefs) == 0 {
		return "", fmt.Errorf("no clips to concatenate")
	}

	first, ok := s.clips[clipRefs[0]]
	if !ok {
		return "", fmt.Errorf("unknown clip reference %q", clipRefs[0])
	}

	outPath := filepath.Join(s.workDir, "slideshow.avi")
	writer, err := mjpeg.New(outPath, int32(first.width), int32(first.height), FrameRate)
	if err != nil {
		return "", fmt.Errorf("create avi: %w", err)
	}

	for _, ref := range clipRefs {
		if err := ctx.Err(); err != nil {
			writer.Close()
			return "", err
		}
		clip, ok := s.clips[ref]
		if !ok {
			writer.Close()
			return "", fmt.Errorf("unknown clip reference %q", ref)
		}
		for i := 0; i < clip.frameCount; i++ {
			if err := writer.AddFrame(clip.jpegData); err != nil {
				writer.Close()
				return "", fmt.Errorf("write frame: %w", err)
			}
		}
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize avi: %w", err)
	}
	return outPath, nil
}

func (s *mjpegSession) MuxAudio(ctx context.Context, videoPath string, audio AudioInput) (string, error) {
	return "", ErrAudioUnsupported
}

func (s *mjpegSession) Release() error {
	defer s.engine.busy.Store(false)
	s.clips = map[string]mjpegClip{}
	if err := os.RemoveAll(s.workDir); err != nil {
		s.engine.logger.Warn("failed to remove session work dir", "job_id", s.jobID, "error", err)
		return err
	}
	s.engine.logger.Info("encoder session released", "job_id", s.jobID)
	return nil
}
