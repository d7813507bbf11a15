package render

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	doctorCacheTTL = 5 * time.Minute
	doctorTimeout  = 15 * time.Second
)

// Capabilities reports what the local encoder environment can do.
type Capabilities struct {
	HasFFmpeg  bool      `json:"has_ffmpeg"`
	FFmpegPath string    `json:"ffmpeg_path,omitempty"`
	Version    string    `json:"version,omitempty"`
	ProbedAt   time.Time `json:"probed_at"`
}

// Doctor probes for a usable ffmpeg binary and caches the result, so status
// requests and export starts never pay for repeated probes.
type Doctor struct {
	preferred string // configured ffmpeg path; empty = auto-detect
	ttl       time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewDoctor(preferredFFmpeg string, logger *slog.Logger) *Doctor {
	return &Doctor{
		preferred: preferredFFmpeg,
		ttl:       doctorCacheTTL,
		logger:    logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *Doctor) Get(ctx context.Context) *Capabilities {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the cached capabilities without probing, possibly nil.
func (d *Doctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *Doctor) Refresh(ctx context.Context) *Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps := &Capabilities{ProbedAt: time.Now()}

	path, err := resolveFFmpeg(d.preferred)
	if err != nil {
		d.logger.Warn("ffmpeg not available, exports will use the mjpeg fallback", "error", err)
		d.cached = caps
		return caps
	}

	caps.HasFFmpeg = true
	caps.FFmpegPath = path
	caps.Version = probeVersion(ctx, path)

	d.logger.Info("encoder probe complete", "ffmpeg", path, "version", caps.Version)

	d.cached = caps
	return caps
}

// Invalidate clears the cached capabilities.
func (d *Doctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

func probeVersion(ctx context.Context, ffmpegPath string) string {
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-version")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}

	// First line looks like "ffmpeg version 6.1 Copyright ...".
	line, _, _ := strings.Cut(out.String(), "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2]
	}
	return strings.TrimSpace(line)
}
