package render

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDoctor_MissingBinary(t *testing.T) {
	doctor := NewDoctor("/nonexistent/ffmpeg-binary", testLogger())

	if doctor.Peek() != nil {
		t.Error("Peek() before probe should be nil")
	}

	caps := doctor.Get(context.Background())
	if caps == nil {
		t.Fatal("Get() returned nil")
	}
	if caps.HasFFmpeg {
		t.Error("HasFFmpeg = true for a nonexistent binary")
	}
	if caps.ProbedAt.IsZero() {
		t.Error("ProbedAt not set")
	}

	// Second Get within the TTL returns the same cached probe.
	again := doctor.Get(context.Background())
	if again != caps {
		t.Error("Get() re-probed inside the TTL")
	}

	doctor.Invalidate()
	if doctor.Peek() != nil {
		t.Error("Peek() after Invalidate should be nil")
	}
}

func TestDoctor_FakeFFmpegVersion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub not runnable on windows")
	}

	dir := t.TempDir()
	fake := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\necho 'ffmpeg version 6.1.1 Copyright (c) 2000-2023'\n"
	if err := os.WriteFile(fake, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	doctor := NewDoctor(fake, testLogger())
	caps := doctor.Refresh(context.Background())

	if !caps.HasFFmpeg {
		t.Fatal("HasFFmpeg = false for the stub binary")
	}
	if caps.Version != "6.1.1" {
		t.Errorf("Version = %q, want 6.1.1", caps.Version)
	}
	if caps.FFmpegPath != fake {
		t.Errorf("FFmpegPath = %q, want %q", caps.FFmpegPath, fake)
	}
}
