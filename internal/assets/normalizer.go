package assets

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	_ "image/gif"
	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"
)

var ErrUnreadableImage = errors.New("unreadable image")

// Normalizer scales source images to an exact target resolution and caches
// the result on disk as PNG. Cache entries are keyed by source fingerprint,
// resolution and fit mode, so a changed source or resolution produces a new
// entry and everything else is a hit.
type Normalizer struct {
	dir    string
	logger *slog.Logger
}

func NewNormalizer(dir string, logger *slog.Logger) (*Normalizer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create normalized assets dir: %w", err)
	}
	return &Normalizer{dir: dir, logger: logger}, nil
}

// CachePath returns the deterministic location of a normalized asset.
func (n *Normalizer) CachePath(fingerprint string, target Resolution, fit FitMode) string {
	return filepath.Join(n.dir, fmt.Sprintf("%s_%s_%s.png", fingerprint, target, fit))
}

// Normalize produces (or reuses) the normalized PNG for one source image and
// returns its path. A decode failure is reported, never swallowed; the caller
// decides how to surface which slide failed.
func (n *Normalizer) Normalize(sourcePath, fingerprint string, target Resolution, fit FitMode) (string, error) {
	outPath := n.CachePath(fingerprint, target, fit)
	if _, err := os.Stat(outPath); err == nil {
		return outPath, nil
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrUnreadableImage, filepath.Base(sourcePath), err)
	}

	dst := Render(src, target, fit)

	tmp := outPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("cannot create normalized asset: %w", err)
	}
	if err := png.Encode(out, dst); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("cannot encode normalized asset: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("cannot write normalized asset: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("cannot place normalized asset: %w", err)
	}

	if n.logger != nil {
		n.logger.Debug("normalized asset",
			"source", filepath.Base(sourcePath),
			"resolution", target.String(),
			"fit", string(fit),
		)
	}
	return outPath, nil
}

// Render scales src into an exact target-sized RGBA frame. Contain letterboxes
// against a black background, cover fills and center-crops. Deterministic:
// the same source and parameters always yield identical pixels.
func Render(src image.Image, target Resolution, fit FitMode) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	xdraw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, xdraw.Src)

	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return dst
	}

	scaleX := float64(target.Width) / float64(sb.Dx())
	scaleY := float64(target.Height) / float64(sb.Dy())

	var scale float64
	if fit == FitCover {
		scale = scaleX
		if scaleY > scaleX {
			scale = scaleY
		}
	} else {
		scale = scaleX
		if scaleY < scaleX {
			scale = scaleY
		}
	}

	dw := int(float64(sb.Dx())*scale + 0.5)
	dh := int(float64(sb.Dy())*scale + 0.5)
	ox := (target.Width - dw) / 2
	oy := (target.Height - dh) / 2

	// For cover the rect overflows the frame and Scale clips to dst bounds,
	// which is exactly the center crop.
	dr := image.Rect(ox, oy, ox+dw, oy+dh)
	xdraw.CatmullRom.Scale(dst, dr, src, sb, xdraw.Over, nil)

	return dst
}
