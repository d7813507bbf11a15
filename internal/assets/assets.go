// Package assets handles image normalization for export: every slide image is
// scaled once to the project's target resolution and cached, so repeated
// exports never re-do the work unless the source or resolution changed.
package assets

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Resolution is a fixed output frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

// Presets are the two supported output resolutions.
var Presets = []Resolution{
	{Width: 720, Height: 1280},
	{Width: 1080, Height: 1920},
}

var ErrUnsupportedResolution = errors.New("unsupported resolution")

// ParseResolution parses a "WIDTHxHEIGHT" string and checks it against the
// supported presets.
func ParseResolution(s string) (Resolution, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "x", 2)
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnsupportedResolution, s)
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnsupportedResolution, s)
	}
	res := Resolution{Width: w, Height: h}
	for _, p := range Presets {
		if res == p {
			return res, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %q", ErrUnsupportedResolution, s)
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// FitMode is the policy for reconciling source aspect ratio with the target
// frame.
type FitMode string

const (
	// FitContain letterboxes: the whole image is visible, padded with black.
	FitContain FitMode = "contain"
	// FitCover fills the frame and center-crops the overflow.
	FitCover FitMode = "cover"
)

// ParseFitMode validates a fit mode string.
func ParseFitMode(s string) (FitMode, error) {
	switch FitMode(strings.ToLower(strings.TrimSpace(s))) {
	case FitContain:
		return FitContain, nil
	case FitCover:
		return FitCover, nil
	default:
		return "", fmt.Errorf("invalid fit mode %q (want contain or cover)", s)
	}
}
