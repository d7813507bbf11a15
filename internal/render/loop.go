package render

import (
	"errors"
	"math"
)

// DefaultHardCapSeconds is the hard ceiling on exported video duration.
const DefaultHardCapSeconds = 180

var (
	ErrNoSlides        = errors.New("project has no slides")
	ErrInvalidDuration = errors.New("per-slide duration must be positive")
)

// LoopPlan is the number of full passes over the slide sequence and the
// resulting total duration.
type LoopPlan struct {
	LoopCount              int
	EffectiveTotalDuration float64
}

// PlanLoops computes how many passes are needed to reach the requested total
// duration. It never clamps against the hard cap; rejecting an over-cap plan
// is the orchestrator's single authoritative check (see Exceeds).
func PlanLoops(slideCount int, perSlideDuration float64, loopEnabled bool, requestedTotalDuration float64) (LoopPlan, error) {
	if slideCount <= 0 {
		return LoopPlan{}, ErrNoSlides
	}
	if perSlideDuration <= 0 {
		return LoopPlan{}, ErrInvalidDuration
	}

	baseDuration := float64(slideCount) * perSlideDuration

	loopCount := 1
	if loopEnabled && requestedTotalDuration > 0 {
		loopCount = int(math.Ceil(requestedTotalDuration / baseDuration))
		if loopCount < 1 {
			loopCount = 1
		}
	}

	return LoopPlan{
		LoopCount:              loopCount,
		EffectiveTotalDuration: float64(loopCount) * baseDuration,
	}, nil
}

// Exceeds reports whether the plan overruns the duration cap.
func (p LoopPlan) Exceeds(hardCapSeconds float64) bool {
	return p.EffectiveTotalDuration > hardCapSeconds
}
