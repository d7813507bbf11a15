// Package timing converts musical tempo into per-slide display durations.
// Durations are expressed as fractions of a 4-beat bar so slides stay locked
// to the beat of the selected track.
package timing

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MinTempoBPM and MaxTempoBPM bound the tempo values the agent accepts.
	MinTempoBPM = 20
	MaxTempoBPM = 300

	// beatsPerBar is fixed; the app works in 4/4 meter only.
	beatsPerBar = 4

	// matchEpsilon is the tolerance used when mapping a duration back to a
	// subdivision.
	matchEpsilon = 0.01
)

var ErrTempoOutOfRange = errors.New("tempo out of range")

// Subdivision is a musical fraction of a 4-beat bar.
type Subdivision float64

const (
	SubdivisionEighth      Subdivision = 0.125
	SubdivisionQuarter     Subdivision = 0.25
	SubdivisionHalf        Subdivision = 0.5
	SubdivisionBar         Subdivision = 1
	SubdivisionTwoBars     Subdivision = 2
	SubdivisionFourBars    Subdivision = 4
	SubdivisionEightBars   Subdivision = 8
	SubdivisionSixteenBars Subdivision = 16
)

// Subdivisions is the enumerated set, ordered shortest to longest.
var Subdivisions = []Subdivision{
	SubdivisionEighth,
	SubdivisionQuarter,
	SubdivisionHalf,
	SubdivisionBar,
	SubdivisionTwoBars,
	SubdivisionFourBars,
	SubdivisionEightBars,
	SubdivisionSixteenBars,
}

// Valid reports whether s is a member of the enumerated set.
func (s Subdivision) Valid() bool {
	for _, sub := range Subdivisions {
		if s == sub {
			return true
		}
	}
	return false
}

// ValidateTempo checks that a tempo is inside the accepted range.
// Out-of-range values are a validation error, never silently clamped.
func ValidateTempo(tempoBPM float64) error {
	if math.IsNaN(tempoBPM) || tempoBPM < MinTempoBPM || tempoBPM > MaxTempoBPM {
		return fmt.Errorf("%w: %.2f not in [%d, %d]", ErrTempoOutOfRange, tempoBPM, MinTempoBPM, MaxTempoBPM)
	}
	return nil
}

// ComputeSlideDuration returns the display duration in seconds for one slide:
// subdivision * 4 beats * 60 / tempo.
func ComputeSlideDuration(tempoBPM float64, sub Subdivision) (float64, error) {
	if err := ValidateTempo(tempoBPM); err != nil {
		return 0, err
	}
	if !sub.Valid() {
		return 0, fmt.Errorf("invalid subdivision %v", float64(sub))
	}
	return float64(sub) * beatsPerBar * 60 / tempoBPM, nil
}

// MatchSubdivision selects the subdivision whose computed duration is within
// epsilon of the given duration at the given tempo. Defaults to one bar when
// nothing matches.
func MatchSubdivision(duration, tempoBPM float64) Subdivision {
	if ValidateTempo(tempoBPM) != nil {
		return SubdivisionBar
	}
	for _, sub := range Subdivisions {
		d := float64(sub) * beatsPerBar * 60 / tempoBPM
		if math.Abs(d-duration) < matchEpsilon {
			return sub
		}
	}
	return SubdivisionBar
}
