// Package privacy decides what a viewer may learn about an observation and
// obscures locations for everyone else.
package privacy

import (
	"math/rand/v2"

	"github.com/TreeSnap/Export-Service/internal/models"
)

const (
	// FuzzMiles is the distance locations are scattered over.
	FuzzMiles = 5
	precision = 10000
)

// unitsPerMile is the per-mile scalar, 5000/69 units of 1/10,000 degree.
var unitsPerMile float64 = 5000.0 / 69.0

// FuzzRange is the maximum perturbation applied to either axis, in 1/10,000 degree.
// Longitude uses the latitude scalar as well.
var FuzzRange = int(FuzzMiles * unitsPerMile)

// MaxOffsetDegrees is FuzzRange expressed in degrees.
var MaxOffsetDegrees = float64(FuzzRange) / precision

// Source draws uniform integers in [0, n).
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Fuzzifier scatters coordinates within FuzzRange of the original point.
type Fuzzifier struct {
	src Source
}

// NewFuzzifier returns a Fuzzifier drawing from src, or from math/rand/v2 when src is nil.
func NewFuzzifier(src Source) *Fuzzifier {
	if src == nil {
		src = globalSource{}
	}
	return &Fuzzifier{src: src}
}

func (f *Fuzzifier) offset() int {
	return f.src.IntN(2*FuzzRange+1) - FuzzRange
}

// Fuzzify returns a randomised point near (lat, lon). Every call draws anew.
func (f *Fuzzifier) Fuzzify(lat, lon float64) models.Coordinates {
	latitude := lat*precision + float64(f.offset())
	longitude := lon*precision + float64(f.offset())

	return models.Coordinates{
		Latitude:  latitude / precision,
		Longitude: longitude / precision,
	}
}

// FuzzyCoords returns the observation's cached fuzzy coordinates, or a freshly
// computed pair with computed=true. The observation is not modified; storing
// a computed pair is the caller's job.
func (f *Fuzzifier) FuzzyCoords(o *models.Observation) (coords models.Coordinates, computed bool) {
	if o.FuzzyCoords != nil {
		return *o.FuzzyCoords, false
	}
	return f.Fuzzify(o.Latitude, o.Longitude), true
}
