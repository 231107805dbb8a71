package trace

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// FloorDB is reported for bins whose magnitude is zero or too small to be
// represented above it.
const FloorDB = -400.0

// ErrShape is returned for raw sweep buffers that do not hold exactly one
// finite (real, imaginary) pair per stimulus point.
var ErrShape = errors.New("malformed sweep buffer")

// Convert turns a raw buffer of interleaved (real, imaginary) pairs into one
// amplitude in dB per point: 20*log10(sqrt(re^2 + im^2)).
func Convert(raw []float64, points int) ([]float64, error) {
	if points < 1 {
		return nil, fmt.Errorf("%w: point count must be positive, got %d", ErrShape, points)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of samples (%d)", ErrShape, len(raw))
	}
	if len(raw) != 2*points {
		return nil, fmt.Errorf("%w: got %d samples, want %d for %d points", ErrShape, len(raw), 2*points, points)
	}

	re := make([]float64, points)
	im := make([]float64, points)
	for i := 0; i < points; i++ {
		re[i], im[i] = raw[2*i], raw[2*i+1]
		if !finite(re[i]) || !finite(im[i]) {
			return nil, fmt.Errorf("%w: non-finite sample at point %d", ErrShape, i)
		}
	}

	mag := make([]float64, points)
	vecmath.Magnitude(mag, re, im)
	for i, m := range mag {
		// re^2 + im^2 overflows for large finite samples.
		if math.IsInf(m, 0) {
			m = math.Hypot(re[i], im[i])
		}
		mag[i] = toDB(m)
	}
	return mag, nil
}

func toDB(magnitude float64) float64 {
	if magnitude <= 0 {
		return FloorDB
	}
	db := 20 * math.Log10(magnitude)
	if db < FloorDB {
		return FloorDB
	}
	return db
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Timestamps spreads total seconds evenly over sweeps, oldest sweep first:
// k * total/sweeps for k in [0, sweeps).
func Timestamps(total float64, sweeps int) []float64 {
	if sweeps < 1 {
		return nil
	}
	dt := total / float64(sweeps)
	ts := make([]float64, sweeps)
	for k := range ts {
		ts[k] = float64(k) * dt
	}
	return ts
}
