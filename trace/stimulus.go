package trace

import "fmt"

// Stimulus builds the frequency axis: points evenly spaced values from start
// to stop inclusive. A single point axis is just [start].
func Stimulus(start, stop float64, points int) ([]float64, error) {
	switch {
	case points < 1:
		return nil, fmt.Errorf("point count must be positive, got %d", points)
	case points == 1:
		return []float64{start}, nil
	case start >= stop:
		return nil, fmt.Errorf("start %g must be below stop %g", start, stop)
	}

	axis := make([]float64, points)
	step := (stop - start) / float64(points-1)
	for i := range axis {
		axis[i] = start + float64(i)*step
	}
	// Avoid accumulated rounding on the last point.
	axis[points-1] = stop
	return axis, nil
}
