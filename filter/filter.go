package filter

import (
	"fmt"

	"github.com/hb9tf/fieldsweep/analyzer"
)

type Filterer interface {
	Apply(*analyzer.Result) (*analyzer.Result, error)
}

// Filter applies filters in order, feeding each the output of the previous.
func Filter(res *analyzer.Result, filters []Filterer) (*analyzer.Result, error) {
	for _, f := range filters {
		var err error
		if res, err = f.Apply(res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// FilterFreq keeps the stimulus points within [FreqLow, FreqHigh] Hz.
type FilterFreq struct {
	FreqLow  float64
	FreqHigh float64
}

func (f *FilterFreq) Apply(res *analyzer.Result) (*analyzer.Result, error) {
	first, last := -1, -1
	for i, freq := range res.Stimulus {
		// Check if the point lies outside of what we want to include.
		if freq < f.FreqLow || freq > f.FreqHigh {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return nil, fmt.Errorf("no stimulus points between %g and %g Hz", f.FreqLow, f.FreqHigh)
	}

	out := *res
	out.Stimulus = append([]float64(nil), res.Stimulus[first:last+1]...)
	out.Points = len(out.Stimulus)
	out.StartFreq = out.Stimulus[0]
	out.StopFreq = out.Stimulus[len(out.Stimulus)-1]
	out.Sweeps = make([]analyzer.Sweep, len(res.Sweeps))
	for k, s := range res.Sweeps {
		out.Sweeps[k] = analyzer.Sweep{
			Offset:     s.Offset,
			Amplitudes: append([]float64(nil), s.Amplitudes[first:last+1]...),
		}
	}
	return &out, nil
}
