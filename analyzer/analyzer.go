package analyzer

import (
	"fmt"
	"time"
)

type Analyzer interface {
	Name() string
	Acquire(opts *Options) (*Result, error)
}

// Options describe the sweeps to acquire. Points, StartFreq and StopFreq are
// only sent to the instrument when Override is set, otherwise the instrument
// presets apply. The values an instrument reports back are authoritative.
type Options struct {
	// Points is the number of stimulus points per sweep.
	Points int
	// StartFreq is the lower stimulus bound in Hz.
	StartFreq float64
	// StopFreq is the upper stimulus bound in Hz.
	StopFreq float64
	// Sweeps is the number of sweeps accumulated by a single trigger.
	Sweeps int

	Override bool
}

func (o *Options) Validate() error {
	if o.Sweeps < 1 {
		return fmt.Errorf("sweep count must be positive, got %d", o.Sweeps)
	}
	if !o.Override {
		return nil
	}
	if o.Points < 1 {
		return fmt.Errorf("point count must be positive, got %d", o.Points)
	}
	if o.StartFreq >= o.StopFreq {
		return fmt.Errorf("start frequency %g Hz must be below stop frequency %g Hz", o.StartFreq, o.StopFreq)
	}
	return nil
}

// ErrorRecord is one entry of the instrument error queue. Code 0 never
// appears in a collected set.
type ErrorRecord struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

func (e ErrorRecord) String() string {
	return fmt.Sprintf("%+d,%q", e.Code, e.Description)
}

// Sweep is the amplitude trace of a single sweep.
type Sweep struct {
	// Offset is the time in seconds since the first sweep of the session.
	Offset float64 `json:"offset"`
	// Amplitudes holds one dB value per stimulus point.
	Amplitudes []float64 `json:"amplitudes"`
}

// Result is everything a session produced. Sweeps are ordered oldest first.
type Result struct {
	// Metadata
	Identifier string    `json:"identifier"`
	Source     string    `json:"source"`
	Instrument string    `json:"instrument"`
	Start      time.Time `json:"start"`

	// Effective sweep parameters as reported by the instrument.
	Points    int     `json:"points"`
	StartFreq float64 `json:"startFreq"`
	StopFreq  float64 `json:"stopFreq"`

	// TotalTime is the instrument reported duration of all sweeps in seconds.
	TotalTime float64 `json:"totalTime"`
	// Performed is the sweep count the instrument reports having completed.
	Performed int `json:"performed"`

	Stimulus []float64 `json:"stimulus"`
	Sweeps   []Sweep   `json:"sweeps"`

	ErrorsBefore []ErrorRecord `json:"errorsBefore,omitempty"`
	ErrorsAfter  []ErrorRecord `json:"errorsAfter,omitempty"`
}

// Validate checks the shape invariants of a result: one stimulus value and
// one amplitude per point for every sweep.
func (r *Result) Validate() error {
	if r.Points < 1 {
		return fmt.Errorf("point count must be positive, got %d", r.Points)
	}
	if len(r.Stimulus) != r.Points {
		return fmt.Errorf("stimulus axis has %d values, want %d", len(r.Stimulus), r.Points)
	}
	if len(r.Sweeps) == 0 {
		return fmt.Errorf("result holds no sweeps")
	}
	for i, s := range r.Sweeps {
		if len(s.Amplitudes) != r.Points {
			return fmt.Errorf("sweep %d has %d amplitudes, want %d", i, len(s.Amplitudes), r.Points)
		}
	}
	return nil
}

// MinMax returns the lowest and highest amplitude across all sweeps.
func (r *Result) MinMax() (float64, float64) {
	lo, hi := 0.0, 0.0
	first := true
	for _, s := range r.Sweeps {
		for _, db := range s.Amplitudes {
			if first {
				lo, hi = db, db
				first = false
				continue
			}
			if db < lo {
				lo = db
			}
			if db > hi {
				hi = db
			}
		}
	}
	return lo, hi
}
