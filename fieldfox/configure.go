package fieldfox

import (
	"fmt"
	"strconv"

	"github.com/golang/glog"

	"github.com/hb9tf/fieldsweep/analyzer"
	"github.com/hb9tf/fieldsweep/scpi"
)

// Configure sends points, start and stop when opts.Override is set and reads
// all three back. The returned options hold what the instrument reports, which
// may differ from the request through clamping or rounding. Sweeps is copied
// from opts untouched; see SetSweepCount.
func Configure(ch scpi.Channel, opts *analyzer.Options) (*analyzer.Options, error) {
	if opts.Override {
		cmds := []string{
			fmt.Sprintf("SENS:SWE:POIN %d", opts.Points),
			"SENS:FREQ:START " + strconv.FormatFloat(opts.StartFreq, 'f', -1, 64),
			"SENS:FREQ:STOP " + strconv.FormatFloat(opts.StopFreq, 'f', -1, 64),
		}
		for _, cmd := range cmds {
			if err := ch.Write(cmd); err != nil {
				return nil, fmt.Errorf("unable to configure sweep: %w", err)
			}
		}
	}

	effective := &analyzer.Options{
		Sweeps:   opts.Sweeps,
		Override: opts.Override,
	}
	resp, err := ch.Query("SENS:SWE:POIN?")
	if err != nil {
		return nil, fmt.Errorf("unable to query point count: %w", err)
	}
	if effective.Points, err = scpi.ParseInt(resp); err != nil {
		return nil, fmt.Errorf("unable to parse point count: %w", err)
	}
	if resp, err = ch.Query("SENS:FREQ:START?"); err != nil {
		return nil, fmt.Errorf("unable to query start frequency: %w", err)
	}
	if effective.StartFreq, err = scpi.ParseFloat(resp); err != nil {
		return nil, fmt.Errorf("unable to parse start frequency: %w", err)
	}
	if resp, err = ch.Query("SENS:FREQ:STOP?"); err != nil {
		return nil, fmt.Errorf("unable to query stop frequency: %w", err)
	}
	if effective.StopFreq, err = scpi.ParseFloat(resp); err != nil {
		return nil, fmt.Errorf("unable to parse stop frequency: %w", err)
	}

	if effective.Points < 1 {
		return nil, fmt.Errorf("instrument reports %d trace points", effective.Points)
	}
	if opts.Override && (effective.Points != opts.Points || effective.StartFreq != opts.StartFreq || effective.StopFreq != opts.StopFreq) {
		glog.Warningf("instrument adjusted sweep: requested %d points %g-%g Hz, using %d points %g-%g Hz",
			opts.Points, opts.StartFreq, opts.StopFreq, effective.Points, effective.StartFreq, effective.StopFreq)
	}
	glog.Infof("number of trace points %d, start frequency %g Hz, stop frequency %g Hz", effective.Points, effective.StartFreq, effective.StopFreq)
	return effective, nil
}

// SetSweepCount sets the number of sweeps accumulated per trigger and returns
// the count the instrument accepted.
func SetSweepCount(ch scpi.Channel, sweeps int) (int, error) {
	if err := ch.Write(fmt.Sprintf("SENS:SWE:COUN %d", sweeps)); err != nil {
		return 0, fmt.Errorf("unable to set sweep count: %w", err)
	}
	resp, err := ch.Query("SENS:SWE:COUN?")
	if err != nil {
		return 0, fmt.Errorf("unable to query sweep count: %w", err)
	}
	n, err := scpi.ParseInt(resp)
	if err != nil {
		return 0, fmt.Errorf("unable to parse sweep count: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("instrument reports sweep count %d", n)
	}
	if n != sweeps {
		glog.Warningf("instrument adjusted sweep count from %d to %d", sweeps, n)
	}
	return n, nil
}
