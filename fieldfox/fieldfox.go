package fieldfox

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/fieldsweep/analyzer"
	"github.com/hb9tf/fieldsweep/scpi"
	"github.com/hb9tf/fieldsweep/trace"
)

const (
	SourceName = "fieldfox"

	// DefaultOPCTimeout bounds presets and multi-sweep triggers.
	DefaultOPCTimeout = 60 * time.Second
)

// ErrPreset is returned when the instrument reports errors right after the
// preset and mode selection; nothing measured afterwards could be trusted.
var ErrPreset = errors.New("instrument preset failed")

type State int

const (
	Idle State = iota
	Configured
	Holding
	Triggered
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case Holding:
		return "holding"
	case Triggered:
		return "triggered"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Analyzer runs single sweep sessions on a FieldFox in spectrum analyzer mode.
// The caller owns Channel and is responsible for clearing and closing it.
type Analyzer struct {
	Identifier string
	Channel    scpi.Channel
	// OPCTimeout applies to preset and trigger handshakes. Zero means
	// DefaultOPCTimeout.
	OPCTimeout time.Duration

	state State
}

func (a *Analyzer) Name() string {
	return SourceName
}

// State returns the last state the acquisition reached.
func (a *Analyzer) State() State {
	return a.state
}

func (a *Analyzer) transition(to State) {
	glog.V(1).Infof("acquisition %s -> %s", a.state, to)
	a.state = to
}

func (a *Analyzer) opcTimeout() time.Duration {
	if a.OPCTimeout > 0 {
		return a.OPCTimeout
	}
	return DefaultOPCTimeout
}

// Acquire runs one session: error check, preset, configuration, a single
// trigger over opts.Sweeps sweeps, retrieval of every sweep and a final error
// check. No partial result is returned on failure.
func (a *Analyzer) Acquire(opts *analyzer.Options) (*analyzer.Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if a.Channel == nil {
		return nil, fmt.Errorf("no instrument channel")
	}
	a.state = Idle
	ch := a.Channel

	res := &analyzer.Result{
		Identifier: a.Identifier,
		Source:     a.Name(),
		Start:      time.Now(),
	}

	if err := ch.Write("*CLS"); err != nil {
		return nil, fmt.Errorf("unable to clear status: %w", err)
	}
	idn, err := ch.Query("*IDN?")
	if err != nil {
		return nil, fmt.Errorf("unable to identify instrument: %w", err)
	}
	res.Instrument = idn
	glog.Infof("connected to %s", idn)

	if res.ErrorsBefore, err = DrainErrors(ch); err != nil {
		return nil, err
	}
	logErrors("session start", res.ErrorsBefore)

	raw, runErr := a.run(opts, res)

	// The closing error check runs even after a failed run so the operator
	// always gets to compare the queue before and after.
	after, err := DrainErrors(ch)
	res.ErrorsAfter = after
	logErrors("session end", after)
	if runErr != nil {
		if err != nil {
			glog.Warningf("closing error check failed: %s", err)
		}
		return nil, runErr
	}
	if err != nil {
		return nil, err
	}

	if res.Stimulus, err = trace.Stimulus(res.StartFreq, res.StopFreq, res.Points); err != nil {
		return nil, fmt.Errorf("unable to build stimulus axis: %w", err)
	}
	offsets := trace.Timestamps(res.TotalTime, len(raw))
	res.Sweeps = make([]analyzer.Sweep, len(raw))
	for k, buf := range raw {
		db, err := trace.Convert(buf, res.Points)
		if err != nil {
			return nil, fmt.Errorf("sweep %d: %w", k, err)
		}
		res.Sweeps[k] = analyzer.Sweep{Offset: offsets[k], Amplitudes: db}
	}
	return res, nil
}

// run walks the trigger state machine and returns the raw sweep buffers
// oldest first. Free-run triggering is restored on every exit once hold mode
// was requested.
func (a *Analyzer) run(opts *analyzer.Options, res *analyzer.Result) (raw [][]float64, err error) {
	ch := a.Channel

	if err := scpi.OPC(ch, "SYST:PRES", a.opcTimeout()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPreset, err)
	}
	glog.Info("preset complete")
	if err := scpi.OPC(ch, "INST:SEL 'SA'", a.opcTimeout()); err != nil {
		return nil, fmt.Errorf("%w: unable to select spectrum analyzer mode: %w", ErrPreset, err)
	}
	presetErrs, err := DrainErrors(ch)
	if err != nil {
		return nil, err
	}
	if len(presetErrs) > 0 {
		return nil, fmt.Errorf("%w: instrument reported %v", ErrPreset, presetErrs)
	}
	a.transition(Configured)

	effective, err := Configure(ch, opts)
	if err != nil {
		return nil, err
	}
	res.Points = effective.Points
	res.StartFreq = effective.StartFreq
	res.StopFreq = effective.StopFreq

	// The hold command may take effect even when its handshake fails, so
	// free-run is restored from here on.
	defer func() {
		if werr := ch.Write("INIT:CONT ON"); werr != nil {
			glog.Warningf("unable to restore free-run trigger: %s", werr)
			if err == nil {
				err = fmt.Errorf("unable to restore free-run trigger: %w", werr)
			}
		}
		a.transition(Done)
	}()
	if err := scpi.OPC(ch, "INIT:CONT OFF", 0); err != nil {
		return nil, fmt.Errorf("unable to hold trigger: %w", err)
	}
	a.transition(Holding)

	sweeps, err := SetSweepCount(ch, opts.Sweeps)
	if err != nil {
		return nil, err
	}
	if err := scpi.OPC(ch, "INIT:IMM", a.opcTimeout()); err != nil {
		return nil, fmt.Errorf("single trigger failed: %w", err)
	}
	a.transition(Triggered)
	glog.Infof("single trigger over %d sweeps complete", sweeps)

	resp, err := ch.Query("CALC:DATA:NSW:COUN?")
	if err != nil {
		return nil, fmt.Errorf("unable to query performed sweeps: %w", err)
	}
	if res.Performed, err = scpi.ParseInt(resp); err != nil {
		return nil, fmt.Errorf("unable to parse performed sweeps: %w", err)
	}
	if res.Performed != sweeps {
		glog.Warningf("instrument performed %d sweeps, %d requested", res.Performed, sweeps)
	}
	if resp, err = ch.Query("SENS:SWE:TIME?"); err != nil {
		return nil, fmt.Errorf("unable to query sweep time: %w", err)
	}
	if res.TotalTime, err = scpi.ParseFloat(resp); err != nil {
		return nil, fmt.Errorf("unable to parse sweep time: %w", err)
	}

	a.transition(Draining)
	return drain(ch, sweeps, res.Points)
}

// drain retrieves every buffered sweep. Positions are requested from the
// sweep count (most recent) down to 1 (oldest), so the staged buffers are
// reversed before returning them oldest first.
func drain(ch scpi.Channel, sweeps, points int) ([][]float64, error) {
	staged := make([][]float64, 0, sweeps)
	for j := sweeps; j >= 1; j-- {
		resp, err := ch.Query(fmt.Sprintf("CALC:DATA:NSW? SDAT,%d", j))
		if err != nil {
			return nil, fmt.Errorf("unable to read sweep %d: %w", j, err)
		}
		buf, err := scpi.ParseFloats(resp)
		if err != nil {
			return nil, fmt.Errorf("%w: sweep %d: %w", trace.ErrShape, j, err)
		}
		if len(buf) != 2*points {
			return nil, fmt.Errorf("%w: sweep %d holds %d samples, want %d", trace.ErrShape, j, len(buf), 2*points)
		}
		staged = append(staged, buf)
	}
	for l, r := 0, len(staged)-1; l < r; l, r = l+1, r-1 {
		staged[l], staged[r] = staged[r], staged[l]
	}
	return staged, nil
}

func logErrors(when string, records []analyzer.ErrorRecord) {
	if len(records) == 0 {
		glog.Infof("%s: +0, No Error", when)
		return
	}
	glog.Warningf("%s: instrument reported %d errors: %v", when, len(records), records)
}
