package fieldfox

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/fieldsweep/analyzer"
	"github.com/hb9tf/fieldsweep/scpi"
	"github.com/hb9tf/fieldsweep/simulator"
	"github.com/hb9tf/fieldsweep/trace"
)

// scripted answers every query with the next canned reply.
type scripted struct {
	replies []string
	queries []string
	timeout time.Duration
}

func (s *scripted) Write(cmd string) error { return nil }
func (s *scripted) Read() (string, error) {
	if len(s.replies) == 0 {
		return "", scpi.ErrTimeout
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}
func (s *scripted) Query(cmd string) (string, error) {
	s.queries = append(s.queries, cmd)
	return s.Read()
}
func (s *scripted) Timeout() time.Duration     { return s.timeout }
func (s *scripted) SetTimeout(d time.Duration) { s.timeout = d }
func (s *scripted) Clear() error               { return nil }
func (s *scripted) Close() error               { return nil }

// interceptor passes everything to the wrapped channel except the queries it
// has overrides for.
type interceptor struct {
	scpi.Channel
	replies map[string]string
	fail    map[string]error
}

func (c *interceptor) Query(cmd string) (string, error) {
	if err, ok := c.fail[cmd]; ok {
		return "", err
	}
	if r, ok := c.replies[cmd]; ok {
		return r, nil
	}
	return c.Channel.Query(cmd)
}

func TestDrainErrorsEmpty(t *testing.T) {
	ch := &scripted{replies: []string{"0,No Error"}}
	records, err := DrainErrors(ch)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Len(t, ch.queries, 1)
}

func TestDrainErrorsUntilSentinel(t *testing.T) {
	ch := &scripted{replies: []string{"1,Fault A", "2,Fault B", "0,No Error", "3,Never read"}}
	records, err := DrainErrors(ch)
	require.NoError(t, err)
	assert.Equal(t, []analyzer.ErrorRecord{
		{Code: 1, Description: "Fault A"},
		{Code: 2, Description: "Fault B"},
	}, records)
	assert.Len(t, ch.queries, 3)
}

func TestDrainErrorsChannelFault(t *testing.T) {
	_, err := DrainErrors(&scripted{replies: []string{"-113,Undefined header"}})
	assert.ErrorIs(t, err, scpi.ErrTimeout)

	_, err = DrainErrors(&scripted{replies: []string{"garbage"}})
	assert.ErrorIs(t, err, scpi.ErrMalformed)
}

func TestDrainErrorsNeverEmpties(t *testing.T) {
	replies := make([]string, maxQueuedErrors+1)
	for i := range replies {
		replies[i] = fmt.Sprintf("%d,Fault", i+1)
	}
	records, err := DrainErrors(&scripted{replies: replies})
	assert.Error(t, err)
	assert.Len(t, records, maxQueuedErrors)
}

func TestConfigureOverride(t *testing.T) {
	sim := simulator.New()
	effective, err := Configure(sim, &analyzer.Options{
		Points:    20000,
		StartFreq: 9.95e9,
		StopFreq:  10.05e9,
		Sweeps:    5,
		Override:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, simulator.MaxPoints, effective.Points, "clamped value must win")
	assert.Equal(t, 9.95e9, effective.StartFreq)
	assert.Equal(t, 10.05e9, effective.StopFreq)
	assert.Equal(t, 5, effective.Sweeps)
	assert.Contains(t, sim.Commands(), "SENS:SWE:POIN 20000")
}

func TestConfigurePresets(t *testing.T) {
	sim := simulator.New()
	effective, err := Configure(sim, &analyzer.Options{Points: 4, StartFreq: 1, StopFreq: 2, Sweeps: 1})
	require.NoError(t, err)
	assert.Equal(t, 401, effective.Points)
	for _, cmd := range sim.Commands() {
		assert.NotContains(t, cmd, "SENS:SWE:POIN ", "presets must not be overridden")
	}
}

func TestSetSweepCount(t *testing.T) {
	sim := simulator.New()
	n, err := SetSweepCount(sim, simulator.MaxSweeps+5)
	require.NoError(t, err)
	assert.Equal(t, simulator.MaxSweeps, n)
}

func endToEndOptions() *analyzer.Options {
	return &analyzer.Options{
		Points:    4,
		StartFreq: 1000,
		StopFreq:  4000,
		Sweeps:    2,
		Override:  true,
	}
}

func TestAcquireEndToEnd(t *testing.T) {
	sim := simulator.New()
	sim.Buffers = [][]float64{
		{1, 0, 2, 0, 3, 0, 4, 0},
		{5, 0, 6, 0, 7, 0, 8, 0},
	}
	a := &Analyzer{Identifier: "test", Channel: sim}

	res, err := a.Acquire(endToEndOptions())
	require.NoError(t, err)
	require.NoError(t, res.Validate())

	assert.Equal(t, "test", res.Identifier)
	assert.Equal(t, SourceName, res.Source)
	assert.Equal(t, simulator.Identity, res.Instrument)
	assert.Equal(t, []float64{1000, 2000, 3000, 4000}, res.Stimulus)
	assert.Equal(t, 2, res.Performed)
	assert.InDelta(t, 0.2, res.TotalTime, 1e-12)

	want := [][]float64{
		{0, 6.02, 9.54, 12.04},
		{13.98, 15.56, 16.90, 18.06},
	}
	require.Len(t, res.Sweeps, 2)
	for k, sweep := range res.Sweeps {
		for i, db := range sweep.Amplitudes {
			assert.InDelta(t, want[k][i], db, 0.01, "sweep %d point %d", k, i)
		}
	}
	assert.InDelta(t, 0.0, res.Sweeps[0].Offset, 1e-12)
	assert.InDelta(t, 0.1, res.Sweeps[1].Offset, 1e-12)

	assert.Empty(t, res.ErrorsBefore)
	assert.Empty(t, res.ErrorsAfter)
	assert.Equal(t, Done, a.State())
	assert.True(t, sim.Continuous(), "free-run trigger must be restored")
}

func TestAcquireChronologicalOrder(t *testing.T) {
	sim := simulator.New()
	// Oldest sweep is the weakest, each newer one is 20 dB stronger.
	sim.Buffers = [][]float64{{0.01, 0}, {0.1, 0}, {1, 0}}
	a := &Analyzer{Channel: sim}

	res, err := a.Acquire(&analyzer.Options{Points: 1, StartFreq: 1e6, StopFreq: 2e6, Sweeps: 3, Override: true})
	// The simulator enforces at least two points, so the buffers no longer fit.
	require.ErrorIs(t, err, trace.ErrShape)
	assert.Nil(t, res)

	sim = simulator.New()
	sim.Buffers = [][]float64{{0.01, 0, 0.01, 0}, {0.1, 0, 0.1, 0}, {1, 0, 1, 0}}
	a = &Analyzer{Channel: sim}
	res, err = a.Acquire(&analyzer.Options{Points: 2, StartFreq: 1e6, StopFreq: 2e6, Sweeps: 3, Override: true})
	require.NoError(t, err)

	var requested []string
	for _, cmd := range sim.Commands() {
		if strings.HasPrefix(cmd, "CALC:DATA:NSW? ") {
			requested = append(requested, cmd)
		}
	}
	assert.Equal(t, []string{
		"CALC:DATA:NSW? SDAT,3",
		"CALC:DATA:NSW? SDAT,2",
		"CALC:DATA:NSW? SDAT,1",
	}, requested)

	require.Len(t, res.Sweeps, 3)
	wantOffsets := []float64{0, 0.1, 0.2}
	wantDB := []float64{-40, -20, 0}
	for k, s := range res.Sweeps {
		assert.InDelta(t, wantOffsets[k], s.Offset, 1e-12)
		assert.InDelta(t, wantDB[k], s.Amplitudes[0], 1e-9)
	}
}

func TestAcquirePresets(t *testing.T) {
	sim := simulator.New()
	a := &Analyzer{Channel: sim}
	res, err := a.Acquire(&analyzer.Options{Sweeps: 3})
	require.NoError(t, err)
	assert.Equal(t, 401, res.Points)
	assert.Len(t, res.Stimulus, 401)
	assert.Len(t, res.Sweeps, 3)
}

func TestAcquireMalformedBuffer(t *testing.T) {
	tests := map[string]map[int]string{
		"non numeric": {2: "1,0,abc,0,3,0,4,0"},
		"odd length":  {2: "1,0,2,0,3,0,4"},
		"short":       {2: "1,0"},
	}
	for name, responses := range tests {
		t.Run(name, func(t *testing.T) {
			sim := simulator.New()
			sim.Buffers = [][]float64{{1, 0, 2, 0, 3, 0, 4, 0}}
			sim.Responses = responses
			a := &Analyzer{Channel: sim}

			res, err := a.Acquire(endToEndOptions())
			assert.ErrorIs(t, err, trace.ErrShape)
			assert.Nil(t, res)
			assert.NotContains(t, sim.Commands(), "CALC:DATA:NSW? SDAT,1", "drain must stop at the first bad sweep")
			assert.True(t, sim.Continuous(), "free-run trigger must be restored")
			assert.Equal(t, Done, a.State())
		})
	}
}

func TestAcquirePresetFailure(t *testing.T) {
	sim := simulator.New()
	ch := &interceptor{Channel: sim, replies: map[string]string{"SYST:PRES;*OPC?": "0"}}
	a := &Analyzer{Channel: ch}

	_, err := a.Acquire(endToEndOptions())
	assert.ErrorIs(t, err, ErrPreset)
	assert.ErrorIs(t, err, scpi.ErrIncomplete)
	assert.Equal(t, Idle, a.State())
}

func TestAcquirePresetReportsErrors(t *testing.T) {
	sim := simulator.New()
	// Mode selection completes but leaves an error in the queue.
	ch := &pushOnQuery{interceptor: &interceptor{Channel: sim}, sim: sim, trigger: "INST:SEL 'SA';*OPC?"}
	a := &Analyzer{Channel: ch}

	_, err := a.Acquire(endToEndOptions())
	assert.ErrorIs(t, err, ErrPreset)
}

// pushOnQuery queues an instrument error when trigger is queried.
type pushOnQuery struct {
	*interceptor
	sim     *simulator.Instrument
	trigger string
}

func (p *pushOnQuery) Query(cmd string) (string, error) {
	if cmd == p.trigger {
		p.sim.PushError(-221, "Settings conflict")
	}
	return p.interceptor.Query(cmd)
}

func TestAcquireTriggerTimeout(t *testing.T) {
	sim := simulator.New()
	ch := &interceptor{Channel: sim, fail: map[string]error{"INIT:IMM;*OPC?": fmt.Errorf("read: %w", scpi.ErrTimeout)}}
	a := &Analyzer{Channel: ch, OPCTimeout: time.Second}

	res, err := a.Acquire(endToEndOptions())
	assert.ErrorIs(t, err, scpi.ErrTimeout)
	assert.Nil(t, res)
	assert.True(t, sim.Continuous(), "free-run trigger must be restored")
	assert.Equal(t, scpi.DefaultTimeout, sim.Timeout(), "channel timeout must be restored")
}

// lateFailure forwards cmd to the wrapped channel and then fails it, like a
// handshake that times out after the instrument acted on the command.
type lateFailure struct {
	scpi.Channel
	cmd string
	err error
}

func (c *lateFailure) Query(cmd string) (string, error) {
	resp, err := c.Channel.Query(cmd)
	if cmd == c.cmd {
		return "", c.err
	}
	return resp, err
}

func TestAcquireHoldTimeout(t *testing.T) {
	sim := simulator.New()
	ch := &lateFailure{Channel: sim, cmd: "INIT:CONT OFF;*OPC?", err: fmt.Errorf("read: %w", scpi.ErrTimeout)}
	a := &Analyzer{Channel: ch, OPCTimeout: time.Second}

	res, err := a.Acquire(endToEndOptions())
	assert.ErrorIs(t, err, scpi.ErrTimeout)
	assert.Nil(t, res)
	assert.True(t, sim.Continuous(), "free-run trigger must be restored")
	assert.Contains(t, sim.Commands(), "INIT:CONT ON")
	assert.Equal(t, Done, a.State())
}

func TestAcquireReportsErrors(t *testing.T) {
	sim := simulator.New()
	// *CLS empties the queue, so the error has to arrive after it.
	a := &Analyzer{Channel: &pushOnQuery{interceptor: &interceptor{Channel: sim}, sim: sim, trigger: "*IDN?"}}

	res, err := a.Acquire(&analyzer.Options{Sweeps: 1})
	require.NoError(t, err)
	assert.Equal(t, []analyzer.ErrorRecord{{Code: -221, Description: "Settings conflict"}}, res.ErrorsBefore)
	assert.Empty(t, res.ErrorsAfter)
}

func TestAcquireInvalidOptions(t *testing.T) {
	a := &Analyzer{Channel: simulator.New()}
	_, err := a.Acquire(&analyzer.Options{Sweeps: 0})
	assert.Error(t, err)

	a = &Analyzer{}
	_, err = a.Acquire(&analyzer.Options{Sweeps: 1})
	assert.Error(t, err)
}

func TestAcquireClosedChannel(t *testing.T) {
	sim := simulator.New()
	sim.Close()
	_, err := (&Analyzer{Channel: sim}).Acquire(&analyzer.Options{Sweeps: 1})
	assert.True(t, errors.Is(err, scpi.ErrClosed))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "holding", Holding.String())
	assert.Equal(t, "State(42)", State(42).String())
}
