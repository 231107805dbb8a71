// Package simulator provides an in-process spectrum analyzer speaking the
// small SCPI dialect the fieldfox driver uses. It implements scpi.Channel so
// sessions can run without hardware.
package simulator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/fieldsweep/scpi"
)

const (
	Identity = "Keysight Technologies,N9952A,SIM0000001,A.10.17"

	MinPoints = 2
	MaxPoints = 10001
	MaxSweeps = 1000
	MinFreq   = 0.0
	MaxFreq   = 50e9
	MinSpan   = 10.0

	presetPoints = 401
	presetStart  = 9e3
	presetStop   = 50e9
)

type queueEntry struct {
	code int
	desc string
}

// Instrument is a simulated analyzer. Zero values of the exported fields are
// replaced by presets in New.
type Instrument struct {
	// SweepTime is the simulated duration of one sweep in seconds.
	SweepTime float64
	// Buffers, when set, are returned as the raw (real, imaginary) data of
	// consecutive sweeps, oldest first. They are reused cyclically.
	Buffers [][]float64
	// Responses overrides the reply to CALC:DATA:NSW? SDAT,<position>.
	Responses map[int]string
	// Generate produces the complex sample of one bin when Buffers is empty.
	Generate func(sweep int, freq float64) (float64, float64)

	mu         sync.Mutex
	points     int
	startFreq  float64
	stopFreq   float64
	sweeps     int
	continuous bool
	mode       string
	captured   [][]float64
	errQueue   []queueEntry
	pending    []string
	timeout    time.Duration
	closed     bool
	commands   []string
}

func New() *Instrument {
	i := &Instrument{
		SweepTime: 0.1,
		Generate:  Tone,
		timeout:   scpi.DefaultTimeout,
	}
	i.preset()
	return i
}

func (i *Instrument) preset() {
	i.points = presetPoints
	i.startFreq = presetStart
	i.stopFreq = presetStop
	i.sweeps = 1
	i.continuous = true
	i.mode = "NA"
	i.captured = nil
}

// Tone is the default generator: a -60 dB floor with a 0 dB carrier in the
// middle of the 9.95 to 10.05 GHz window, drifting slowly in phase per sweep.
func Tone(sweep int, freq float64) (float64, float64) {
	const carrier = 10e9
	amp := 1e-3
	if d := math.Abs(freq - carrier); d < 1e6 {
		amp = 1 - d/1e6*(1-1e-3)
	}
	phase := float64(sweep)*0.1 + freq*1e-9
	return amp * math.Cos(phase), amp * math.Sin(phase)
}

// Commands returns every command segment received so far.
func (i *Instrument) Commands() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.commands...)
}

// PushError appends an entry to the error queue.
func (i *Instrument) PushError(code int, desc string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.errQueue = append(i.errQueue, queueEntry{code, desc})
}

// Continuous reports whether free-run triggering is on.
func (i *Instrument) Continuous() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.continuous
}

func (i *Instrument) Write(cmd string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return scpi.ErrClosed
	}
	for _, seg := range strings.Split(cmd, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		i.commands = append(i.commands, seg)
		i.handle(seg)
	}
	return nil
}

func (i *Instrument) Read() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return "", scpi.ErrClosed
	}
	if len(i.pending) == 0 {
		return "", fmt.Errorf("read after %s: %w", i.timeout, scpi.ErrTimeout)
	}
	resp := i.pending[0]
	i.pending = i.pending[1:]
	return resp, nil
}

func (i *Instrument) Query(cmd string) (string, error) {
	if err := i.Write(cmd); err != nil {
		return "", err
	}
	return i.Read()
}

func (i *Instrument) Timeout() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.timeout
}

func (i *Instrument) SetTimeout(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.timeout = d
}

func (i *Instrument) Clear() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pending = nil
	return nil
}

func (i *Instrument) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

func (i *Instrument) reply(s string) {
	i.pending = append(i.pending, s)
}

func (i *Instrument) fail(code int, desc string) {
	glog.V(2).Infof("simulator error %d: %s", code, desc)
	i.errQueue = append(i.errQueue, queueEntry{code, desc})
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (i *Instrument) handle(seg string) {
	header, arg, _ := strings.Cut(seg, " ")
	header = strings.ToUpper(header)
	arg = strings.TrimSpace(arg)

	switch header {
	case "*CLS":
		i.errQueue = nil
	case "*IDN?":
		i.reply(Identity)
	case "*OPC?":
		i.reply("1")
	case "*RST", "SYST:PRES":
		i.preset()
	case "SYST:ERR?":
		if len(i.errQueue) == 0 {
			i.reply(`+0,"No error"`)
			return
		}
		e := i.errQueue[0]
		i.errQueue = i.errQueue[1:]
		i.reply(fmt.Sprintf("%+d,%q", e.code, e.desc))
	case "INST:SEL":
		mode := strings.ToUpper(strings.Trim(arg, `'"`))
		switch mode {
		case "SA", "NA", "CAT":
			i.mode = mode
		default:
			i.fail(-224, "Illegal parameter value")
		}
	case "INST:SEL?":
		i.reply(fmt.Sprintf("%q", i.mode))
	case "SENS:SWE:POIN":
		n, err := scpi.ParseInt(arg)
		if err != nil {
			i.fail(-104, "Data type error")
			return
		}
		i.points = clampInt(n, MinPoints, MaxPoints)
	case "SENS:SWE:POIN?":
		i.reply(strconv.Itoa(i.points))
	case "SENS:FREQ:START":
		f, err := scpi.ParseFloat(arg)
		if err != nil {
			i.fail(-104, "Data type error")
			return
		}
		i.startFreq = math.Min(math.Max(f, MinFreq), MaxFreq-MinSpan)
		if i.stopFreq-i.startFreq < MinSpan {
			i.stopFreq = i.startFreq + MinSpan
		}
	case "SENS:FREQ:START?":
		i.reply(formatFloat(i.startFreq))
	case "SENS:FREQ:STOP":
		f, err := scpi.ParseFloat(arg)
		if err != nil {
			i.fail(-104, "Data type error")
			return
		}
		i.stopFreq = math.Min(math.Max(f, MinFreq+MinSpan), MaxFreq)
		if i.stopFreq-i.startFreq < MinSpan {
			i.startFreq = i.stopFreq - MinSpan
		}
	case "SENS:FREQ:STOP?":
		i.reply(formatFloat(i.stopFreq))
	case "SENS:SWE:COUN":
		n, err := scpi.ParseInt(arg)
		if err != nil {
			i.fail(-104, "Data type error")
			return
		}
		i.sweeps = clampInt(n, 1, MaxSweeps)
	case "SENS:SWE:COUN?":
		i.reply(strconv.Itoa(i.sweeps))
	case "INIT:CONT":
		switch strings.ToUpper(arg) {
		case "ON", "1":
			i.continuous = true
		case "OFF", "0":
			i.continuous = false
		default:
			i.fail(-224, "Illegal parameter value")
		}
	case "INIT:CONT?":
		if i.continuous {
			i.reply("1")
		} else {
			i.reply("0")
		}
	case "INIT:IMM":
		i.trigger()
	case "CALC:DATA:NSW:COUN?":
		i.reply(strconv.Itoa(len(i.captured)))
	case "SENS:SWE:TIME?":
		i.reply(formatFloat(i.SweepTime * float64(len(i.captured))))
	case "CALC:DATA:NSW?":
		i.sweepData(arg)
	default:
		i.fail(-113, "Undefined header")
	}
}

func (i *Instrument) trigger() {
	if i.mode != "SA" {
		i.fail(-221, "Settings conflict")
		return
	}
	i.captured = make([][]float64, i.sweeps)
	for s := range i.captured {
		if len(i.Buffers) > 0 {
			i.captured[s] = i.Buffers[s%len(i.Buffers)]
			continue
		}
		raw := make([]float64, 0, 2*i.points)
		step := 0.0
		if i.points > 1 {
			step = (i.stopFreq - i.startFreq) / float64(i.points-1)
		}
		for p := 0; p < i.points; p++ {
			re, im := i.Generate(s, i.startFreq+float64(p)*step)
			raw = append(raw, re, im)
		}
		i.captured[s] = raw
	}
}

// sweepData answers CALC:DATA:NSW? SDAT,<position>. Position n (the sweep
// count) addresses the most recent sweep, position 1 the oldest.
func (i *Instrument) sweepData(arg string) {
	kind, pos, ok := strings.Cut(arg, ",")
	if !ok || !strings.EqualFold(strings.TrimSpace(kind), "SDAT") {
		i.fail(-109, "Missing parameter")
		return
	}
	p, err := scpi.ParseInt(pos)
	if err != nil || p < 1 || p > len(i.captured) {
		i.fail(-222, "Data out of range")
		return
	}
	if resp, ok := i.Responses[p]; ok {
		i.reply(resp)
		return
	}
	raw := i.captured[p-1]
	tokens := make([]string, len(raw))
	for k, v := range raw {
		tokens[k] = formatFloat(v)
	}
	i.reply(strings.Join(tokens, ","))
}

func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
