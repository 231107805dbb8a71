package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"

	"github.com/hb9tf/fieldsweep/analyzer"
)

// CSV writes a session as one header row, the stimulus row and one row per
// sweep led by its relative time in seconds. Output goes to Path, or to Out
// (stdout when nil) if Path is empty.
type CSV struct {
	Path string
	Out  io.Writer
}

func (c *CSV) Write(ctx context.Context, res *analyzer.Result) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	if c.Path != "" {
		f, err := os.Create(c.Path)
		if err != nil {
			return fmt.Errorf("unable to create CSV file %q: %s", c.Path, err)
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	header := []string{"Frequency (Hz)"}
	for k := range res.Sweeps {
		header = append(header, fmt.Sprintf("Amplitude (dB) - Set %d", k))
	}
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.Write(formatRow(res.Stimulus)); err != nil {
		return err
	}
	for k, s := range res.Sweeps {
		row := append([]string{fmt.Sprintf("%f", s.Offset)}, formatRow(s.Amplitudes)...)
		if err := w.Write(row); err != nil {
			glog.Warningf("error while writing CSV line for sweep %d: %s\n", k, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("error flushing CSV: %s", err)
	}
	glog.Infof("wrote %d sweeps of %d points as CSV", len(res.Sweeps), res.Points)
	return nil
}

func formatRow(values []float64) []string {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = fmt.Sprintf("%f", v)
	}
	return row
}
