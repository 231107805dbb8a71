package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/segmentio/parquet-go"

	"github.com/hb9tf/fieldsweep/analyzer"
)

// SampleRow is one amplitude reading as stored in parquet files.
type SampleRow struct {
	Sweep       int32   `parquet:"sweep"`
	SweepOffset float64 `parquet:"sweep_offset"`
	Bin         int32   `parquet:"bin"`
	Freq        float64 `parquet:"freq"`
	DB          float64 `parquet:"db"`
}

// Parquet writes one SampleRow per sweep and stimulus point. The session
// metadata (everything but the samples) is stored as JSON in the "session"
// key of the file metadata.
type Parquet struct {
	Path string
	Out  io.Writer
}

func (p *Parquet) Write(ctx context.Context, res *analyzer.Result) error {
	if err := res.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid session: %w", err)
	}
	out := p.Out
	if p.Path != "" {
		f, err := os.Create(p.Path)
		if err != nil {
			return fmt.Errorf("unable to create parquet file %q: %s", p.Path, err)
		}
		defer f.Close()
		out = f
	}
	if out == nil {
		return fmt.Errorf("parquet export needs a file path")
	}

	meta := *res
	meta.Stimulus = nil
	meta.Sweeps = nil
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	w := parquet.NewGenericWriter[SampleRow](out, parquet.KeyValueMetadata("session", string(b)))
	rows := make([]SampleRow, 0, res.Points)
	for k, sweep := range res.Sweeps {
		rows = rows[:0]
		for i, db := range sweep.Amplitudes {
			rows = append(rows, SampleRow{
				Sweep:       int32(k),
				SweepOffset: sweep.Offset,
				Bin:         int32(i),
				Freq:        res.Stimulus[i],
				DB:          db,
			})
		}
		if _, err := w.Write(rows); err != nil {
			w.Close()
			return fmt.Errorf("unable to write sweep %d: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	glog.Infof("wrote %d sweeps of %d points as parquet", len(res.Sweeps), res.Points)
	return nil
}
