package extraction

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hb9tf/fieldsweep/analyzer"
)

const (
	listSessionsTmpl = `SELECT
		Identifier
	FROM
		sessions
	ORDER BY
		Start ASC;`
	getSessionTmpl = `SELECT
		Source,
		Instrument,
		Points,
		StartFreq,
		StopFreq,
		Sweeps,
		Performed,
		TotalTime,
		Start,
		ErrorsBefore,
		ErrorsAfter
	FROM
		sessions
	WHERE
		Identifier = ?;`
	getSamplesTmpl = `SELECT
		Sweep,
		SweepOffset,
		Bin,
		Freq,
		DB
	FROM
		samples
	WHERE
		Identifier = ?
	ORDER BY
		Sweep ASC,
		Bin ASC;`
)

// List returns the identifiers of all stored sessions, oldest first.
func List(db *sql.DB) ([]string, error) {
	rows, err := db.Query(listSessionsTmpl)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Load reads a stored session back into a Result.
func Load(db *sql.DB, identifier string) (*analyzer.Result, error) {
	res := &analyzer.Result{Identifier: identifier}
	var sweeps int
	var start int64
	var instrument, before, after sql.NullString
	err := db.QueryRow(getSessionTmpl, identifier).Scan(&res.Source, &instrument, &res.Points, &res.StartFreq, &res.StopFreq, &sweeps, &res.Performed, &res.TotalTime, &start, &before, &after)
	if err != nil {
		return nil, fmt.Errorf("unable to load session %q: %w", identifier, err)
	}
	res.Instrument = instrument.String
	res.Start = time.UnixMilli(start)
	if err := unmarshalErrors(before, &res.ErrorsBefore); err != nil {
		return nil, err
	}
	if err := unmarshalErrors(after, &res.ErrorsAfter); err != nil {
		return nil, err
	}

	rows, err := db.Query(getSamplesTmpl, identifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res.Stimulus = make([]float64, res.Points)
	res.Sweeps = make([]analyzer.Sweep, sweeps)
	for k := range res.Sweeps {
		res.Sweeps[k].Amplitudes = make([]float64, res.Points)
	}
	count := 0
	for rows.Next() {
		var sweep, bin int
		var offset, freq, db float64
		if err := rows.Scan(&sweep, &offset, &bin, &freq, &db); err != nil {
			return nil, err
		}
		if sweep < 0 || sweep >= sweeps || bin < 0 || bin >= res.Points {
			return nil, fmt.Errorf("session %q has sample out of range (sweep %d, bin %d)", identifier, sweep, bin)
		}
		res.Stimulus[bin] = freq
		res.Sweeps[sweep].Offset = offset
		res.Sweeps[sweep].Amplitudes[bin] = db
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if count != sweeps*res.Points {
		return nil, fmt.Errorf("session %q has %d samples, want %d", identifier, count, sweeps*res.Points)
	}
	return res, nil
}

func unmarshalErrors(raw sql.NullString, dst *[]analyzer.ErrorRecord) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return fmt.Errorf("unable to decode stored error records: %w", err)
	}
	return nil
}
