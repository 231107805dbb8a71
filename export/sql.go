package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"

	"github.com/hb9tf/fieldsweep/analyzer"
)

const (
	DialectSQLite = "sqlite3"
	DialectMySQL  = "mysql"

	sqliteCreateSessionsTmpl = `CREATE TABLE IF NOT EXISTS sessions (
		"ID"           INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"Identifier"   TEXT NOT NULL UNIQUE,
		"Source"       TEXT NOT NULL,
		"Instrument"   TEXT,
		"Points"       INTEGER,
		"StartFreq"    REAL,
		"StopFreq"     REAL,
		"Sweeps"       INTEGER,
		"Performed"    INTEGER,
		"TotalTime"    REAL,
		"Start"        INTEGER,
		"ErrorsBefore" TEXT,
		"ErrorsAfter"  TEXT
	);`
	sqliteCreateSamplesTmpl = `CREATE TABLE IF NOT EXISTS samples (
		"ID"           INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"Identifier"   TEXT NOT NULL,
		"Sweep"        INTEGER,
		"SweepOffset"  REAL,
		"Bin"          INTEGER,
		"Freq"         REAL,
		"DB"           REAL
	);`
	mysqlCreateSessionsTmpl = `CREATE TABLE IF NOT EXISTS sessions (
		ID           BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT,
		Identifier   VARCHAR(255) NOT NULL UNIQUE,
		Source       VARCHAR(64) NOT NULL,
		Instrument   TEXT,
		Points       INTEGER,
		StartFreq    DOUBLE,
		StopFreq     DOUBLE,
		Sweeps       INTEGER,
		Performed    INTEGER,
		TotalTime    DOUBLE,
		Start        BIGINT,
		ErrorsBefore TEXT,
		ErrorsAfter  TEXT
	);`
	mysqlCreateSamplesTmpl = `CREATE TABLE IF NOT EXISTS samples (
		ID           BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT,
		Identifier   VARCHAR(255) NOT NULL,
		Sweep        INTEGER,
		SweepOffset  DOUBLE,
		Bin          INTEGER,
		Freq         DOUBLE,
		DB           DOUBLE,
		INDEX (Identifier)
	);`
	insertSessionTmpl = `INSERT INTO sessions (
		Identifier,
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
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	insertSampleTmpl = `INSERT INTO samples (
		Identifier,
		Sweep,
		SweepOffset,
		Bin,
		Freq,
		DB
	) VALUES (?, ?, ?, ?, ?, ?);`
)

// SQL stores sessions in a sqlite3 or MySQL database: one row per session in
// "sessions" and one row per sweep and stimulus point in "samples".
type SQL struct {
	DB      *sql.DB
	Dialect string
}

func (s *SQL) Write(ctx context.Context, res *analyzer.Result) error {
	if err := res.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid session: %w", err)
	}
	if err := CreateTablesIfNotExist(ctx, s.DB, s.Dialect); err != nil {
		return fmt.Errorf("unable to create tables: %w", err)
	}

	before, err := json.Marshal(res.ErrorsBefore)
	if err != nil {
		return err
	}
	after, err := json.Marshal(res.ErrorsAfter)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertSessionTmpl, res.Identifier, res.Source, res.Instrument, res.Points, res.StartFreq, res.StopFreq, len(res.Sweeps), res.Performed, res.TotalTime, res.Start.UnixMilli(), string(before), string(after)); err != nil {
		return fmt.Errorf("unable to store session %q: %w", res.Identifier, err)
	}

	statement, err := tx.PrepareContext(ctx, insertSampleTmpl)
	if err != nil {
		return err
	}
	defer statement.Close()
	for k, sweep := range res.Sweeps {
		for i, db := range sweep.Amplitudes {
			if _, err := statement.ExecContext(ctx, res.Identifier, k, sweep.Offset, i, res.Stimulus[i], db); err != nil {
				return fmt.Errorf("unable to store sample %d of sweep %d: %w", i, k, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	glog.Infof("stored session %q (%d sweeps, %d points) in %s DB", res.Identifier, len(res.Sweeps), res.Points, s.Dialect)
	return nil
}

func CreateTablesIfNotExist(ctx context.Context, db *sql.DB, dialect string) error {
	var stmts []string
	switch dialect {
	case DialectSQLite:
		stmts = []string{sqliteCreateSessionsTmpl, sqliteCreateSamplesTmpl}
	case DialectMySQL:
		stmts = []string{mysqlCreateSessionsTmpl, mysqlCreateSamplesTmpl}
	default:
		return fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
