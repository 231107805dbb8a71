package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"image/png"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/hb9tf/fieldsweep/analyzer"
	"github.com/hb9tf/fieldsweep/export"
	"github.com/hb9tf/fieldsweep/extraction"
	"github.com/hb9tf/fieldsweep/fieldfox"
	"github.com/hb9tf/fieldsweep/filter"
	"github.com/hb9tf/fieldsweep/scpi"
	"github.com/hb9tf/fieldsweep/simulator"

	// Blind import support for sqlite3 used by export/sql.go.
	_ "github.com/mattn/go-sqlite3"
)

const simAddress = "sim"

// Flags
var (
	identifier = flag.String("id", uuid.NewString(), "unique identifier of the session")
	address    = flag.String("address", "TCPIP0::192.168.1.10::inst0::INSTR", "VISA resource of the analyzer, or \"sim\" for the built-in simulator")
	timeout    = flag.Duration("timeout", scpi.DefaultTimeout, "timeout of a single instrument read or write")
	opcTimeout = flag.Duration("opcTimeout", fieldfox.DefaultOPCTimeout, "timeout of preset and trigger completion handshakes")
	override   = flag.Bool("override", false, "send points and frequency range to the instrument instead of using its presets")
	points     = flag.Int("points", 401, "stimulus points per sweep (with -override)")
	startFreq  = flag.Float64("startFreq", 9.95e9, "start frequency in Hz (with -override)")
	stopFreq   = flag.Float64("stopFreq", 10.05e9, "stop frequency in Hz (with -override)")
	sweeps     = flag.Int("sweeps", 50, "number of sweeps to acquire with a single trigger")
	filterLow  = flag.Float64("filterLow", 0, "drop stimulus points below this frequency in Hz")
	filterHigh = flag.Float64("filterHigh", 0, "drop stimulus points above this frequency in Hz (0 disables)")
	output     = flag.String("output", "csv", "Export mechanism to use (one of: csv, sqlite, mysql, parquet, spectre)")
	imgPath    = flag.String("imgPath", "", "When set, a waterfall of the session is written to this PNG file.")

	// CSV
	csvFile = flag.String("csvFile", "multi_set_spectrum_data.csv", "File path of the CSV file to write (empty writes to stdout).")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/fieldsweep.db", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "fieldsweep", "Name of the DB to use.")

	// Parquet
	parquetFile = flag.String("parquetFile", "/tmp/fieldsweep.parquet", "File path of the parquet file to write.")

	// Spectre server
	spectreServer = flag.String("spectreServer", "https://localhost:8443", "Spectre server address.")
)

func main() {
	ctx := context.Background()
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	exporter, closeExporter, err := newExporter(ctx)
	if err != nil {
		glog.Exit(err)
	}
	defer closeExporter()

	ch, err := openChannel(ctx)
	if err != nil {
		glog.Exitf("unable to connect to %q: %s", *address, err)
	}

	opts := &analyzer.Options{
		Points:    *points,
		StartFreq: *startFreq,
		StopFreq:  *stopFreq,
		Sweeps:    *sweeps,
		Override:  *override,
	}
	res, err := acquire(ch, opts)
	if err != nil {
		glog.Exitf("session %q failed: %s", *identifier, err)
	}

	if *filterLow > 0 || *filterHigh > 0 {
		high := *filterHigh
		if high <= 0 {
			high = math.Inf(1)
		}
		if res, err = filter.Filter(res, []filter.Filterer{&filter.FilterFreq{FreqLow: *filterLow, FreqHigh: high}}); err != nil {
			glog.Exit(err)
		}
	}

	if err := exporter.Write(ctx, res); err != nil {
		glog.Exitf("unable to export session %q: %s", res.Identifier, err)
	}
	if *imgPath != "" {
		if err := writeWaterfall(*imgPath, res); err != nil {
			glog.Exit(err)
		}
	}
	glog.Infof("session %q done: %d sweeps of %d points", res.Identifier, len(res.Sweeps), res.Points)
}

func openChannel(ctx context.Context) (scpi.Channel, error) {
	if strings.ToLower(*address) == simAddress {
		sim := simulator.New()
		sim.SetTimeout(*timeout)
		return sim, nil
	}
	return scpi.Dial(ctx, *address, *timeout)
}

// acquire runs a session and always leaves the channel cleared and closed.
func acquire(ch scpi.Channel, opts *analyzer.Options) (*analyzer.Result, error) {
	defer func() {
		if err := ch.Clear(); err != nil {
			glog.Warningf("unable to clear instrument channel: %s", err)
		}
		if err := ch.Close(); err != nil {
			glog.Warningf("unable to close instrument channel: %s", err)
		}
	}()

	a := &fieldfox.Analyzer{
		Identifier: *identifier,
		Channel:    ch,
		OPCTimeout: *opcTimeout,
	}
	res, err := a.Acquire(opts)
	if err != nil {
		return nil, fmt.Errorf("%w (reached state %s)", err, a.State())
	}
	return res, nil
}

func newExporter(ctx context.Context) (export.Exporter, func(), error) {
	noop := func() {}
	switch strings.ToLower(*output) {
	case "csv":
		return &export.CSV{Path: *csvFile}, noop, nil
	case "parquet":
		return &export.Parquet{Path: *parquetFile}, noop, nil
	case "spectre":
		return &export.SpectreServer{Server: *spectreServer}, noop, nil
	case "sqlite":
		db, err := sql.Open("sqlite3", *sqliteFile)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open sqlite DB %q: %s", *sqliteFile, err)
		}
		return &export.SQL{DB: db, Dialect: export.DialectSQLite}, func() { db.Close() }, nil
	case "mysql":
		pass, err := os.ReadFile(*mysqlPasswordFile)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to read MySQL password file %q: %s", *mysqlPasswordFile, err)
		}
		cfg := mysql.Config{
			User:   *mysqlUser,
			Passwd: strings.TrimSpace(string(pass)),
			Net:    "tcp",
			Addr:   *mysqlServer,
			DBName: *mysqlDBName,
		}
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open MySQL DB %q: %s", *mysqlServer, err)
		}
		db.SetConnMaxLifetime(3 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("unable to reach MySQL DB %q: %s", *mysqlServer, err)
		}
		return &export.SQL{DB: db, Dialect: export.DialectMySQL}, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%q is not a supported export method, pick one of: csv, sqlite, mysql, parquet, spectre", *output)
	}
}

func writeWaterfall(path string, res *analyzer.Result) error {
	img, err := extraction.Render(res, &extraction.ImageOptions{AddGrid: true})
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create image file %q: %s", path, err)
	}
	defer f.Close()
	return png.Encode(f, img.Image)
}
