package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/hb9tf/fieldsweep/export"

	// Blind import support for sqlite3 used by export/sql.go.
	_ "github.com/mattn/go-sqlite3"
)

var (
	listen   = flag.String("listen", ":8443", "")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
	output   = flag.String("output", "", "Export mechanism to use (one of: csv, sqlite, mysql, parquet)")
	outDir   = flag.String("outDir", "/tmp", "Directory where csv and parquet exports are written to, one file per session.")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/fieldsweep.db", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "fieldsweep", "Name of the DB to use.")
)

func main() {
	ctx := context.Background()
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()

	s := &Server{}
	switch strings.ToLower(*output) {
	case "csv":
		s.NewExporter = func(id string) export.Exporter {
			return &export.CSV{Path: sessionFile(id, "csv")}
		}
	case "parquet":
		s.NewExporter = func(id string) export.Exporter {
			return &export.Parquet{Path: sessionFile(id, "parquet")}
		}
	case "sqlite":
		db, err := sql.Open("sqlite3", *sqliteFile)
		if err != nil {
			glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
		}
		defer db.Close()
		if err := export.CreateTablesIfNotExist(ctx, db, export.DialectSQLite); err != nil {
			glog.Exitf("unable to create tables in sqlite DB %q: %s", *sqliteFile, err)
		}
		s.DB = db
		exporter := &export.SQL{DB: db, Dialect: export.DialectSQLite}
		s.NewExporter = func(string) export.Exporter { return exporter }
	case "mysql":
		pass, err := os.ReadFile(*mysqlPasswordFile)
		if err != nil {
			glog.Exitf("unable to read MySQL password file %q: %s\n", *mysqlPasswordFile, err)
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
			glog.Exitf("unable to open MySQL DB %q: %s", *mysqlServer, err)
		}
		defer db.Close()
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		s.DB = db
		exporter := &export.SQL{DB: db, Dialect: export.DialectMySQL}
		s.NewExporter = func(string) export.Exporter { return exporter }
	default:
		glog.Exitf("%q is not a supported export method, pick one of: csv, sqlite, mysql, parquet", *output)
	}

	gin.SetMode(gin.ReleaseMode)
	router := s.Router()
	if *certFile != "" || *keyFile != "" {
		glog.Info("serving HTTPS on ", *listen)
		if err := router.RunTLS(*listen, *certFile, *keyFile); err != nil {
			glog.Exit(err)
		}
	} else {
		glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
		if err := router.Run(*listen); err != nil {
			glog.Exit(err)
		}
	}

	glog.Flush()
}

func sessionFile(id, ext string) string {
	return filepath.Join(*outDir, id+"."+ext)
}
