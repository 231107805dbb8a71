package main

/*
This application renders waterfalls for sessions stored in a sqlite DB
by the fieldsweep acquisition tool or collector server.
*/

import (
	"database/sql"
	"flag"
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"strings"

	"github.com/golang/glog"

	"github.com/hb9tf/fieldsweep/analyzer"
	"github.com/hb9tf/fieldsweep/extraction"

	// Blind import support for sqlite3.
	_ "github.com/mattn/go-sqlite3"
)

// Flags
var (
	sqliteFile = flag.String("sqliteFile", "/tmp/fieldsweep.db", "File path of the sqlite DB file to use.")
	identifier = flag.String("id", "", "Identifier of the session to render. Lists the stored sessions when empty.")
	imgPath    = flag.String("imgPath", "/tmp/out.png", "Path where the rendered image should be written to (.png or .jpg).")
	imgWidth   = flag.Int("imgWidth", 0, "Width of output image in pixels (0 uses one pixel per stimulus point).")
	imgHeight  = flag.Int("imgHeight", 0, "Height of output image in pixels (0 uses one pixel per sweep).")
	addGrid    = flag.Bool("grid", true, "Add frequency and time labels around the waterfall.")
)

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	db, err := sql.Open("sqlite3", *sqliteFile)
	if err != nil {
		glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
	}
	defer db.Close()

	if *identifier == "" {
		ids, err := extraction.List(db)
		if err != nil {
			glog.Exitf("unable to list sessions: %s", err)
		}
		fmt.Println("Stored sessions:")
		for _, id := range ids {
			fmt.Printf("  - %s\n", id)
		}
		return
	}

	res, img, err := renderSession(db, *identifier, &extraction.ImageOptions{
		Height:  *imgHeight,
		Width:   *imgWidth,
		AddGrid: *addGrid,
	})
	if err != nil {
		glog.Exit(err)
	}

	fmt.Println("Selected source metadata:")
	fmt.Printf("  - Instrument: %s\n", res.Instrument)
	fmt.Printf("  - Low frequency: %s\n", extraction.GetReadableFreq(img.SourceMeta.LowFreq))
	fmt.Printf("  - High frequency: %s\n", extraction.GetReadableFreq(img.SourceMeta.HighFreq))
	fmt.Printf("  - Start time: %s (%d)\n", img.SourceMeta.StartTime.Format("2006-01-02T15:04:05"), img.SourceMeta.StartTime.Unix())
	fmt.Printf("  - Duration: %s\n", img.SourceMeta.EndTime.Sub(img.SourceMeta.StartTime))
	fmt.Printf("  - Amplitude range: %.2f dB to %.2f dB\n", img.SourceMeta.MinDB, img.SourceMeta.MaxDB)
	fmt.Printf("Rendered image (%d x %d, %s per pixel)\n", img.ImageMeta.ImageWidth, img.ImageMeta.ImageHeight, extraction.GetReadableFreq(img.ImageMeta.FreqPerPixel))

	fmt.Printf("Writing image to %q\n", *imgPath)
	if err := writeImage(*imgPath, img); err != nil {
		glog.Exit(err)
	}
}

func renderSession(db *sql.DB, id string, opts *extraction.ImageOptions) (*analyzer.Result, *extraction.RenderResult, error) {
	res, err := extraction.Load(db, id)
	if err != nil {
		return nil, nil, err
	}
	img, err := extraction.Render(res, opts)
	if err != nil {
		return nil, nil, err
	}
	return res, img, nil
}

func writeImage(path string, img *extraction.RenderResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create image file %q: %s", path, err)
	}
	defer f.Close()
	switch {
	case strings.HasSuffix(path, ".png"):
		return png.Encode(f, img.Image)
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return jpeg.Encode(f, img.Image, &jpeg.Options{Quality: jpeg.DefaultQuality})
	default:
		return fmt.Errorf("unsupported image format for %q, use .png or .jpg", path)
	}
}
