package main

import (
	"context"
	"database/sql"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/fieldsweep/analyzer"
	"github.com/hb9tf/fieldsweep/export"
	"github.com/hb9tf/fieldsweep/extraction"
)

func storedSession(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "fieldsweep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	res := &analyzer.Result{
		Identifier: "abc",
		Source:     "fieldfox",
		Start:      time.UnixMilli(1700000000000),
		Points:     3,
		StartFreq:  1e9,
		StopFreq:   2e9,
		TotalTime:  0.2,
		Performed:  2,
		Stimulus:   []float64{1e9, 1.5e9, 2e9},
		Sweeps: []analyzer.Sweep{
			{Offset: 0, Amplitudes: []float64{-80, -40, -60}},
			{Offset: 0.1, Amplitudes: []float64{-75, -35, -65}},
		},
	}
	require.NoError(t, (&export.SQL{DB: db, Dialect: export.DialectSQLite}).Write(context.Background(), res))
	return db
}

func TestRenderSession(t *testing.T) {
	db := storedSession(t)

	res, img, err := renderSession(db, "abc", &extraction.ImageOptions{})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Identifier)
	assert.Equal(t, 3, img.ImageMeta.ImageWidth)
	assert.Equal(t, 2, img.ImageMeta.ImageHeight)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")
	require.NoError(t, writeImage(path, img))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Image.Bounds(), decoded.Bounds())

	path = filepath.Join(dir, "out.jpg")
	require.NoError(t, writeImage(path, img))
	j, err := os.Open(path)
	require.NoError(t, err)
	defer j.Close()
	_, err = jpeg.Decode(j)
	require.NoError(t, err)

	assert.Error(t, writeImage(filepath.Join(dir, "out.gif"), img))
}

func TestRenderSessionMissing(t *testing.T) {
	db := storedSession(t)
	_, _, err := renderSession(db, "nope", &extraction.ImageOptions{})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
