package main

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"github.com/hb9tf/fieldsweep/analyzer"
	"github.com/hb9tf/fieldsweep/export"
	"github.com/hb9tf/fieldsweep/extraction"
)

const (
	sessionsPath  = "/" + export.SessionEndpoint
	waterfallPath = sessionsPath + "/:id/waterfall.png"
)

// Server accepts sessions uploaded by acquisition clients and hands them to
// an exporter. Listing and rendering need DB to be set.
type Server struct {
	// NewExporter returns the exporter storing the session with the given identifier.
	NewExporter func(id string) export.Exporter
	DB          *sql.DB

	// Exports are serialized so that file based exporters never interleave.
	mu sync.Mutex
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST(sessionsPath, s.collect)
	r.GET(sessionsPath, s.list)
	r.GET(waterfallPath, s.waterfall)
	return r
}

func (s *Server) collect(c *gin.Context) {
	res := &analyzer.Result{}
	if err := c.ShouldBindJSON(res); err != nil {
		c.String(http.StatusBadRequest, "unable to decode session: %s", err)
		return
	}
	if err := checkIdentifier(res.Identifier); err != nil {
		c.String(http.StatusBadRequest, "invalid session: %s", err)
		return
	}
	if err := res.Validate(); err != nil {
		c.String(http.StatusBadRequest, "invalid session: %s", err)
		return
	}

	s.mu.Lock()
	err := s.NewExporter(res.Identifier).Write(c.Request.Context(), res)
	s.mu.Unlock()
	if err != nil {
		glog.Warningf("unable to export session %q: %s\n", res.Identifier, err)
		c.String(http.StatusInternalServerError, "unable to export session: %s", err)
		return
	}

	c.JSON(http.StatusOK, export.CollectResponse{
		Status:      "ok",
		Identifier:  res.Identifier,
		SampleCount: len(res.Sweeps) * res.Points,
	})
}

// checkIdentifier rejects identifiers that cannot be used as a plain file
// name, since file based exporters name their output after the session.
func checkIdentifier(id string) error {
	switch {
	case id == "":
		return errors.New("session has no identifier")
	case id == "." || id == "..", filepath.Base(id) != id, strings.ContainsAny(id, `/\`):
		return fmt.Errorf("identifier %q is not a plain name", id)
	}
	return nil
}

func (s *Server) list(c *gin.Context) {
	if s.DB == nil {
		c.String(http.StatusNotImplemented, "listing sessions needs a sqlite or mysql output")
		return
	}
	ids, err := extraction.List(s.DB)
	if err != nil {
		c.String(http.StatusInternalServerError, "unable to list sessions: %s", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids})
}

func (s *Server) waterfall(c *gin.Context) {
	if s.DB == nil {
		c.String(http.StatusNotImplemented, "rendering sessions needs a sqlite or mysql output")
		return
	}
	opts := &extraction.ImageOptions{AddGrid: c.Query("grid") == "true"}
	for name, dst := range map[string]*int{"width": &opts.Width, "height": &opts.Height} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.String(http.StatusBadRequest, "invalid %s %q", name, raw)
			return
		}
		*dst = v
	}

	res, err := extraction.Load(s.DB, c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.String(http.StatusNotFound, "no session %q", c.Param("id"))
		return
	}
	if err != nil {
		c.String(http.StatusInternalServerError, "unable to load session: %s", err)
		return
	}
	img, err := extraction.Render(res, opts)
	if err != nil {
		c.String(http.StatusInternalServerError, "unable to render session: %s", err)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.Image); err != nil {
		c.String(http.StatusInternalServerError, "unable to encode image: %s", err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
