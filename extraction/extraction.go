package extraction

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/golang/glog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/hb9tf/fieldsweep/analyzer"
)

var (
	// Colors defining the gradient in the heatmap. The higher the index, the warmer.
	colors = []color.RGBA{
		{0, 0, 0, 255},       // black
		{0, 0, 255, 255},     // blue
		{0, 255, 255, 255},   // cyan
		{0, 255, 0, 255},     // green
		{255, 255, 0, 255},   // yellow
		{255, 0, 0, 255},     // red
		{255, 255, 255, 255}, // white
	}

	gridColor           = color.RGBA{0, 0, 0, 255}       // black
	gridBackgroundColor = color.RGBA{255, 255, 255, 255} // white

	expSuffixLookup = map[int]string{
		0: "Hz",  // 10^0
		1: "kHz", // 10^3
		2: "MHz", // 10^6
		3: "GHz", // 10^9
		4: "THz", // 10^12
	}
)

const (
	timeFmt        = "2006-01-02T15:04:05"
	gridMarginTop  = 20  // pixels
	gridMarginLeft = 150 // pixels
	gridTickLen    = 10  // pixel
	gridMinStepX   = 100 // pixels
	gridMinStepY   = 20  // pixels
)

// GetColor determines the color of a pixel based on a color gradient and a pixel "level".
// http://www.andrewnoske.com/wiki/Code_-_heatmaps_and_color_gradients
func GetColor(lvl uint16) color.RGBA {
	// Position of the level along the gradient, then interpolate between the
	// two neighbouring colors.
	pos := float64(lvl) / math.MaxUint16 * float64(len(colors)-1)
	i := int(pos)
	if i >= len(colors)-1 {
		return colors[len(colors)-1]
	}
	fract := pos - float64(i)
	lo, hi := colors[i], colors[i+1]
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*fract))
	}
	return color.RGBA{mix(lo.R, hi.R), mix(lo.G, hi.G), mix(lo.B, hi.B), mix(lo.A, hi.A)}
}

func GetReadableFreq(freq float64) string {
	exp := 0
	for f := math.Abs(freq); f >= 1000; f = f / 1000.0 {
		exp += 1
	}
	suffix, ok := expSuffixLookup[exp]
	if !ok {
		return fmt.Sprintf("%g Hz", freq)
	}
	return fmt.Sprintf("%.2f %s", freq/math.Pow(1000, float64(exp)), suffix)
}

func drawTick(canvas *image.RGBA, start image.Point, length int, horizontal bool) {
	for i := 0; i <= length; i++ {
		if horizontal {
			canvas.SetRGBA(start.X+i, start.Y, gridColor)
		} else {
			canvas.SetRGBA(start.X, start.Y+i, gridColor)
		}
	}
}

func findGridStepSize(step int, horizontal bool) int {
	gridMinStep := gridMinStepY
	if horizontal {
		gridMinStep = gridMinStepX
	}
	for step > gridMinStep {
		n := step / 2
		if n < gridMinStep {
			return step
		}
		step = n
	}
	if step < 1 {
		return 1
	}
	return step
}

func drawLabel(canvas *image.RGBA, x, y int, label string) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(gridColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(label)
}

// DrawGrid enlarges source by a margin holding frequency ticks on top and
// time ticks on the left.
func DrawGrid(source *image.RGBA, lowFreq, highFreq float64, startTime, endTime time.Time) *image.RGBA {
	b := source.Bounds()
	canvas := image.NewRGBA(image.Rectangle{
		Min: b.Min,
		Max: image.Point{b.Max.X + gridMarginLeft, b.Max.Y + gridMarginTop},
	})
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, canvas.Bounds().Min, draw.Src)
	r := canvas.Bounds()
	r.Min.X += gridMarginLeft
	r.Min.Y += gridMarginTop
	draw.Draw(canvas, r, source, b.Min, draw.Src)

	// Draw X ticks.
	xStep := findGridStepSize(b.Dx(), true)
	for i := 0; i < b.Dx(); i += xStep {
		x := canvas.Bounds().Min.X + gridMarginLeft + i
		drawTick(canvas, image.Point{x, canvas.Bounds().Min.Y + gridMarginTop - gridTickLen}, gridTickLen, false)
		freq := lowFreq + float64(i)*(highFreq-lowFreq)/float64(b.Dx())
		drawLabel(canvas, x+5, canvas.Bounds().Min.Y+gridMarginTop-2, GetReadableFreq(freq))
	}

	// Draw Y ticks.
	yStep := findGridStepSize(b.Dy(), false)
	total := endTime.Sub(startTime)
	for i := 0; i < b.Dy(); i += yStep {
		y := canvas.Bounds().Min.Y + gridMarginTop + i
		drawTick(canvas, image.Point{canvas.Bounds().Min.X + gridMarginLeft - gridTickLen, y}, gridTickLen, true)
		dur := time.Duration(int64(i) * int64(total) / int64(b.Dy()))
		drawLabel(canvas, canvas.Bounds().Min.X+5, y+17, startTime.Add(dur).Format(timeFmt))
		drawLabel(canvas, canvas.Bounds().Min.X+5, y+5, dur.String())
	}

	return canvas
}

type ImageOptions struct {
	Height int
	Width  int

	AddGrid bool
}

type SourceMetadata struct {
	LowFreq   float64
	HighFreq  float64
	StartTime time.Time
	EndTime   time.Time
	MinDB     float64
	MaxDB     float64
}

type RenderMetadata struct {
	ImageHeight  int
	ImageWidth   int
	FreqPerPixel float64
	SecPerPixel  float64
}

type RenderResult struct {
	Image image.Image

	SourceMeta *SourceMetadata
	ImageMeta  *RenderMetadata
}

// Render draws a waterfall of a session: one row per sweep (oldest on top),
// one column per stimulus point. Requested sizes above what the session holds
// are reduced; a zero size uses the native resolution. Each pixel shows the
// strongest reading among the points it covers.
func Render(res *analyzer.Result, opts *ImageOptions) (*RenderResult, error) {
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("unable to render session: %w", err)
	}
	height, width := opts.Height, opts.Width
	maxHeight, maxWidth := len(res.Sweeps), res.Points
	switch {
	case height <= 0:
		height = maxHeight
	case height > maxHeight:
		glog.Warningf("image height is set to %d which is more than the session can provide. Reducing image height to %d pixels\n", height, maxHeight)
		height = maxHeight
	}
	switch {
	case width <= 0:
		width = maxWidth
	case width > maxWidth:
		glog.Warningf("image width is set to %d which is more than the session can provide. Reducing image width to %d pixels\n", width, maxWidth)
		width = maxWidth
	}

	minDB, maxDB := res.MinMax()
	dbRange := maxDB - minDB

	canvas := image.NewRGBA(image.Rectangle{
		Min: image.Point{0, 0},
		Max: image.Point{width, height},
	})
	for y := 0; y < height; y++ {
		sweep := res.Sweeps[y*maxHeight/height]
		for x := 0; x < width; x++ {
			lo, hi := x*maxWidth/width, (x+1)*maxWidth/width
			db := sweep.Amplitudes[lo]
			for _, v := range sweep.Amplitudes[lo:hi] {
				db = math.Max(db, v)
			}
			lvl := uint16(0)
			if dbRange > 0 {
				lvl = uint16((db - minDB) * math.MaxUint16 / dbRange)
			}
			canvas.SetRGBA(x, y, GetColor(lvl))
		}
	}

	startTime := res.Start
	endTime := startTime.Add(time.Duration(res.TotalTime * float64(time.Second)))
	if opts.AddGrid {
		canvas = DrawGrid(canvas, res.StartFreq, res.StopFreq, startTime, endTime)
	}

	return &RenderResult{
		Image: canvas,
		SourceMeta: &SourceMetadata{
			LowFreq:   res.StartFreq,
			HighFreq:  res.StopFreq,
			StartTime: startTime,
			EndTime:   endTime,
			MinDB:     minDB,
			MaxDB:     maxDB,
		},
		ImageMeta: &RenderMetadata{
			ImageHeight:  height,
			ImageWidth:   width,
			FreqPerPixel: (res.StopFreq - res.StartFreq) / float64(width),
			SecPerPixel:  res.TotalTime / float64(height),
		},
	}, nil
}
