// Package plot renders the temperature series of a session as a PNG line chart.
package plot

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
	"github.com/ericogr/max31855-to-mqtt/pkg/series"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 480
	minSize       = 100
	// one point per pixel
	dpi = 72
)

type Options struct {
	Width  int
	Height int
	Unit   sensor.Unit
}

// WriteFile renders buf into a PNG file at path.
func WriteFile(path string, buf *series.Buffer, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create plot")
	}
	if err := Render(f, buf, opts); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close plot")
}

// Render encodes the chart of buf as a PNG of opts.Width x opts.Height pixels.
func Render(w io.Writer, buf *series.Buffer, opts Options) error {
	p, err := Chart(buf, opts)
	if err != nil {
		return err
	}
	width, height := opts.Width, opts.Height
	if width < minSize {
		width = DefaultWidth
	}
	if height < minSize {
		height = DefaultHeight
	}
	c := vgimg.NewWith(vgimg.UseWH(vg.Length(width), vg.Length(height)), vgimg.UseDPI(dpi))
	p.Draw(draw.New(c))
	_, err = vgimg.PngCanvas{Canvas: c}.WriteTo(w)
	return errors.Wrap(err, "encode plot")
}

// Chart builds one line per channel with ticks on the x axis. Faulted ticks
// break the line.
func Chart(buf *series.Buffer, opts Options) (*gplot.Plot, error) {
	p := gplot.New()
	p.Title.Text = fmt.Sprintf("MAX31855 session, %d ticks", buf.Ticks())
	p.X.Label.Text = "tick"
	p.Y.Label.Text = "temperature (" + opts.Unit.Symbol() + ")"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for i, cs := range buf.Channels() {
		color := plotutil.Color(i)
		name := fmt.Sprintf("ch%d cs%d", i, cs)
		labelled := false
		for _, seg := range segments(buf.Values(i)) {
			var thumb gplot.Thumbnailer
			if len(seg) == 1 {
				s, err := plotter.NewScatter(seg)
				if err != nil {
					return nil, errors.Wrapf(err, "channel %d", i)
				}
				s.GlyphStyle.Color = color
				s.GlyphStyle.Radius = vg.Points(1.5)
				p.Add(s)
				thumb = s
			} else {
				l, err := plotter.NewLine(seg)
				if err != nil {
					return nil, errors.Wrapf(err, "channel %d", i)
				}
				l.LineStyle.Color = color
				l.LineStyle.Width = vg.Points(1.5)
				p.Add(l)
				thumb = l
			}
			if !labelled {
				p.Legend.Add(name, thumb)
				labelled = true
			}
		}
	}
	return p, nil
}

// segments splits values into runs of consecutive ticks without NaN.
func segments(values []float64) []plotter.XYs {
	var out []plotter.XYs
	var cur plotter.XYs
	for t, v := range values {
		if math.IsNaN(v) {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: float64(t), Y: v})
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
