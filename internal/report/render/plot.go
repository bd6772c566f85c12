package render

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/vk/labgrid/internal/report"
)

// Plot draws s as a scatter plot with a y=x reference line. The file format
// follows the extension of path (png, svg, pdf, ...).
func Plot(path string, s report.Series) error {
	if len(s.Points) == 0 {
		return errors.New("no points")
	}

	xys := make(plotter.XYs, len(s.Points))
	for i, pt := range s.Points {
		xys[i].X, xys[i].Y = pt.X, pt.Y
	}
	if s.LogScale {
		clampPositive(xys)
	}

	p := plot.New()
	p.Title.Text = s.Attribute
	p.X.Label.Text = s.X
	p.Y.Label.Text = s.Y

	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("building scatter: %w", err)
	}
	scatter.GlyphStyle.Shape = draw.CrossGlyph{}
	scatter.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}

	lo, hi := bounds(xys)
	diagonal, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return fmt.Errorf("building diagonal: %w", err)
	}
	diagonal.Color = color.Gray{Y: 160}
	diagonal.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}

	p.Add(diagonal, scatter)
	p.X.Min, p.X.Max = lo, hi
	p.Y.Min, p.Y.Max = lo, hi
	if s.LogScale {
		p.X.Scale, p.Y.Scale = plot.LogScale{}, plot.LogScale{}
		p.X.Tick.Marker, p.Y.Tick.Marker = plot.LogTicks{Prec: -1}, plot.LogTicks{Prec: -1}
	}
	return p.Save(6*vg.Inch, 6*vg.Inch, path)
}

// clampPositive replaces values a log axis cannot show with half the
// smallest positive value.
func clampPositive(xys plotter.XYs) {
	floor := math.Inf(1)
	for _, xy := range xys {
		for _, v := range []float64{xy.X, xy.Y} {
			if v > 0 && v < floor {
				floor = v
			}
		}
	}
	if math.IsInf(floor, 1) {
		floor = 1
	}
	floor /= 2
	for i := range xys {
		xys[i].X = math.Max(xys[i].X, floor)
		xys[i].Y = math.Max(xys[i].Y, floor)
	}
}

// bounds returns a common range for both axes.
func bounds(xys plotter.XYs) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, xy := range xys {
		lo = math.Min(lo, math.Min(xy.X, xy.Y))
		hi = math.Max(hi, math.Max(xy.X, xy.Y))
	}
	if lo == hi {
		hi = lo + 1
	}
	return lo, hi
}
