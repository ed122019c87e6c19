// Package export renders the committed history of a board to documents.
// Both renderers replay strokes in log order, so later strokes paint over
// earlier ones exactly as they do on a client canvas.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"github.com/jung-kurt/gofpdf"

	"sketchboard/pkg/canvas/protocol"
)

// Canvas is the drawing surface size in client pixels.
type Canvas struct {
	Width  int
	Height int
}

// PDF writes a single-page PDF with one point per canvas pixel.
func PDF(w io.Writer, c Canvas, strokes []protocol.Stroke) error {
	p := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(c.Width), Ht: float64(c.Height)},
	})
	p.SetMargins(0, 0, 0)
	p.SetAutoPageBreak(false, 0)
	p.AddPage()
	p.SetLineCapStyle("round")
	p.SetLineJoinStyle("round")

	for _, st := range strokes {
		if len(st.Points) < 2 {
			continue
		}
		r, g, b, err := ParseHex(st.Color)
		if err != nil {
			return fmt.Errorf("stroke %s: %w", st.ID, err)
		}
		p.SetDrawColor(int(r), int(g), int(b))
		p.SetLineWidth(st.Width)
		p.MoveTo(st.Points[0].X, st.Points[0].Y)
		for _, pt := range st.Points[1:] {
			p.LineTo(pt.X, pt.Y)
		}
		p.DrawPath("D")
	}
	if err := p.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return p.Output(w)
}

// PNG writes a white-background raster of the canvas.
func PNG(w io.Writer, c Canvas, strokes []protocol.Stroke) error {
	dc := gg.NewContext(c.Width, c.Height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetLineCapRound()
	dc.SetLineJoinRound()

	for _, st := range strokes {
		if len(st.Points) < 2 {
			continue
		}
		r, g, b, err := ParseHex(st.Color)
		if err != nil {
			return fmt.Errorf("stroke %s: %w", st.ID, err)
		}
		dc.SetRGB255(int(r), int(g), int(b))
		dc.SetLineWidth(st.Width)
		dc.MoveTo(st.Points[0].X, st.Points[0].Y)
		for _, pt := range st.Points[1:] {
			dc.LineTo(pt.X, pt.Y)
		}
		dc.Stroke()
	}
	return dc.EncodePNG(w)
}

// ParseHex decodes #RGB or #RRGGBB.
func ParseHex(s string) (r, g, b uint8, err error) {
	hex, ok := strings.CutPrefix(s, "#")
	if ok && len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if !ok || len(hex) != 6 {
		return 0, 0, 0, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid color %q", s)
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), nil
}
