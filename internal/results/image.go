package results

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// The bundled chart font has no CJK glyphs, so the image uses English headers.
var imageHeaders = []string{"Rank", "User", "Score", "A", "B", "C", "D", "E", "F", "G", "Perf", "Rating"}

var imageColumnWidths = []int{90, 170, 70, 70, 70, 70, 70, 70, 70, 70, 70, 170}

const (
	imageMargin    = 16
	imageRowHeight = 30
	imageTitleRow  = 40
	imageFontSize  = 11
	imageTitleSize = 15
)

var (
	imageBackground = drawing.Color{R: 255, G: 255, B: 255, A: 255}
	imageHeaderFill = drawing.Color{R: 230, G: 233, B: 237, A: 255}
	imageStripe     = drawing.Color{R: 246, G: 248, B: 250, A: 255}
	imageGrid       = drawing.Color{R: 208, G: 215, B: 222, A: 255}
	imageText       = drawing.Color{R: 36, G: 41, B: 47, A: 255}
)

// RenderPNG draws the sheet as a table image.
func RenderPNG(s Sheet) ([]byte, error) {
	tableWidth := 0
	for _, w := range imageColumnWidths {
		tableWidth += w
	}
	width := tableWidth + 2*imageMargin
	height := imageTitleRow + (len(s.Rows)+1)*imageRowHeight + 2*imageMargin

	font, err := chart.GetDefaultFont()
	if err != nil {
		return nil, fmt.Errorf("load font: %w", err)
	}
	r, err := chart.PNG(width, height)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	r.SetFont(font)

	fillRect(r, 0, 0, width, height, imageBackground)

	r.SetFontSize(imageTitleSize)
	r.SetFontColor(imageText)
	r.Text(s.ContestID+" results", imageMargin, imageMargin+imageTitleSize+4)

	top := imageMargin + imageTitleRow
	fillRect(r, imageMargin, top, tableWidth, imageRowHeight, imageHeaderFill)
	r.SetFontSize(imageFontSize)
	drawRow(r, top, imageHeaders, nil)

	for i, row := range s.Rows {
		y := top + (i+1)*imageRowHeight
		if i%2 == 1 {
			fillRect(r, imageMargin, y, tableWidth, imageRowHeight, imageStripe)
		}
		cells := row.Cells()
		cells[len(cells)-1] = strings.ReplaceAll(cells[len(cells)-1], "→", "->")
		drawRow(r, y, cells, cellColors(row))
	}

	r.SetStrokeColor(imageGrid)
	r.SetStrokeWidth(1)
	bottom := top + (len(s.Rows)+1)*imageRowHeight
	for i := 0; i <= len(s.Rows)+1; i++ {
		y := top + i*imageRowHeight
		r.MoveTo(imageMargin, y)
		r.LineTo(imageMargin+tableWidth, y)
	}
	x := imageMargin
	for _, w := range append([]int{0}, imageColumnWidths...) {
		x += w
		r.MoveTo(x, top)
		r.LineTo(x, bottom)
	}
	r.Stroke()

	var buf bytes.Buffer
	if err := r.Save(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// cellColors returns per-column text colours; nil entries use the default.
func cellColors(row Row) []*Color {
	colors := make([]*Color, len(imageHeaders))
	if row.NewRating > 0 {
		c := RatingColor(row.NewRating)
		colors[1] = &c
		colors[len(colors)-1] = &c
	}
	if row.Performance != Placeholder {
		c := RatingColor(row.Perf)
		colors[len(colors)-2] = &c
	}
	return colors
}

func drawRow(r chart.Renderer, top int, cells []string, colors []*Color) {
	x := imageMargin
	for i, cell := range cells {
		w := imageColumnWidths[i]
		var c *Color
		if i < len(colors) {
			c = colors[i]
		}
		if i >= 3 && i < 3+TaskColumns {
			drawTaskCell(r, x, top, w, cell)
		} else {
			drawText(r, x, top, w, cell, c)
		}
		x += w
	}
}

// drawTaskCell colours the score and the parenthesised penalty separately.
func drawTaskCell(r chart.Renderer, left, top, width int, cell string) {
	if cell == Placeholder {
		drawText(r, left, top, width, cell, nil)
		return
	}
	score, penalty, hasPenalty := strings.Cut(cell, "(")
	score = strings.TrimSpace(score)
	if hasPenalty {
		penalty = "(" + penalty
	}

	gap := 0
	if score != "" && hasPenalty {
		gap = 4
	}
	sw := r.MeasureText(score).Width()
	pw := r.MeasureText(penalty).Width()
	x := left + (width-sw-pw-gap)/2
	y := baseline(r, top, cell)

	if score != "" {
		setFontColor(r, &acceptedColor)
		r.Text(score, x, y)
	}
	if hasPenalty {
		setFontColor(r, &penaltyColor)
		r.Text(penalty, x+sw+gap, y)
	}
}

func drawText(r chart.Renderer, left, top, width int, s string, c *Color) {
	setFontColor(r, c)
	box := r.MeasureText(s)
	r.Text(s, left+(width-box.Width())/2, baseline(r, top, s))
}

func baseline(r chart.Renderer, top int, s string) int {
	h := r.MeasureText(s).Height()
	return top + (imageRowHeight+h)/2
}

func setFontColor(r chart.Renderer, c *Color) {
	if c == nil {
		r.SetFontColor(imageText)
		return
	}
	red, green, blue := c.RGB8()
	r.SetFontColor(drawing.Color{R: red, G: green, B: blue, A: 255})
}

func fillRect(r chart.Renderer, x, y, w, h int, c drawing.Color) {
	r.SetFillColor(c)
	r.MoveTo(x, y)
	r.LineTo(x+w, y)
	r.LineTo(x+w, y+h)
	r.LineTo(x, y+h)
	r.Close()
	r.Fill()
}
