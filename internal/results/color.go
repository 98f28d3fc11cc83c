package results

import "fmt"

// Color is an RGB colour with 0–1 channels.
type Color struct {
	Name    string
	R, G, B float64
}

// Hex returns the colour as RRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("%02X%02X%02X", channel(c.R), channel(c.G), channel(c.B))
}

// RGB8 returns 8-bit channels.
func (c Color) RGB8() (r, g, b uint8) {
	return channel(c.R), channel(c.G), channel(c.B)
}

func channel(v float64) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}

// ratingBands are upper bounds, exclusive, in 400-point steps.
var ratingBands = []Color{
	{"gray", 0.5, 0.5, 0.5},
	{"brown", 0.47, 0.262, 0.082},
	{"green", 0.215, 0.494, 0.133},
	{"cyan", 0.337, 0.741, 0.749},
	{"blue", 0, 0, 0.96},
	{"yellow", 0.752, 0.752, 0.239},
	{"orange", 0.937, 0.529, 0.2},
	{"red", 0.917, 0.2, 0.137},
}

// RatingColor returns the AtCoder colour band of a rating or performance.
func RatingColor(rating int) Color {
	i := max(rating, 0) / 400
	if i >= len(ratingBands) {
		i = len(ratingBands) - 1
	}
	return ratingBands[i]
}

// penaltyColor highlights the penalty part of a task cell.
var penaltyColor = Color{"penalty", 1, 0, 0}

// acceptedColor is used for solved task cells.
var acceptedColor = Color{"accepted", 0.298, 0.655, 0.298}
