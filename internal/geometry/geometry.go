// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package geometry converts model-reported bounding boxes into pixel rectangles.
//
// Boxes arrive in a 0-1000 normalized space with axis order ymin,xmin,ymax,xmax.
package geometry

import "image"

// Scale is the extent of the normalized coordinate space.
const Scale = 1000.0

// Rect is a pixel rectangle with exclusive right and bottom edges.
type Rect struct {
	X0, Y0, X1, Y1 int
}

// Image returns r as an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X0, r.Y0, r.X1, r.Y1)
}

// Width returns the horizontal extent of r.
func (r Rect) Width() int { return r.X1 - r.X0 }

// Height returns the vertical extent of r.
func (r Rect) Height() int { return r.Y1 - r.Y0 }

// Normalize maps bbox (ymin,xmin,ymax,xmax in [0,1000]) onto a width x height
// image. Every edge is clamped to the image and truncated to an integer; the
// left and top edges stop one pixel short of the far border. A right or
// bottom edge that does not pass its opposite edge is advanced by one pixel,
// clamped to the image, so the result is never empty for a positive image
// size.
func Normalize(bbox [4]float64, width, height int) Rect {
	ymin, xmin, ymax, xmax := bbox[0], bbox[1], bbox[2], bbox[3]

	r := Rect{
		X0: min(denormalize(xmin, width), width-1),
		Y0: min(denormalize(ymin, height), height-1),
		X1: denormalize(xmax, width),
		Y1: denormalize(ymax, height),
	}
	if r.X1 <= r.X0 {
		r.X1 = min(width, r.X0+1)
	}
	if r.Y1 <= r.Y0 {
		r.Y1 = min(height, r.Y0+1)
	}
	return r
}

func denormalize(coord float64, dim int) int {
	v := coord / Scale * float64(dim)
	v = max(0, min(float64(dim), v))
	return int(v)
}
