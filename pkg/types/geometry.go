// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"math"
)

// BoundingBox is an axis-aligned rectangle on one page in PDF user space
// (origin bottom-left, y grows upward). X2 >= X1 and Y2 >= Y1 always hold
// for boxes built with NewBoundingBox.
type BoundingBox struct {
	Page int     `json:"page" yaml:"page"`
	X1   float64 `json:"x1" yaml:"x1"`
	Y1   float64 `json:"y1" yaml:"y1"`
	X2   float64 `json:"x2" yaml:"x2"`
	Y2   float64 `json:"y2" yaml:"y2"`
}

// NewBoundingBox returns a box on page with its corners ordered so that
// (X1,Y1) is the lower-left and (X2,Y2) the upper-right corner.
func NewBoundingBox(page int, x1, y1, x2, y2 float64) BoundingBox {
	return BoundingBox{
		Page: page,
		X1:   math.Min(x1, x2),
		Y1:   math.Min(y1, y2),
		X2:   math.Max(x1, x2),
		Y2:   math.Max(y1, y2),
	}
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// IsZero reports whether the box has no page and no extent.
func (b BoundingBox) IsZero() bool {
	return b == BoundingBox{}
}

// ToViewport converts a PDF-space box to viewport space (origin top-left)
// for a page of the given height. The transform is its own inverse.
func (b BoundingBox) ToViewport(pageHeight float64) BoundingBox {
	return BoundingBox{
		Page: b.Page,
		X1:   b.X1,
		Y1:   pageHeight - b.Y2,
		X2:   b.X2,
		Y2:   pageHeight - b.Y1,
	}
}

// FromViewport converts a viewport-space box back to PDF space.
func (b BoundingBox) FromViewport(pageHeight float64) BoundingBox {
	return b.ToViewport(pageHeight)
}

// Overlaps reports whether two boxes on the same page share any area.
// Touching edges count as overlap.
func (b BoundingBox) Overlaps(o BoundingBox) bool {
	if b.Page != o.Page {
		return false
	}
	return b.X1 <= o.X2 && o.X1 <= b.X2 && b.Y1 <= o.Y2 && o.Y1 <= b.Y2
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(x, y float64) bool {
	return x >= b.X1 && x <= b.X2 && y >= b.Y1 && y <= b.Y2
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Expand grows the box by d on every side.
func (b BoundingBox) Expand(d float64) BoundingBox {
	return BoundingBox{Page: b.Page, X1: b.X1 - d, Y1: b.Y1 - d, X2: b.X2 + d, Y2: b.Y2 + d}
}

// Union returns the envelope of two boxes. The page of a is kept.
func Union(a, b BoundingBox) BoundingBox {
	return BoundingBox{
		Page: a.Page,
		X1:   math.Min(a.X1, b.X1),
		Y1:   math.Min(a.Y1, b.Y1),
		X2:   math.Max(a.X2, b.X2),
		Y2:   math.Max(a.Y2, b.Y2),
	}
}

// ErrNoBoxes is returned when merging an empty set of boxes.
var ErrNoBoxes = errors.New("no bounding boxes to merge")

// MergeBoxes returns the coordinate-wise min/max envelope of boxes. All
// boxes must lie on the same page.
func MergeBoxes(boxes []BoundingBox) (BoundingBox, error) {
	if len(boxes) == 0 {
		return BoundingBox{}, ErrNoBoxes
	}
	merged := boxes[0]
	for _, b := range boxes[1:] {
		if b.Page != merged.Page {
			return BoundingBox{}, fmt.Errorf("merging boxes across pages %d and %d", merged.Page, b.Page)
		}
		merged = Union(merged, b)
	}
	return merged, nil
}
