package device

import "github.com/go-gl/mathgl/mgl32"

// Texel is one rasterized grid cell: whether geometry covers it this slice,
// its wind-space center, and its blended surface normal if covered.
type Texel struct {
	Covered bool
	WindPos mgl32.Vec2
	Normal  mgl32.Vec4
}

// Frame is the rasterized output of one slice: an N x N grid of Texels, row
// major.
type Frame struct {
	N      int
	Texels []Texel
}

// NewFrame allocates a cleared N x N frame.
func NewFrame(n int) *Frame {
	return &Frame{N: n, Texels: make([]Texel, n*n)}
}

// At returns a pointer to the texel at (x, y) for in-place mutation during
// rasterization.
func (f *Frame) At(x, y int) *Texel {
	return &f.Texels[y*f.N+x]
}

// Clear resets every texel to its zero value, ready for the next slice's
// rasterization pass.
func (f *Frame) Clear() {
	for i := range f.Texels {
		f.Texels[i] = Texel{}
	}
}
