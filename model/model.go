// Package model defines the surface geometry contract the simulator renders
// into each slice. Callers own the actual mesh data and asset loading; the
// simulator only ever asks a Model to hand back the triangles visible at a
// given transform.
package model

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/distortions81/rld/internal/vecmath"
)

// Triangle is a single world-space triangle plus per-vertex normals, already
// transformed by the caller's model matrix.
type Triangle struct {
	Positions [3]mgl32.Vec3
	Normals   [3]mgl32.Vec3
}

// Model produces the triangle soup to rasterize for one render pass. modelMat
// places the mesh in wind space; normalMat is the inverse-transpose of
// modelMat's upper 3x3, supplied separately so non-uniform scale doesn't skew
// normals.
type Model interface {
	Draw(modelMat mgl32.Mat4, normalMat mgl32.Mat3) []Triangle
}

// TriMesh is a bare reference Model implementation: a static list of
// object-space triangles transformed on every Draw call. Most callers bring
// their own Model backed by a real asset pipeline; TriMesh exists so the
// simulator is exercisable without one.
type TriMesh struct {
	Positions [][3]mgl32.Vec3
	Normals   [][3]mgl32.Vec3
}

// NewTriMesh builds a TriMesh from parallel position/normal triangle slices.
// The two slices must be the same length; mismatched entries are dropped.
func NewTriMesh(positions, normals [][3]mgl32.Vec3) *TriMesh {
	n := len(positions)
	if len(normals) < n {
		n = len(normals)
	}
	return &TriMesh{Positions: positions[:n], Normals: normals[:n]}
}

func (m *TriMesh) Draw(modelMat mgl32.Mat4, normalMat mgl32.Mat3) []Triangle {
	out := make([]Triangle, len(m.Positions))
	for i := range m.Positions {
		var tri Triangle
		for v := 0; v < 3; v++ {
			tri.Positions[v] = vecmath.Mat4MulPoint3(modelMat, m.Positions[i][v])
			tri.Normals[v] = vecmath.Mat3MulVec3(normalMat, m.Normals[i][v])
		}
		out[i] = tri
	}
	return out
}
