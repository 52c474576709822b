// Package vecmath holds the small set of vector and matrix operations the
// simulator needs on top of the plain array types mgl32 provides. Everything
// here works through index access ([0], [1], [2]...) rather than accessor
// methods, so it stays readable next to the rest of the pipeline code.
package vecmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

func Add3(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func Sub3(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func Scale3(a mgl32.Vec3, s float32) mgl32.Vec3 {
	return mgl32.Vec3{a[0] * s, a[1] * s, a[2] * s}
}

func Dot3(a, b mgl32.Vec3) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func Cross3(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func Len3(a mgl32.Vec3) float32 {
	return float32(math.Sqrt(float64(Dot3(a, a))))
}

func Normalize3(a mgl32.Vec3) mgl32.Vec3 {
	l := Len3(a)
	if l == 0 {
		return mgl32.Vec3{}
	}
	return Scale3(a, 1/l)
}

// Mat3MulVec3 applies a column-major 3x3 matrix to a vector.
func Mat3MulVec3(m mgl32.Mat3, v mgl32.Vec3) mgl32.Vec3 {
	var out mgl32.Vec3
	for r := 0; r < 3; r++ {
		var sum float32
		for c := 0; c < 3; c++ {
			sum += m[c*3+r] * v[c]
		}
		out[r] = sum
	}
	return out
}

// Mat4MulVec4 applies a column-major 4x4 matrix to a vector.
func Mat4MulVec4(m mgl32.Mat4, v mgl32.Vec4) mgl32.Vec4 {
	var out mgl32.Vec4
	for r := 0; r < 4; r++ {
		var sum float32
		for c := 0; c < 4; c++ {
			sum += m[c*4+r] * v[c]
		}
		out[r] = sum
	}
	return out
}

// Mat4MulPoint3 transforms a point (implicit w=1) and drops back to three
// components.
func Mat4MulPoint3(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	v := Mat4MulVec4(m, mgl32.Vec4{p[0], p[1], p[2], 1})
	return mgl32.Vec3{v[0], v[1], v[2]}
}
