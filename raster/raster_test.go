package raster

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/distortions81/rld/device"
	"github.com/distortions81/rld/model"
)

// quad returns the two triangles of an axis-aligned rectangle in the XY plane
// at depth z, with all normals set to n.
func quad(minX, minY, maxX, maxY, z float32, n mgl32.Vec3) []model.Triangle {
	a := mgl32.Vec3{minX, minY, z}
	b := mgl32.Vec3{maxX, minY, z}
	c := mgl32.Vec3{maxX, maxY, z}
	d := mgl32.Vec3{minX, maxY, z}
	return []model.Triangle{
		{Positions: [3]mgl32.Vec3{a, b, c}, Normals: [3]mgl32.Vec3{n, n, n}},
		{Positions: [3]mgl32.Vec3{a, c, d}, Normals: [3]mgl32.Vec3{n, n, n}},
	}
}

func coveredCount(f *device.Frame) int {
	count := 0
	for i := range f.Texels {
		if f.Texels[i].Covered {
			count++
		}
	}
	return count
}

func TestSnormPackClampAndSpecials(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{1.5, 32767},
		{-2, -32767},
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		if got := float32ToSnorm16(tt.in); got != tt.want {
			t.Errorf("float32ToSnorm16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSnormRoundtripTolerance(t *testing.T) {
	for _, v := range []float32{0.5, -0.5, 0.70710678, -0.99997} {
		back := snorm16ToFloat32(float32ToSnorm16(v))
		if diff := math.Abs(float64(back - v)); diff > 1.0/32767 {
			t.Errorf("roundtrip of %v drifted by %v", v, diff)
		}
	}
}

func TestRasterizeFillCoversInterior(t *testing.T) {
	r := NewRasterizer(16)
	f := device.NewFrame(16)
	tris := quad(-3, -3, 3, 3, 0.5, mgl32.Vec3{0, 0, 1})

	r.RasterizeSlice(f, tris, 16, 0, 1)

	center := f.At(8, 8)
	if !center.Covered {
		t.Fatal("quad interior texel not covered")
	}
	if center.Normal[2] < 0.99 {
		t.Errorf("resolved normal = %v, want ~(0,0,1)", center.Normal)
	}
	if center.Normal[3] == 0 {
		t.Error("coverage channel not set")
	}
	wantPos := mgl32.Vec2{0.5, 0.5}
	if center.WindPos != wantPos {
		t.Errorf("WindPos = %v, want texel center %v", center.WindPos, wantPos)
	}
	if f.At(0, 0).Covered {
		t.Error("corner texel outside the quad is covered")
	}
}

func TestRasterizeDepthClipRejects(t *testing.T) {
	r := NewRasterizer(16)
	f := device.NewFrame(16)
	tris := quad(-3, -3, 3, 3, 5, mgl32.Vec3{0, 0, 1})

	r.RasterizeSlice(f, tris, 16, 0, 1)
	if got := coveredCount(f); got != 0 {
		t.Fatalf("%d texels covered by geometry outside the slice depth range", got)
	}
}

func TestRasterizeFrontmostNormalWins(t *testing.T) {
	r := NewRasterizer(16)
	f := device.NewFrame(16)
	// The z=0.8 quad faces -X and sits nearer the wind source than the
	// z=0.2 quad facing +X. Wind flows toward -Z, so larger z wins.
	back := quad(-3, -3, 3, 3, 0.2, mgl32.Vec3{1, 0, 0})
	front := quad(-3, -3, 3, 3, 0.8, mgl32.Vec3{-1, 0, 0})
	tris := append(back, front...)

	r.RasterizeSlice(f, tris, 16, 0, 1)

	center := f.At(8, 8)
	if !center.Covered {
		t.Fatal("overlap texel not covered")
	}
	if center.Normal[0] > -0.99 {
		t.Errorf("normal = %v, want the frontmost quad's (-1,0,0)", center.Normal)
	}
}

func TestRasterizeEdgeOnPlate(t *testing.T) {
	r := NewRasterizer(16)
	f := device.NewFrame(16)
	// A plate in the XZ plane projects to a zero-area line; only the wire
	// pass can register it.
	n := mgl32.Vec3{0, 1, 0}
	tris := []model.Triangle{
		{
			Positions: [3]mgl32.Vec3{{-3, 0.25, 0.1}, {3, 0.25, 0.1}, {3, 0.25, 0.9}},
			Normals:   [3]mgl32.Vec3{n, n, n},
		},
		{
			Positions: [3]mgl32.Vec3{{-3, 0.25, 0.1}, {3, 0.25, 0.9}, {-3, 0.25, 0.9}},
			Normals:   [3]mgl32.Vec3{n, n, n},
		},
	}

	r.RasterizeSlice(f, tris, 16, 0, 1)

	if got := coveredCount(f); got == 0 {
		t.Fatal("edge-on plate left no coverage")
	}
	for i := range f.Texels {
		tex := &f.Texels[i]
		if tex.Covered && tex.Normal[1] < 0.99 {
			t.Fatalf("covered texel normal = %v, want (0,1,0)", tex.Normal)
		}
	}
}

func TestRasterizeEmptyInput(t *testing.T) {
	r := NewRasterizer(8)
	f := device.NewFrame(8)
	// Leave stale coverage behind to prove the slice clears it.
	f.At(3, 3).Covered = true

	r.RasterizeSlice(f, nil, 8, 0, 1)
	if got := coveredCount(f); got != 0 {
		t.Fatalf("%d texels covered after rasterizing nothing", got)
	}
}

func TestRasterizeLongEdgeClippedToSlice(t *testing.T) {
	r := NewRasterizer(16)
	f := device.NewFrame(16)
	// One edge spans many slices in depth; only the portion inside
	// [zNear, zFar] may produce coverage.
	n := mgl32.Vec3{0, 1, 0}
	tris := []model.Triangle{{
		Positions: [3]mgl32.Vec3{{0, 0.25, -8}, {0, 0.25, 8}, {0.1, 0.25, 8}},
		Normals:   [3]mgl32.Vec3{n, n, n},
	}}

	r.RasterizeSlice(f, tris, 16, 0, 1)

	// The clipped edge stays within one texel column around x=0.
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if f.At(x, y).Covered && (x < 7 || x > 8) {
				t.Fatalf("coverage at (%d,%d), outside the clipped edge's column", x, y)
			}
		}
	}
	if coveredCount(f) == 0 {
		t.Fatal("clipped edge left no coverage at all")
	}
}
