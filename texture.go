package rld

import "github.com/distortions81/rld/device"

// Texture is an opaque RGBA8 pixel rectangle a host renderer can copy into
// its own GPU texture. The simulator repaints Pixels in place between Step
// calls; the contents stay valid until the next Step.
type Texture struct {
	Width  int
	Height int
	Pixels []byte
}

func newTexture(n int) *Texture {
	return &Texture{Width: n, Height: n, Pixels: make([]byte, n*n*4)}
}

func (t *Texture) clear() {
	for i := range t.Pixels {
		t.Pixels[i] = 0
	}
}

func (t *Texture) set(x, y int, r, g, b, a byte) {
	if x < 0 || x >= t.Width || y < 0 || y >= t.Height {
		return
	}
	i := (y*t.Width + x) * 4
	t.Pixels[i] = r
	t.Pixels[i+1] = g
	t.Pixels[i+2] = b
	t.Pixels[i+3] = a
}

// paintFront repaints the front view from the slice's rasterized frame:
// covered texels take their surface normal as color, the way a normal
// attachment visualizes. In debug mode flagged parcel texels show on top.
func (s *Simulator) paintFront(frame *device.Frame) {
	s.frontTex.clear()
	n := frame.N
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			t := frame.At(x, y)
			if !t.Covered {
				continue
			}
			s.frontTex.set(x, y,
				byte((t.Normal[0]*0.5+0.5)*255),
				byte((t.Normal[1]*0.5+0.5)*255),
				byte((t.Normal[2]*0.5+0.5)*255),
				255)
		}
	}
	if !s.debug {
		return
	}
	for i := 0; i < n*n; i++ {
		if s.pools.FlagValue(i) != 0 {
			s.frontTex.set(i%n, i/n, 64, 160, 255, 255)
		}
	}
}

// paintSide stacks one column of the bird's-eye side view per slice: the
// column is the slice index scaled across the texture, and each live parcel
// in the slice's write buffer marks its cross-wind position. The texture is
// cleared once per sweep, so a full sweep reads as the wake's history.
func (s *Simulator) paintSide(slice, swap int) {
	n := s.sideTex.Width
	col := slice * n / s.sliceCount
	count := int(s.pools.Mutables.AirCount[swap])
	if count > len(s.pools.Air[swap]) {
		count = len(s.pools.Air[swap])
	}
	for i := 0; i < count; i++ {
		if !s.pools.Alive[swap][i] {
			continue
		}
		_, y, ok := device.TexelForWindPos(s.pools.Constants, s.pools.Air[swap][i].WindPos)
		if !ok {
			continue
		}
		s.sideTex.set(col, y, 255, 255, 255, 255)
	}
}

// paintTurbulence repaints the turbulence view each slice: parcel texels
// brighten with the magnitude of their cross-wind drift, so straight-through
// parcels stay dark and deflected ones light up.
func (s *Simulator) paintTurbulence(swap int) {
	s.turbulenceTex.clear()
	windSpeed := s.pools.Constants.WindSpeed
	if windSpeed <= 0 {
		return
	}
	count := int(s.pools.Mutables.AirCount[swap])
	if count > len(s.pools.Air[swap]) {
		count = len(s.pools.Air[swap])
	}
	for i := 0; i < count; i++ {
		if !s.pools.Alive[swap][i] {
			continue
		}
		p := s.pools.Air[swap][i]
		x, y, ok := device.TexelForWindPos(s.pools.Constants, p.WindPos)
		if !ok {
			continue
		}
		drift := (p.Velocity[0]*p.Velocity[0] + p.Velocity[1]*p.Velocity[1]) / (windSpeed * windSpeed)
		if drift > 1 {
			drift = 1
		}
		v := byte(drift * 255)
		s.turbulenceTex.set(x, y, v, v, 255, 255)
	}
}
