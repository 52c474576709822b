package device

import "github.com/go-gl/mathgl/mgl32"

// TexelForWindPos maps a wind-space XY position to the grid texel that
// contains it. ok is false if the position falls outside the windframe.
func TexelForWindPos(c Constants, pos mgl32.Vec2) (x, y int, ok bool) {
	if c.WindframeSize <= 0 || c.ScreenSize <= 0 {
		return 0, 0, false
	}
	half := c.WindframeSize / 2
	n := float32(c.ScreenSize)
	fx := (pos[0] + half) / c.WindframeSize * n
	fy := (pos[1] + half) / c.WindframeSize * n
	if fx < 0 || fy < 0 {
		return 0, 0, false
	}
	x = int(fx)
	y = int(fy)
	if x < 0 || x >= int(c.ScreenSize) || y < 0 || y >= int(c.ScreenSize) {
		return 0, 0, false
	}
	return x, y, true
}

// WindPosForTexel returns the wind-space center of texel (x, y), the inverse
// of TexelForWindPos.
func WindPosForTexel(c Constants, x, y int) mgl32.Vec2 {
	half := c.WindframeSize / 2
	n := float32(c.ScreenSize)
	return mgl32.Vec2{
		(float32(x)+0.5)/n*c.WindframeSize - half,
		(float32(y)+0.5)/n*c.WindframeSize - half,
	}
}

// InWindframe reports whether a wind-space XY position is still within the
// simulated bound.
func InWindframe(c Constants, pos mgl32.Vec2) bool {
	half := c.WindframeSize / 2
	return pos[0] >= -half && pos[0] <= half && pos[1] >= -half && pos[1] <= half
}
