package raster

// The normal attachment stores each component as a 16-bit signed normalized
// value, the same representation an RGBA16_SNORM texture would hold. Values
// outside [-1, 1] clamp.

// packNormals converts a slice of float32 components into snorm16 storage in
// dst. dst must be at least len(src).
func packNormals(dst []int16, src []float32) {
	for i, v := range src {
		dst[i] = float32ToSnorm16(v)
	}
}

// unpackNormals expands snorm16 data back into float32 components. dst must
// be at least len(src).
func unpackNormals(dst []float32, src []int16) {
	for i, v := range src {
		dst[i] = snorm16ToFloat32(v)
	}
}

func float32ToSnorm16(f float32) int16 {
	if f != f {
		return 0
	}
	if f > 1 {
		f = 1
	}
	if f < -1 {
		f = -1
	}
	if f >= 0 {
		return int16(f*32767 + 0.5)
	}
	return int16(f*32767 - 0.5)
}

func snorm16ToFloat32(s int16) float32 {
	v := float32(s) / 32767
	if v < -1 {
		v = -1
	}
	return v
}
