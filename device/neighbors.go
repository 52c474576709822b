package device

// Offset is a texel-grid displacement.
type Offset struct{ DX, DY int }

// NeighborOffsets3x3 is the 3x3 neighborhood around a texel, excluding the
// center, in fixed raster order (top-to-bottom, left-to-right). Outline
// walks this order so its CAS-bounded associations are reproducible
// regardless of goroutine scheduling.
var NeighborOffsets3x3 = buildNeighborOffsets(1)

func buildNeighborOffsets(radius int) []Offset {
	offsets := make([]Offset, 0, (2*radius+1)*(2*radius+1)-1)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			offsets = append(offsets, Offset{dx, dy})
		}
	}
	return offsets
}
