package pmtiles

// MaxZoom is the deepest zoom whose tile ids fit in 64 bits.
const MaxZoom = 31

// ZxyToID maps a tile coordinate to its position on the Hilbert curve, offset
// by the number of tiles in all shallower zooms. ok is false for coordinates
// outside the zoom's grid.
func ZxyToID(z uint8, x, y uint32) (id uint64, ok bool) {
	if z > MaxZoom {
		return 0, false
	}
	n := uint64(1) << z
	tx, ty := uint64(x), uint64(y)
	if tx >= n || ty >= n {
		return 0, false
	}

	acc := ((uint64(1) << (2 * uint64(z))) - 1) / 3
	var d uint64
	for s := n / 2; s > 0; s /= 2 {
		var rx, ry uint64
		if tx&s > 0 {
			rx = 1
		}
		if ty&s > 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		tx, ty = rotate(n, tx, ty, rx, ry)
	}
	return acc + d, true
}

// IDToZxy is the inverse of ZxyToID.
func IDToZxy(id uint64) (z uint8, x, y uint32) {
	var acc uint64
	for zoom := uint8(0); zoom <= MaxZoom; zoom++ {
		count := uint64(1) << (2 * uint64(zoom))
		if id < acc+count {
			tx, ty := hilbertToXY(uint64(1)<<zoom, id-acc)
			return zoom, uint32(tx), uint32(ty)
		}
		acc += count
	}
	return 0, 0, 0
}

func hilbertToXY(n, d uint64) (uint64, uint64) {
	var x, y uint64
	t := d
	for s := uint64(1); s < n; s *= 2 {
		rx := 1 & (t / 2)
		ry := 1 & (t ^ rx)
		x, y = rotate(s, x, y, rx, ry)
		x += s * rx
		y += s * ry
		t /= 4
	}
	return x, y
}

func rotate(n, x, y, rx, ry uint64) (uint64, uint64) {
	if ry == 0 {
		if rx == 1 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}
