package nns

import "math"

// Vec3 is a point in simulation space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistSq returns the squared Euclidean distance between v and o.
func (v Vec3) DistSq(o Vec3) float64 {
	dx := o.X - v.X
	dy := o.Y - v.Y
	dz := o.Z - v.Z
	return dx*dx + dy*dy + dz*dz
}

// GridConfig describes the simulation volume and the bucket granularity.
// The volume is centred on the origin.
type GridConfig struct {
	DimX, DimY, DimZ float64 // Volume extents
	CellLength       float64 // Cell side, also the interaction radius
	Buffer           float64 // Margin added on every side of the volume
}

// Validate reports the first field that cannot produce a usable grid.
func (c GridConfig) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"DimX", c.DimX},
		{"DimY", c.DimY},
		{"DimZ", c.DimZ},
		{"CellLength", c.CellLength},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v <= 0 {
			return &ConfigError{Field: f.name, Value: f.v, Reason: "must be positive and finite"}
		}
	}
	if math.IsNaN(c.Buffer) || math.IsInf(c.Buffer, 0) || c.Buffer < 0 {
		return &ConfigError{Field: "Buffer", Value: c.Buffer, Reason: "must be non-negative and finite"}
	}
	return nil
}

// Geometry is the grid layout derived once from a GridConfig.
//
// Cell dimensions truncate: a buffered extent that is not a multiple of the
// cell length loses the fractional cell on the high side of each axis.
type Geometry struct {
	CellLength float64
	Buffer     float64

	// Buffered extents (extent + 2*buffer) and the shift that moves the
	// buffered volume into non-negative coordinates.
	BufferedX, BufferedY, BufferedZ float64
	ShiftX, ShiftY, ShiftZ          float64

	CellDimX, CellDimY, CellDimZ int
	CellCount                    int

	// NonBufferCells estimates the cells covering the unbuffered volume.
	// Only used for density reporting.
	NonBufferCells int

	// OverflowInVolume is set when the overflow cell overlaps the unbuffered
	// volume, which happens when Buffer is smaller than CellLength. Points
	// inside that cell lose their grid neighbours.
	OverflowInVolume bool
}

// NewGeometry derives the grid layout for cfg.
func NewGeometry(cfg GridConfig) (Geometry, error) {
	if err := cfg.Validate(); err != nil {
		return Geometry{}, err
	}

	g := Geometry{
		CellLength: cfg.CellLength,
		Buffer:     cfg.Buffer,
		BufferedX:  cfg.DimX + 2*cfg.Buffer,
		BufferedY:  cfg.DimY + 2*cfg.Buffer,
		BufferedZ:  cfg.DimZ + 2*cfg.Buffer,
	}
	g.ShiftX = g.BufferedX / 2
	g.ShiftY = g.BufferedY / 2
	g.ShiftZ = g.BufferedZ / 2

	g.CellDimX = int(math.Floor(g.BufferedX / cfg.CellLength))
	g.CellDimY = int(math.Floor(g.BufferedY / cfg.CellLength))
	g.CellDimZ = int(math.Floor(g.BufferedZ / cfg.CellLength))
	g.CellCount = g.CellDimX * g.CellDimY * g.CellDimZ

	if g.CellCount <= 0 {
		return Geometry{}, &ConfigError{Field: "CellLength", Value: cfg.CellLength, Reason: "larger than the buffered volume, grid has no cells"}
	}

	g.NonBufferCells = int(math.Floor(cfg.DimX/cfg.CellLength)) *
		int(math.Floor(cfg.DimY/cfg.CellLength)) *
		int(math.Floor(cfg.DimZ/cfg.CellLength))

	g.OverflowInVolume = overlapsVolume(g.CellDimX, cfg.CellLength, cfg.Buffer, cfg.DimX) &&
		overlapsVolume(g.CellDimY, cfg.CellLength, cfg.Buffer, cfg.DimY) &&
		overlapsVolume(g.CellDimZ, cfg.CellLength, cfg.Buffer, cfg.DimZ)

	return g, nil
}

// overlapsVolume reports whether the last cell on an axis, spanning
// [(dim-1)*cell, dim*cell) in shifted space, meets the unbuffered span
// [buffer, buffer+extent).
func overlapsVolume(dim int, cell, buffer, extent float64) bool {
	lo := float64(dim-1) * cell
	hi := float64(dim) * cell
	return lo < buffer+extent && hi > buffer
}

// OverflowCell is the reserved bucket for points outside the grid.
func (g Geometry) OverflowCell() int {
	return g.CellCount - 1
}

// Radius is the interaction radius, equal to the cell length.
func (g Geometry) Radius() float64 {
	return g.CellLength
}

// CellCoords returns the integer cell coordinates of p. The result may lie
// outside the grid.
func (g Geometry) CellCoords(p Vec3) (x, y, z int) {
	x = int(math.Floor((p.X + g.ShiftX) / g.CellLength))
	y = int(math.Floor((p.Y + g.ShiftY) / g.CellLength))
	z = int(math.Floor((p.Z + g.ShiftZ) / g.CellLength))
	return x, y, z
}

// CellOf returns the flattened cell for p. Points outside the grid map to
// the overflow cell with ok false.
func (g Geometry) CellOf(p Vec3) (cell int, ok bool) {
	x, y, z := g.CellCoords(p)
	if !g.InBounds(x, y, z) {
		return g.OverflowCell(), false
	}
	return g.Flatten(x, y, z), true
}

// InBounds reports whether each axis lies in [0, dim).
func (g Geometry) InBounds(x, y, z int) bool {
	return x >= 0 && x < g.CellDimX &&
		y >= 0 && y < g.CellDimY &&
		z >= 0 && z < g.CellDimZ
}

// Flatten maps cell coordinates to a linear cell id. x varies fastest so
// cells that are neighbours along x stay close after sorting.
func (g Geometry) Flatten(x, y, z int) int {
	return x + y*g.CellDimX + z*g.CellDimX*g.CellDimY
}

// Unflatten is the inverse of Flatten for ids in [0, CellCount).
func (g Geometry) Unflatten(id int) (x, y, z int) {
	plane := g.CellDimX * g.CellDimY
	z = id / plane
	rem := id - z*plane
	y = rem / g.CellDimX
	x = rem - y*g.CellDimX
	return x, y, z
}
