package nns

// GridStats summarises bucket occupancy after FindCellStartEnd.
type GridStats struct {
	TotalCells     int     `json:"totalCells"`
	NonEmptyCells  int     `json:"nonEmptyCells"`
	OverflowPoints int     `json:"overflowPoints"`
	MaxInCell      int     `json:"maxInCell"`
	AvgPerNonEmpty float64 `json:"avgPerNonEmpty"`

	// Points per cell of the unbuffered volume. Around 2.0 the grid stops
	// being sparse and the speed-up over all-pairs shrinks.
	NonBufferCells      int     `json:"nonBufferCells"`
	AvgPerNonBufferCell float64 `json:"avgPerNonBufferCell"`
}

// Stats returns occupancy statistics for the current range table.
func (e *Engine) Stats() GridStats {
	s := GridStats{
		TotalCells:     e.geom.CellCount,
		NonBufferCells: e.geom.NonBufferCells,
	}

	points := 0
	for c := range e.cellStart {
		start, end, ok := e.CellRange(c)
		if !ok {
			continue
		}
		n := int(end - start)
		points += n
		s.NonEmptyCells++
		if n > s.MaxInCell {
			s.MaxInCell = n
		}
		if c == e.geom.OverflowCell() {
			s.OverflowPoints = n
		}
	}

	if s.NonEmptyCells > 0 {
		s.AvgPerNonEmpty = float64(points) / float64(s.NonEmptyCells)
	}
	if s.NonBufferCells > 0 {
		s.AvgPerNonBufferCell = float64(e.pointCount) / float64(s.NonBufferCells)
	}
	return s
}

// CellOccupancy is the point count of one non-empty cell.
type CellOccupancy struct {
	Cell  int `json:"cell"`
	Count int `json:"count"`
}

// Occupancy lists the non-empty cells of the current range table in id
// order.
func (e *Engine) Occupancy() []CellOccupancy {
	var out []CellOccupancy
	for c := range e.cellStart {
		if start, end, ok := e.CellRange(c); ok {
			out = append(out, CellOccupancy{Cell: c, Count: int(end - start)})
		}
	}
	return out
}
