// Package nns implements a uniform-grid nearest neighbour search for points
// in a bounded 3D volume.
//
// A query cycle runs five phases separated by barriers:
//
//	Hash     point -> (cellID, original index) pairs        parallel
//	Sort     pairs ordered by cellID                        sequential
//	Ranges   per-cell [start, end) into the sorted pairs    sequential
//	Reorder  coordinates gathered into cell-sorted order    parallel
//	Query    27-cell walk counting points within radius     parallel
//
// The cell length doubles as the interaction radius. Pick a cell length at
// least as large as the radius you care about; two points closer than one
// cell length are always found because they sit in the same or adjacent cells.
//
// The last cell id is reserved as an overflow bucket. Points that hash outside
// the buffered volume land there instead of failing the cycle; they are only
// compared against other overflow members.
package nns
