package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"particle-nns/internal/bench"
	"particle-nns/internal/nns"
	"particle-nns/internal/render"
	"particle-nns/internal/sim"
)

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"running": h.runner.Running(),
		"cycles":  h.runner.Cycles(),
	})
}

// latest writes 503 and returns nil before the first cycle.
func (h *routerHandlers) latest(w http.ResponseWriter) *sim.Snapshot {
	snap := h.runner.Latest()
	if snap == nil {
		writeError(w, "no cycle has completed yet", http.StatusServiceUnavailable)
	}
	return snap
}

type snapshotResponse struct {
	sim.Summary
	Counts    []int      `json:"counts"`
	Positions []nns.Vec3 `json:"positions,omitempty"`
}

func (h *routerHandlers) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.latest(w)
	if snap == nil {
		return
	}
	resp := snapshotResponse{Summary: snap.Summary(), Counts: snap.Counts}
	if r.URL.Query().Get("points") == "true" {
		resp.Positions = snap.Points
	}
	writeJSON(w, resp)
}

type geometryResponse struct {
	CellDim        [3]int     `json:"cellDim"`
	CellCount      int        `json:"cellCount"`
	CellLength     float64    `json:"cellLength"`
	Buffer         float64    `json:"buffer"`
	Buffered       [3]float64 `json:"buffered"`
	NonBufferCells int        `json:"nonBufferCells"`
}

func newGeometryResponse(g nns.Geometry) geometryResponse {
	return geometryResponse{
		CellDim:        [3]int{g.CellDimX, g.CellDimY, g.CellDimZ},
		CellCount:      g.CellCount,
		CellLength:     g.CellLength,
		Buffer:         g.Buffer,
		Buffered:       [3]float64{g.BufferedX, g.BufferedY, g.BufferedZ},
		NonBufferCells: g.NonBufferCells,
	}
}

func (h *routerHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"running":  h.runner.Running(),
		"cycles":   h.runner.Cycles(),
		"geometry": newGeometryResponse(h.runner.Geometry()),
	}
	if snap := h.runner.Latest(); snap != nil {
		resp["latest"] = snap.Summary()
	}
	writeJSON(w, resp)
}

type cellEntry struct {
	Cell     int    `json:"cell"`
	Coords   [3]int `json:"coords"`
	Count    int    `json:"count"`
	Overflow bool   `json:"overflow,omitempty"`
}

// handleCells lists the occupied cells of the latest snapshot in id order,
// as the engine bucketed them under its bounds policy.
func (h *routerHandlers) handleCells(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100, 1, 100_000)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap := h.latest(w)
	if snap == nil {
		return
	}

	g := h.runner.Geometry()
	shown := snap.Cells[:min(limit, len(snap.Cells))]
	cells := make([]cellEntry, 0, len(shown))
	for _, c := range shown {
		x, y, z := g.Unflatten(c.Cell)
		cells = append(cells, cellEntry{
			Cell:     c.Cell,
			Coords:   [3]int{x, y, z},
			Count:    c.Count,
			Overflow: c.Cell == g.OverflowCell(),
		})
	}
	writeJSON(w, map[string]any{
		"sequence":      snap.Sequence,
		"nonEmptyCells": len(snap.Cells),
		"truncated":     len(snap.Cells) > limit,
		"cells":         cells,
	})
}

type queryRequest struct {
	Points    []nns.Vec3 `json:"points"`
	Neighbors bool       `json:"neighbors"`
}

type queryResponse struct {
	Counts      []int       `json:"counts"`
	Neighbors   [][]int     `json:"neighbors,omitempty"`
	Total       int         `json:"total"`
	OutOfBounds int         `json:"outOfBounds"`
	Timings     nns.Timings `json:"timings"`
}

func (h *routerHandlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	// Roughly 80 bytes per encoded point.
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxQueryPoints)*80+1024)

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.Points) > h.maxQueryPoints {
		writeError(w, "too many points", http.StatusRequestEntityTooLarge)
		return
	}

	res, err := h.runner.Query(req.Points, req.Neighbors)
	if err != nil {
		h.logger.Error("query failed", zap.Error(err))
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, queryResponse{
		Counts:      res.Counts,
		Neighbors:   res.Neighbors,
		Total:       res.Total(),
		OutOfBounds: res.OutOfBounds,
		Timings:     res.Timings,
	})
}

func (h *routerHandlers) handleReseed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seed int64 `json:"seed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	snap, err := h.runner.Reseed(req.Seed)
	if err != nil {
		h.logger.Error("reseed failed", zap.Error(err))
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap.Summary())
}

func (h *routerHandlers) handleStep(w http.ResponseWriter, r *http.Request) {
	snap, err := h.runner.Step()
	if err != nil {
		h.logger.Error("step failed", zap.Error(err))
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap.Summary())
}

func (h *routerHandlers) handleVerify(w http.ResponseWriter, r *http.Request) {
	rep, err := h.runner.Verify()
	if errors.Is(err, sim.ErrNoSnapshot) {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"ok":     rep.OK(),
		"report": rep,
	})
}

func (h *routerHandlers) handleBench(w http.ResponseWriter, r *http.Request) {
	iterations, err := intParam(r, "iterations", 100, 1, h.maxBenchIterations)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rep, err := h.runner.Bench(r.Context(), bench.Options{Iterations: iterations})
	switch {
	case errors.Is(err, sim.ErrNoSnapshot):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, rep)
	}
}

func (h *routerHandlers) handleRender(w http.ResponseWriter, r *http.Request) {
	width, err := intParam(r, "width", 800, 64, 4096)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	height, err := intParam(r, "height", width, 64, 4096)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap := h.latest(w)
	if snap == nil {
		return
	}

	opts := render.DefaultScatterOptions()
	opts.Width, opts.Height = width, height
	w.Header().Set("Content-Type", "image/png")
	if err := render.WriteScatterPNG(w, snap.Points, snap.Counts, h.runner.Geometry(), opts); err != nil {
		h.logger.Warn("render failed", zap.Error(err))
	}
}

func (h *routerHandlers) handleHistogram(w http.ResponseWriter, r *http.Request) {
	snap := h.latest(w)
	if snap == nil {
		return
	}
	if len(snap.Counts) == 0 {
		writeError(w, "snapshot has no points", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := render.WriteHistogramPNG(w, snap.Counts, render.DefaultHistogramWidth, render.DefaultHistogramHeight); err != nil {
		h.logger.Warn("histogram failed", zap.Error(err))
	}
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < lo || v > hi {
		return 0, &paramError{name: name, lo: lo, hi: hi}
	}
	return v, nil
}

type paramError struct {
	name   string
	lo, hi int
}

func (e *paramError) Error() string {
	return fmt.Sprintf("%s must be an integer in [%d, %d]", e.name, e.lo, e.hi)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
