package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"particle-nns/internal/api"
	"particle-nns/internal/bench"
	"particle-nns/internal/nns"
	"particle-nns/internal/sim"
)

// ============================================================================
// Mock Runner
// ============================================================================

var demoGrid = nns.GridConfig{DimX: 10, DimY: 10, DimZ: 5, CellLength: 5, Buffer: 5}

// MockRunner implements api.RunnerInterface without a cycle loop.
type MockRunner struct {
	mu       sync.Mutex
	geom     nns.Geometry
	latest   *sim.Snapshot
	steps    int
	seeds    []int64
	verify   sim.VerifyReport
	queryErr error
}

func NewMockRunner(t *testing.T) *MockRunner {
	g, err := nns.NewGeometry(demoGrid)
	require.NoError(t, err)
	return &MockRunner{geom: g}
}

func (m *MockRunner) publish() *sim.Snapshot {
	m.steps++
	m.latest = &sim.Snapshot{
		Sequence:       uint64(m.steps),
		RunID:          "run-1",
		Timestamp:      time.Now(),
		Points:         []nns.Vec3{{}, {X: 1}, {X: 100}},
		Counts:         []int{1, 1, 0},
		Cells:          []nns.CellOccupancy{{Cell: 26, Count: 2}, {Cell: 47, Count: 1}},
		TotalNeighbors: 2,
		OutOfBounds:    1,
	}
	return m.latest
}

func (m *MockRunner) Latest() *sim.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

func (m *MockRunner) Geometry() nns.Geometry { return m.geom }

func (m *MockRunner) Step() (*sim.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publish(), nil
}

func (m *MockRunner) Reseed(seed int64) (*sim.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeds = append(m.seeds, seed)
	return m.publish(), nil
}

func (m *MockRunner) Query(points []nns.Vec3, withLists bool) (*nns.Result, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	e, err := nns.New(len(points), demoGrid, nns.WithNeighborLists(withLists))
	if err != nil {
		return nil, err
	}
	return e.Run(points)
}

func (m *MockRunner) Verify() (sim.VerifyReport, error) {
	if m.Latest() == nil {
		return sim.VerifyReport{}, sim.ErrNoSnapshot
	}
	return m.verify, nil
}

func (m *MockRunner) Bench(ctx context.Context, opts bench.Options) (bench.Report, error) {
	if m.Latest() == nil {
		return bench.Report{}, sim.ErrNoSnapshot
	}
	return bench.Report{Iterations: opts.Iterations, Speedup: 2}, nil
}

func (m *MockRunner) Running() bool  { return false }
func (m *MockRunner) Cycles() uint64 { return uint64(m.steps) }

func newTestServer(t *testing.T, runner api.RunnerInterface) *httptest.Server {
	t.Helper()
	router := api.NewRouter(api.RouterConfig{
		Runner:          runner,
		DisableLogging:  true,
		MaxQueryPoints:  10,
		RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000, CleanupInterval: time.Hour},
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func postJSON(t *testing.T, url, body string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

// ============================================================================
// Endpoint Tests
// ============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t, NewMockRunner(t))

	var body map[string]any
	getJSON(t, ts.URL+"/health", http.StatusOK, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestEndpointsBeforeFirstCycle(t *testing.T) {
	ts := newTestServer(t, NewMockRunner(t))

	for _, path := range []string{"/api/snapshot", "/api/cells", "/api/verify", "/api/bench", "/api/render.png", "/api/histogram.png"} {
		t.Run(path, func(t *testing.T) {
			getJSON(t, ts.URL+path, http.StatusServiceUnavailable, nil)
		})
	}
}

func TestSnapshot(t *testing.T) {
	runner := NewMockRunner(t)
	runner.Step()
	ts := newTestServer(t, runner)

	var body struct {
		Sequence       uint64 `json:"sequence"`
		Points         int    `json:"points"`
		Counts         []int  `json:"counts"`
		TotalNeighbors int    `json:"totalNeighbors"`
		MaxNeighbors   int    `json:"maxNeighbors"`
	}
	getJSON(t, ts.URL+"/api/snapshot", http.StatusOK, &body)
	assert.Equal(t, uint64(1), body.Sequence)
	assert.Equal(t, 3, body.Points)
	assert.Equal(t, []int{1, 1, 0}, body.Counts)
	assert.Equal(t, 2, body.TotalNeighbors)
	assert.Equal(t, 1, body.MaxNeighbors)
}

func TestSnapshotWithPoints(t *testing.T) {
	runner := NewMockRunner(t)
	runner.Step()
	ts := newTestServer(t, runner)

	var body struct {
		Points    int        `json:"points"`
		Positions []nns.Vec3 `json:"positions"`
	}
	getJSON(t, ts.URL+"/api/snapshot", http.StatusOK, &body)
	assert.Nil(t, body.Positions)

	getJSON(t, ts.URL+"/api/snapshot?points=true", http.StatusOK, &body)
	assert.Equal(t, 3, body.Points)
	assert.Equal(t, []nns.Vec3{{}, {X: 1}, {X: 100}}, body.Positions)
}

func TestStats(t *testing.T) {
	runner := NewMockRunner(t)
	ts := newTestServer(t, runner)

	var body struct {
		Cycles   uint64 `json:"cycles"`
		Geometry struct {
			CellDim   [3]int `json:"cellDim"`
			CellCount int    `json:"cellCount"`
		} `json:"geometry"`
		Latest *sim.Summary `json:"latest"`
	}
	getJSON(t, ts.URL+"/api/stats", http.StatusOK, &body)
	assert.Equal(t, [3]int{4, 4, 3}, body.Geometry.CellDim)
	assert.Equal(t, 48, body.Geometry.CellCount)
	assert.Nil(t, body.Latest)

	runner.Step()
	getJSON(t, ts.URL+"/api/stats", http.StatusOK, &body)
	require.NotNil(t, body.Latest)
	assert.Equal(t, uint64(1), body.Latest.Sequence)
}

func TestCells(t *testing.T) {
	runner := NewMockRunner(t)
	runner.Step()
	ts := newTestServer(t, runner)

	type cell struct {
		Cell     int    `json:"cell"`
		Coords   [3]int `json:"coords"`
		Count    int    `json:"count"`
		Overflow bool   `json:"overflow"`
	}
	var body struct {
		NonEmptyCells int    `json:"nonEmptyCells"`
		Truncated     bool   `json:"truncated"`
		Cells         []cell `json:"cells"`
	}
	getJSON(t, ts.URL+"/api/cells", http.StatusOK, &body)
	assert.Equal(t, 2, body.NonEmptyCells)
	assert.False(t, body.Truncated)
	assert.Equal(t, []cell{
		{Cell: 26, Coords: [3]int{2, 2, 1}, Count: 2},
		{Cell: 47, Coords: [3]int{3, 3, 2}, Count: 1, Overflow: true},
	}, body.Cells)

	getJSON(t, ts.URL+"/api/cells?limit=1", http.StatusOK, &body)
	assert.True(t, body.Truncated)
	assert.Len(t, body.Cells, 1)

	getJSON(t, ts.URL+"/api/cells?limit=zero", http.StatusBadRequest, nil)
}

func TestCellsFollowEngineBucketing(t *testing.T) {
	runner := NewMockRunner(t)
	snap, _ := runner.Step()
	// An unchecked engine keeps x=100 in cell 46 instead of the overflow cell.
	snap.Cells = []nns.CellOccupancy{{Cell: 26, Count: 2}, {Cell: 46, Count: 1}}
	ts := newTestServer(t, runner)

	var body struct {
		Cells []struct {
			Cell     int  `json:"cell"`
			Count    int  `json:"count"`
			Overflow bool `json:"overflow"`
		} `json:"cells"`
	}
	getJSON(t, ts.URL+"/api/cells", http.StatusOK, &body)
	require.Len(t, body.Cells, 2)
	assert.Equal(t, 46, body.Cells[1].Cell)
	assert.False(t, body.Cells[1].Overflow)
}

func TestQuery(t *testing.T) {
	ts := newTestServer(t, NewMockRunner(t))

	var body struct {
		Counts      []int   `json:"counts"`
		Neighbors   [][]int `json:"neighbors"`
		Total       int     `json:"total"`
		OutOfBounds int     `json:"outOfBounds"`
	}
	postJSON(t, ts.URL+"/api/query",
		`{"points":[{"x":0.5},{"x":2.5},{"x":100}],"neighbors":true}`,
		http.StatusOK, &body)

	assert.Equal(t, []int{1, 1, 0}, body.Counts)
	assert.Equal(t, []int{1}, body.Neighbors[0])
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.OutOfBounds)
}

func TestQueryRejectsBadInput(t *testing.T) {
	runner := NewMockRunner(t)
	ts := newTestServer(t, runner)

	postJSON(t, ts.URL+"/api/query", `{"points":`, http.StatusBadRequest, nil)

	var many bytes.Buffer
	many.WriteString(`{"points":[`)
	for i := 0; i < 11; i++ {
		if i > 0 {
			many.WriteString(",")
		}
		many.WriteString(`{"x":1}`)
	}
	many.WriteString(`]}`)
	postJSON(t, ts.URL+"/api/query", many.String(), http.StatusRequestEntityTooLarge, nil)

	runner.queryErr = errors.New("boom")
	postJSON(t, ts.URL+"/api/query", `{"points":[]}`, http.StatusInternalServerError, nil)
}

func TestReseedAndStep(t *testing.T) {
	runner := NewMockRunner(t)
	ts := newTestServer(t, runner)

	var summary sim.Summary
	postJSON(t, ts.URL+"/api/reseed", `{"seed":99}`, http.StatusOK, &summary)
	assert.Equal(t, uint64(1), summary.Sequence)

	postJSON(t, ts.URL+"/api/reseed", ``, http.StatusOK, &summary)
	assert.Equal(t, []int64{99, 0}, runner.seeds)

	postJSON(t, ts.URL+"/api/step", ``, http.StatusOK, &summary)
	assert.Equal(t, uint64(3), summary.Sequence)

	postJSON(t, ts.URL+"/api/reseed", `{"seed":"x"}`, http.StatusBadRequest, nil)
}

func TestVerify(t *testing.T) {
	runner := NewMockRunner(t)
	runner.Step()
	runner.verify = sim.VerifyReport{Sequence: 1, GridTotal: 2, OracleTotal: 2}
	ts := newTestServer(t, runner)

	var body struct {
		OK     bool             `json:"ok"`
		Report sim.VerifyReport `json:"report"`
	}
	getJSON(t, ts.URL+"/api/verify", http.StatusOK, &body)
	assert.True(t, body.OK)
	assert.Equal(t, 2, body.Report.OracleTotal)
}

func TestBench(t *testing.T) {
	runner := NewMockRunner(t)
	runner.Step()
	ts := newTestServer(t, runner)

	var rep bench.Report
	getJSON(t, ts.URL+"/api/bench?iterations=7", http.StatusOK, &rep)
	assert.Equal(t, 7, rep.Iterations)

	getJSON(t, ts.URL+"/api/bench?iterations=100000", http.StatusBadRequest, nil)
}

func TestImages(t *testing.T) {
	runner := NewMockRunner(t)
	runner.Step()
	ts := newTestServer(t, runner)

	for _, path := range []string{"/api/render.png?width=128&height=96", "/api/histogram.png"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

			img, err := png.Decode(resp.Body)
			require.NoError(t, err)
			assert.Positive(t, img.Bounds().Dx())
		})
	}

	resp, err := http.Get(ts.URL + "/api/render.png?width=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ============================================================================
// Middleware Tests
// ============================================================================

func TestRateLimiterRejectsBurst(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Runner:          NewMockRunner(t),
		DisableLogging:  true,
		RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1, Burst: 3, CleanupInterval: time.Hour},
	})

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 200, 429, 429}, codes)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Runner:         NewMockRunner(t),
		DisableLogging: true,
		CORSOrigins:    []string{"http://viewer.test"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "http://viewer.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "http://viewer.test", rec.Header().Get("Access-Control-Allow-Origin"))
}

// ============================================================================
// WebSocket Tests
// ============================================================================

func TestWebSocketBroadcastsCycles(t *testing.T) {
	runner := NewMockRunner(t)
	srv := api.NewServer(runner, api.ServerConfig{CORSOrigins: []string{"http://viewer.test"}}, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	hub := srv.Hub()
	go hub.Run()
	hub.StartBroadcastLoop(runner)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	header := http.Header{"Origin": []string{"http://viewer.test"}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	runner.Step()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event string      `json:"event"`
		Data  sim.Summary `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, api.EventCycleSnapshot, msg.Event)
	assert.Equal(t, uint64(1), msg.Data.Sequence)
	assert.Equal(t, 3, msg.Data.Points)
}

func TestWebSocketRejectsOrigin(t *testing.T) {
	srv := api.NewServer(NewMockRunner(t), api.ServerConfig{CORSOrigins: []string{"http://viewer.test"}}, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
