package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygene76/gravlens/internal/types"
	"github.com/oxygene76/gravlens/pkg/analysis"
	"github.com/oxygene76/gravlens/pkg/astronomy/scene"
	"github.com/oxygene76/gravlens/pkg/compute"
	"github.com/oxygene76/gravlens/pkg/simulation"
)

func newTestServer(t *testing.T, mode simulation.MassEditMode) (*simulation.Driver, *analysis.History, *httptest.Server) {
	t.Helper()
	reg, err := scene.Load(scene.PresetBlackHoleSystem, nil)
	require.NoError(t, err)

	sctx := simulation.DefaultContext()
	sctx.RayCount = 16
	sctx.Params.MaxSteps = 200
	sctx.MassEditMode = mode
	d, err := simulation.NewDriver(reg, sctx, compute.NewPool(2, 2), zerolog.Nop())
	require.NoError(t, err)

	history := analysis.NewHistory(10)
	srv := httptest.NewServer(NewServer(d, history, zerolog.Nop(), Options{IncludeRays: true}).Handler())
	t.Cleanup(srv.Close)
	return d, history, srv
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestFrameEndpoint(t *testing.T) {
	d, _, srv := newTestServer(t, simulation.MassEditNextTick)

	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/api/v1/frame", nil))

	_, err := d.Step(context.Background(), 0.5)
	require.NoError(t, err)

	var rec types.FrameRecord
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/frame", &rec))
	assert.Equal(t, uint64(1), rec.Seq)
	assert.Equal(t, 0.5, rec.Time)
	assert.Len(t, rec.Bodies, 3)
	assert.Len(t, rec.Rays, 16)

	var slim types.FrameRecord
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/frame?rays=false", &slim))
	assert.Empty(t, slim.Rays)
	assert.Equal(t, 16, slim.Absorbed+slim.Escaped+slim.Exhausted)
}

func TestBodiesEndpoint(t *testing.T) {
	d, _, srv := newTestServer(t, simulation.MassEditNextTick)
	_, err := d.Step(context.Background(), 0)
	require.NoError(t, err)

	var bodies []types.BodyRecord
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/bodies", &bodies))
	require.Len(t, bodies, 3)
	assert.Equal(t, "blackhole", bodies[0].Name)
	assert.Equal(t, 800.0, bodies[0].Mass)
	assert.Equal(t, [3]float64{50, 0, 0}, bodies[0].Position)
}

func postMass(t *testing.T, url, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestMassEndpoint(t *testing.T) {
	d, _, srv := newTestServer(t, simulation.MassEditImmediate)
	_, err := d.Step(context.Background(), 1)
	require.NoError(t, err)

	status, out := postMass(t, srv.URL+"/api/v1/bodies/planet/mass", `{"mass": 250}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 250.0, out["mass"])
	assert.Equal(t, "immediate", out["mode"])

	// immediate mode republishes at the same time
	latest := d.Latest()
	assert.Equal(t, uint64(2), latest.Seq)
	assert.Equal(t, 250.0, latest.Bodies[2].Mass)

	status, out = postMass(t, srv.URL+"/api/v1/bodies/planet/mass", `{"delta": -1000}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0.0, out["mass"])

	status, _ = postMass(t, srv.URL+"/api/v1/bodies/comet/mass", `{"delta": 1}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = postMass(t, srv.URL+"/api/v1/bodies/planet/mass", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	resp, err := http.Get(srv.URL + "/api/v1/bodies/planet/mass")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatsAndHealth(t *testing.T) {
	d, history, srv := newTestServer(t, simulation.MassEditNextTick)
	require.NoError(t, d.Run(context.Background(), simulation.Clock{Delta: 0.02, Ticks: 3}, history))

	var stats struct {
		Latest analysis.RayStats `json:"latest"`
		Trend  analysis.Trend    `json:"trend"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/stats", &stats))
	assert.Equal(t, uint64(3), stats.Latest.Seq)
	assert.Equal(t, 16, stats.Latest.Rays)
	assert.Equal(t, 3, stats.Trend.Frames)

	var health map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/health", &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, 3.0, health["seq"])
}

func TestCORSPreflight(t *testing.T) {
	_, _, srv := newTestServer(t, simulation.MassEditNextTick)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/bodies/planet/mass", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://viewer.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocketPushesFrames(t *testing.T) {
	d, _, srv := newTestServer(t, simulation.MassEditNextTick)
	_, err := d.Step(context.Background(), 0)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	// the latest frame is sent on connect
	var first types.FrameRecord
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, uint64(1), first.Seq)
	assert.Len(t, first.Rays, 16)

	// keep publishing until the subscription has certainly been registered
	var next types.FrameRecord
	done := make(chan error, 1)
	go func() { done <- conn.ReadJSON(&next) }()
	deadline := time.After(10 * time.Second)
	for {
		_, err := d.Tick(context.Background(), 0.02)
		require.NoError(t, err)
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Greater(t, next.Seq, uint64(1))
			return
		case <-deadline:
			t.Fatal("no frame pushed")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	d, _, _ := newTestServer(t, simulation.MassEditNextTick)
	s := NewServer(d, nil, zerolog.Nop(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStatsWithoutHistory(t *testing.T) {
	d, _, _ := newTestServer(t, simulation.MassEditNextTick)
	h := NewServer(d, nil, zerolog.Nop(), Options{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&out))
	assert.Contains(t, out, "latest")
	assert.NotContains(t, out, "trend")
}
