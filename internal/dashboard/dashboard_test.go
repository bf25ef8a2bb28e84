package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supermarket-sales/internal/analytics"
	"supermarket-sales/internal/features"
	"supermarket-sales/internal/ml"
)

type fakeGauge struct {
	mu sync.Mutex
	v  float64
}

func (g *fakeGauge) Set(v float64) {
	g.mu.Lock()
	g.v = v
	g.mu.Unlock()
}

func (g *fakeGauge) Add(v float64) {
	g.mu.Lock()
	g.v += v
	g.mu.Unlock()
}

func (g *fakeGauge) get() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v
}

func newTestDashboard(t *testing.T, gauge *fakeGauge) (*Dashboard, *analytics.Aggregator, *httptest.Server) {
	t.Helper()
	agg := analytics.NewAggregator(nil, 5)
	db := New(agg, WithInterval(time.Hour), WithClientGauge(gauge))

	r := mux.NewRouter()
	db.Register(r)
	srv := httptest.NewServer(r)

	require.NoError(t, db.Start())
	t.Cleanup(func() {
		db.Stop()
		srv.Close()
	})
	return db, agg, srv
}

func sale(branch string, est float64) *ml.Result {
	return &ml.Result{
		ID:          uuid.New(),
		Timestamp:   time.Now().UTC(),
		Transaction: features.RawTransaction{Branch: branch, ProductLine: "Electronic accessories", Hour: 11},
		Estimate:    est,
	}
}

func TestDashboardPage(t *testing.T) {
	_, _, srv := newTestDashboard(t, &fakeGauge{})

	resp, err := http.Get(srv.URL + "/dashboard")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Supermarket Sales Analytics")
	assert.Contains(t, string(body), `data-dimension="Product line"`)
	assert.Contains(t, string(body), `data-dimension="Hour"`)
}

func TestSnapshotAPI(t *testing.T) {
	_, agg, srv := newTestDashboard(t, &fakeGauge{})
	agg.Add(sale("A", 120))
	agg.Add(sale("C", 80))

	resp, err := http.Get(srv.URL + "/api/dashboard")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var snap analytics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 2, snap.Predictions)
	assert.InDelta(t, 200, snap.Total, 1e-9)
	require.Len(t, snap.Breakdowns[features.ColBranch], 2)
	assert.Equal(t, "A", snap.Breakdowns[features.ColBranch][0].Key)
}

func TestWebSocketPushOnNotify(t *testing.T) {
	gauge := &fakeGauge{}
	db, agg, srv := newTestDashboard(t, gauge)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var initial analytics.Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Zero(t, initial.Predictions)

	require.Eventually(t, func() bool { return db.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, gauge.get())

	agg.Add(sale("B", 42))
	db.Notify()

	var pushed analytics.Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, 1, pushed.Predictions)
	assert.InDelta(t, 42, pushed.Total, 1e-9)

	conn.Close()
	require.Eventually(t, func() bool { return db.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, gauge.get())
}

func TestStartTwice(t *testing.T) {
	db, _, _ := newTestDashboard(t, &fakeGauge{})
	assert.Error(t, db.Start())
}

func TestRestartAfterStop(t *testing.T) {
	db := New(analytics.NewAggregator(nil, 0), WithInterval(time.Hour))
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Start())
		db.Notify()
		db.Stop()
	}
	db.Stop()
}

func TestNotifyNeverBlocks(t *testing.T) {
	db := New(analytics.NewAggregator(nil, 0))
	for i := 0; i < 10; i++ {
		db.Notify()
	}
	// Not started: Stop is a no-op.
	db.Stop()
}
