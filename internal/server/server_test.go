package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supermarket-sales/internal/analytics"
	"supermarket-sales/internal/dashboard"
	"supermarket-sales/internal/features"
	"supermarket-sales/internal/metrics"
	"supermarket-sales/internal/ml"
	"supermarket-sales/internal/storage"
)

type testEnv struct {
	srv        *Server
	ts         *httptest.Server
	store      *storage.Store
	aggregator *analytics.Aggregator
	registry   *prometheus.Registry
	reportDir  string
}

func loadPredictor(t *testing.T, m ml.MetricsInterface) *ml.Predictor {
	t.Helper()
	p, err := ml.Load(ml.Config{
		ModelPath:   filepath.Join("..", "ml", "testdata", "sales_model.json"),
		ModelFormat: ml.FormatXGBoostJSON,
		SchemaPath:  filepath.Join("..", "ml", "testdata", "feature_columns.json"),
		Transform:   ml.TransformNone,
		Policy:      ml.PolicyAttribution,
	}, m)
	require.NoError(t, err)
	return p
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	mw := metrics.NewWrapper(metrics.NewWithRegistry(reg))

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	agg := analytics.NewAggregator(nil, 10)
	reportDir := filepath.Join(t.TempDir(), "reports")

	srv := New(loadPredictor(t, mw), Config{
		Bounds:           features.DefaultBounds(),
		TopContributions: 3,
		ReportDir:        reportDir,
		MaxBatchRows:     100,
	},
		WithStore(store),
		WithAnalytics(agg),
		WithDashboard(dashboard.New(agg)),
		WithMetrics(mw),
		WithGatherer(reg),
	)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, ts: ts, store: store, aggregator: agg, registry: reg, reportDir: reportDir}
}

func exampleJSON() string {
	return `{
		"Branch": "A", "City": "Yangon", "Customer type": "Member", "Gender": "Female",
		"Product line": "Food and beverages", "Payment": "Cash",
		"Unit price": 55.0, "Quantity": 5, "Rating": 7.0, "Month": 2, "DayOfWeek": 3, "Hour": 14
	}`
}

func exampleForm() url.Values {
	return url.Values{
		"Branch":        {"A"},
		"City":          {"Yangon"},
		"Customer type": {"Member"},
		"Gender":        {"Female"},
		"Product line":  {"Food and beverages"},
		"Payment":       {"Cash"},
		"Unit price":    {"55"},
		"Quantity":      {"5"},
		"Rating":        {"7"},
		"Month":         {"2"},
		"DayOfWeek":     {"3"},
		"Hour":          {"14"},
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestForm(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `name="Unit price"`)
	assert.Contains(t, body, `<option value="Yangon"`)
	assert.Contains(t, body, `<option value="Ewallet"`)
	assert.Contains(t, body, `max="3"`, "month bound comes from configuration")
}

func TestFormPredict(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.PostForm(env.ts.URL+"/predict", exampleForm())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "$420.00")
	assert.Contains(t, body, "$336.00")
	assert.Contains(t, body, "$504.00")
	assert.Contains(t, body, "Model Confidence: 50.00%")
	assert.Contains(t, body, "Unit price")
	assert.Contains(t, body, "+120.00")
	assert.Contains(t, body, "/report")
}

func TestFormPredict_OutOfRange(t *testing.T) {
	env := newTestEnv(t)

	form := exampleForm()
	form.Set("Quantity", "50")
	resp, err := http.PostForm(env.ts.URL+"/predict", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Quantity")

	n, err := env.store.CountPredictions()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFormPredict_MissingNumber(t *testing.T) {
	env := newTestEnv(t)

	form := exampleForm()
	form.Del("Rating")
	resp, err := http.PostForm(env.ts.URL+"/predict", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Rating is required")
}

func TestAPIPredict(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts.URL+"/api/predict", exampleJSON())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.InDelta(t, 420, out.Estimate, 1e-9)
	assert.InDelta(t, 336, out.RangeLow, 1e-9)
	assert.InDelta(t, 504, out.RangeHigh, 1e-9)
	require.NotNil(t, out.Confidence)
	assert.InDelta(t, 50, *out.Confidence, 1e-9)
	require.Len(t, out.Contributions, 3)
	assert.Equal(t, "Unit price", out.Contributions[0].Feature)
	assert.InDelta(t, 120, out.Contributions[0].Value, 1e-9)
	assert.Empty(t, out.UnknownCategories)
	assert.Equal(t, "2025.01-test", out.ModelVersion)
	assert.Equal(t, reportURL(out.ID), out.ReportURL)

	rec, err := env.store.GetPrediction(out.ID)
	require.NoError(t, err)
	assert.Equal(t, "api", rec.Source)
	assert.Equal(t, 1, env.aggregator.Snapshot(0).Predictions)
}

func TestAPIPredict_UnknownBranch(t *testing.T) {
	env := newTestEnv(t)

	body := strings.Replace(exampleJSON(), `"Branch": "A"`, `"Branch": "D"`, 1)
	resp := postJSON(t, env.ts.URL+"/api/predict", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []string{features.ColBranch}, out.UnknownCategories)
	assert.NotEmpty(t, out.Warning)
	assert.InDelta(t, 380, out.Estimate, 1e-9)
}

func TestAPIPredict_DefaultsOmittedNumbers(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts.URL+"/api/predict", `{"Branch": "A", "City": "Yangon"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 55.0, out.Transaction.UnitPrice)
	assert.Equal(t, 5.0, out.Transaction.Quantity)
	assert.Equal(t, 14.0, out.Transaction.Hour)
}

func TestAPIPredict_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed JSON", `{"Branch":`, "invalid request"},
		{"unknown field", `{"Store": "X"}`, "invalid request"},
		{"out of range", strings.Replace(exampleJSON(), `"Hour": 14`, `"Hour": 30`, 1), "Hour"},
		{"month beyond configured bound", strings.Replace(exampleJSON(), `"Month": 2`, `"Month": 7`, 1), "Month"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, env.ts.URL+"/api/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var out ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Contains(t, out.Error, tt.want)
			assert.Empty(t, out.Hint)
		})
	}
}

type brokenModel struct{ width int }

func (m brokenModel) Predict([]float64) (float64, error) { return 0, errors.New("shape mismatch") }
func (m brokenModel) NumFeatures() int                    { return m.width }

func TestAPIPredict_InferenceFailure(t *testing.T) {
	schema, err := features.LoadSchema(filepath.Join("..", "ml", "testdata", "feature_columns.json"))
	require.NoError(t, err)
	p, err := ml.NewPredictor(schema, brokenModel{width: schema.Len()}, ml.Options{})
	require.NoError(t, err)

	ts := httptest.NewServer(New(p, Config{}).Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/predict", exampleJSON())
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Error, "shape mismatch")
	assert.Equal(t, ml.InferenceHint, out.Hint)

	form, err := http.PostForm(ts.URL+"/predict", exampleForm())
	require.NoError(t, err)
	defer form.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, form.StatusCode)
	assert.Contains(t, readBody(t, form), "input format")
}

func TestBatch(t *testing.T) {
	env := newTestEnv(t)

	csvBody := "Invoice ID,Branch,Unit price,Quantity\n001,A,55,5\n002,B,40,8\n"
	resp, err := http.Post(env.ts.URL+"/api/predict/batch", "text/csv", strings.NewReader(csvBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-Batch-Rows"))
	body := readBody(t, resp)
	assert.Contains(t, body, "Invoice ID,Branch,Unit price,Quantity,Predicted_Total")
	assert.Contains(t, body, "001,A,55,5,420.00")
	assert.Contains(t, body, "002,B,40,8,250.00")

	runs, err := env.store.ListBatchRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Rows)
}

func TestBatch_BadRow(t *testing.T) {
	env := newTestEnv(t)

	csvBody := "Branch,Unit price,Quantity\nA,55,5\nB,forty,8\n"
	resp, err := http.Post(env.ts.URL+"/api/predict/batch", "text/csv", strings.NewReader(csvBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var out ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Error, "row 2")
}

func TestBatch_TooManyRows(t *testing.T) {
	env := newTestEnv(t)

	var b strings.Builder
	b.WriteString("Branch,Unit price,Quantity\n")
	for i := 0; i < 101; i++ {
		b.WriteString("A,55,5\n")
	}
	resp, err := http.Post(env.ts.URL+"/api/predict/batch", "text/csv", strings.NewReader(b.String()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestReport(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts.URL+"/api/report", exampleJSON())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))

	// No temporary report survives the request.
	entries, err := os.ReadDir(env.reportDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoredReport(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts.URL+"/api/predict", exampleJSON())
	var out PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	pdf, err := http.Get(env.ts.URL + out.ReportURL)
	require.NoError(t, err)
	defer pdf.Body.Close()
	assert.Equal(t, http.StatusOK, pdf.StatusCode)
	assert.Equal(t, "application/pdf", pdf.Header.Get("Content-Type"))

	missing, err := http.Get(env.ts.URL + reportURL("00000000-0000-0000-0000-000000000000"))
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListPredictions(t *testing.T) {
	env := newTestEnv(t)

	postJSON(t, env.ts.URL+"/api/predict", exampleJSON())
	postJSON(t, env.ts.URL+"/api/predict", strings.Replace(exampleJSON(), `"Branch": "A"`, `"Branch": "B"`, 1))

	resp, err := http.Get(env.ts.URL + "/api/predictions?limit=10&branch=B")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list PredictionList
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "B", list.Predictions[0].Transaction.Branch)

	bad, err := http.Get(env.ts.URL + "/api/predictions?limit=-1")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestModelInfo(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/api/model")
	require.NoError(t, err)
	defer resp.Body.Close()

	var info ModelInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Len(t, info.Columns, 25)
	assert.Equal(t, []string{"A", "B", "C"}, info.Categories[features.ColBranch])
	assert.Equal(t, ml.TransformNone, info.TargetTransform)
	assert.Equal(t, ml.PolicyAttribution, info.Policy)
	assert.True(t, info.Explainable)
	assert.Equal(t, "2025.01-test", info.Metadata.Version)
	assert.Equal(t, 3.0, info.Bounds.Month.Max)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	postJSON(t, env.ts.URL+"/api/predict", exampleJSON())

	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health ml.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.True(t, health.Healthy)
	assert.Equal(t, int64(1), health.PredictionCount)
	assert.Equal(t, 25, health.Features)

	mresp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	body := readBody(t, mresp)
	assert.Contains(t, body, "predictions_total")
	assert.Contains(t, body, "predicted_total_amount")
}

func TestDashboardRoutesMounted(t *testing.T) {
	env := newTestEnv(t)
	postJSON(t, env.ts.URL+"/api/predict", exampleJSON())

	resp, err := http.Get(env.ts.URL + "/api/dashboard")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap analytics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 1, snap.Predictions)
	assert.InDelta(t, 420, snap.Total, 1e-9)
}

func TestNoStore(t *testing.T) {
	ts := httptest.NewServer(New(loadPredictor(t, nil), Config{}).Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/predict", exampleJSON())
	var out PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Empty(t, out.ReportURL)

	list, err := http.Get(ts.URL + "/api/predictions")
	require.NoError(t, err)
	defer list.Body.Close()
	assert.Equal(t, http.StatusOK, list.StatusCode)

	stored, err := http.Get(ts.URL + reportURL(out.ID))
	require.NoError(t, err)
	defer stored.Body.Close()
	assert.Equal(t, http.StatusNotFound, stored.StatusCode)
}

func TestDrift(t *testing.T) {
	baseline := make([]features.RawTransaction, 40)
	for i := range baseline {
		var raw features.RawTransaction
		require.NoError(t, json.Unmarshal([]byte(exampleJSON()), &raw))
		raw.Quantity = float64(1 + i%10)
		baseline[i] = raw
	}
	drift := ml.NewDriftDetector(ml.DriftConfig{}, nil)
	require.NoError(t, drift.SetBaseline(baseline))

	ts := httptest.NewServer(New(loadPredictor(t, nil), Config{}, WithDrift(drift)).Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/predict", exampleJSON())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := http.Get(ts.URL + "/api/drift")
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var status ml.DriftStatus
	require.NoError(t, json.NewDecoder(got.Body).Decode(&status))
	assert.True(t, status.Baseline)
	assert.Equal(t, int64(1), status.Samples)
	assert.Empty(t, status.Alerts)
}

func TestDrift_Disabled(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/api/drift")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
