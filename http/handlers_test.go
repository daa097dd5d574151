package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carprice/category"
	"carprice/db"
	"carprice/ml"
	"carprice/ml/mltest"
	"carprice/monitoring"
	"carprice/predict"
)

const datasetCSV = `Brand,Model,Year,Engine_Size,Fuel_Type,Transmission,Mileage,Doors,Owner_Count,Price
Toyota,Corolla,2015,1.8,Petrol,Manual,50000,4,1,9000
Honda,Civic,2018,2.0,Diesel,Automatic,30000,4,2,12000
Toyota,Camry,2012,2.5,Petrol,Automatic,90000,4,3,7000
Ford,Focus,2019,1.6,Hybrid,Manual,10000,5,1,15000
`

func testMapping(t *testing.T) *category.Mapping {
	t.Helper()
	rows, err := category.ReadDataset(strings.NewReader(datasetCSV), "")
	require.NoError(t, err)
	m, err := category.Build(rows)
	require.NoError(t, err)
	return m
}

func loadedService(t *testing.T, recorders ...predict.Recorder) *predict.Context {
	t.Helper()
	path := mltest.WriteXGBoostJSON(t, t.TempDir(), ml.FeatureNames)
	model, err := ml.LoadArtifact("", path)
	require.NoError(t, err)
	svc, err := predict.New(predict.Options{Mappings: testMapping(t), Model: model, Recorders: recorders})
	require.NoError(t, err)
	return svc
}

func newTestHandler(svc *predict.Context, history History) http.Handler {
	return NewHandler(DefaultServerConfig(), &Handlers{Service: svc, History: history})
}

func validForm() url.Values {
	return url.Values{
		"Brand":        {"0"},
		"Model":        {"2"},
		"Year":         {"2015"},
		"Engine_Size":  {"2.0"},
		"Fuel_Type":    {"1"},
		"Transmission": {"0"},
		"Mileage":      {"50000"},
		"Doors":        {"4"},
		"Owner_Count":  {"1"},
	}
}

func serve(handler http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func postForm(handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func postMultipart(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, values := range form {
		for _, v := range values {
			require.NoError(t, mw.WriteField(name, v))
		}
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestHealthHandler(t *testing.T) {
	handler := newTestHandler(loadedService(t), nil)

	rr := serve(handler, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "model_loaded", body["model_state"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestHomeRendersMappingOptions(t *testing.T) {
	handler := newTestHandler(loadedService(t), nil)

	rr := serve(handler, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `<option value="0">Toyota</option>`)
	assert.Contains(t, body, `<option value="2">Ford</option>`)
	assert.Contains(t, body, `<option value="1">Automatic</option>`)
	assert.Contains(t, body, `name="Engine_Size" type="number" step="any"`)
	assert.NotContains(t, body, "not available")
}

func TestPredictFormEndToEnd(t *testing.T) {
	handler := newTestHandler(loadedService(t), nil)

	rr := postForm(handler, "/predict", validForm())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `<strong id="prediction">11500.00</strong>`)
	assert.NotContains(t, rr.Body.String(), `"error"`)
}

func TestPredictMultipartForm(t *testing.T) {
	handler := newTestHandler(loadedService(t), nil)

	rr := postMultipart(t, handler, "/predict", validForm())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `<strong id="prediction">11500.00</strong>`)

	rr = postMultipart(t, handler, "/api/predict", validForm())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"prediction":11500.00`)

	form := validForm()
	form.Set("Mileage", "lots")
	rr = postMultipart(t, handler, "/predict", form)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Mileage", decodeError(t, rr).Field)
}

func TestPredictMalformedThenValid(t *testing.T) {
	handler := newTestHandler(loadedService(t), nil)

	form := validForm()
	form.Set("Engine_Size", "abc")
	rr := postForm(handler, "/predict", form)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body := decodeError(t, rr)
	assert.Equal(t, predict.KindBadInput, body.Kind)
	assert.Equal(t, "Engine_Size", body.Field)
	assert.NotEmpty(t, body.Error)

	rr = postForm(handler, "/predict", validForm())
	assert.Equal(t, http.StatusOK, rr.Code, "service did not recover")
}

func TestPredictAPI(t *testing.T) {
	handler := newTestHandler(loadedService(t), nil)

	payload := `{"Brand":0,"Model":2,"Year":2015,"Engine_Size":2.0,"Fuel_Type":1,"Transmission":0,"Mileage":50000,"Doors":4,"Owner_Count":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"prediction":11500.00`)
	assert.Contains(t, rr.Body.String(), `"Brand":{"Toyota":0,"Honda":1,"Ford":2}`)

	rr = postForm(handler, "/api/predict", validForm())
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPredictUnavailable(t *testing.T) {
	svc, err := predict.New(predict.Options{Mappings: testMapping(t)})
	require.NoError(t, err)
	handler := newTestHandler(svc, nil)

	for i := 0; i < 2; i++ {
		rr := postForm(handler, "/predict", validForm())
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, predict.KindModelUnavailable, decodeError(t, rr).Kind)
	}

	rr := serve(handler, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "not available")
}

func TestMappingsHandler(t *testing.T) {
	handler := newTestHandler(loadedService(t), nil)

	rr := serve(handler, http.MethodGet, "/api/mappings")
	var got map[string]map[string]int
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 2, got["Fuel_Type"]["Hybrid"])
	assert.Len(t, got["Model"], 4)
}

func TestPredictionHistory(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "predictions.db"))
	require.NoError(t, err)
	defer store.Close()

	handler := newTestHandler(loadedService(t, store), store)
	require.Equal(t, http.StatusOK, postForm(handler, "/api/predict", validForm()).Code)

	rr := serve(handler, http.MethodGet, "/api/predictions?limit=5")
	var body struct {
		Predictions []struct {
			RequestID  string  `json:"request_id"`
			Prediction float64 `json:"prediction"`
		} `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Predictions, 1)
	assert.Equal(t, 11500.0, body.Predictions[0].Prediction)
	assert.NotEmpty(t, body.Predictions[0].RequestID)

	rr = serve(handler, http.MethodGet, "/api/predictions?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPredictionHistoryDisabled(t *testing.T) {
	handler := newTestHandler(loadedService(t), nil)

	rr := serve(handler, http.MethodGet, "/api/predictions")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"predictions":[]}`, rr.Body.String())
}

type failingHistory struct{}

func (failingHistory) Recent(context.Context, int) ([]db.Prediction, error) {
	panic("history exploded")
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := newTestHandler(loadedService(t), failingHistory{})

	rr := serve(handler, http.MethodGet, "/api/predictions")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal server error", decodeError(t, rr).Error)
}

func TestRequestSizeLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxBodyBytes = 16
	handler := NewHandler(cfg, &Handlers{Service: loadedService(t)})

	assert.Equal(t, http.StatusRequestEntityTooLarge, postForm(handler, "/api/predict", validForm()).Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.AllowedOrigins = []string{"http://localhost:3000"}
	handler := NewHandler(cfg, &Handlers{Service: loadedService(t)})

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"), "foreign origin must not be allowed")
}

func TestMetricsCountsOutcomes(t *testing.T) {
	metrics := monitoring.NewMetrics()
	handler := NewHandler(DefaultServerConfig(), &Handlers{Service: loadedService(t, metrics), Metrics: metrics})

	form := validForm()
	form.Set("Year", "")
	postForm(handler, "/predict", form)
	postForm(handler, "/predict", validForm())

	rr := serve(handler, http.MethodGet, "/api/metrics")
	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Predictions)
	assert.Equal(t, int64(1), snap.Errors[predict.KindBadInput])

	rr = serve(handler, http.MethodGet, "/api/metrics?format=prometheus")
	assert.Contains(t, rr.Body.String(), "carprice_predictions_total 1")
}

func TestMetricsReportStreamAndHistory(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "predictions.db"))
	require.NoError(t, err)
	defer store.Close()

	hub := monitoring.NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	metrics := monitoring.NewMetrics(monitoring.WithHub(hub), monitoring.WithHistory(store))
	handler := NewHandler(DefaultServerConfig(), &Handlers{
		Service: loadedService(t, store, hub, metrics),
		History: store,
		Metrics: metrics,
	})
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, postForm(handler, "/api/predict", validForm()).Code)
	}

	rr := serve(handler, http.MethodGet, "/api/metrics")
	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.NotNil(t, snap.StoredPredictions)
	assert.Equal(t, 2, *snap.StoredPredictions)
	require.NotNil(t, snap.Stream)
	assert.Equal(t, int64(0), snap.Stream.ConnectedClients)

	rr = serve(handler, http.MethodGet, "/api/metrics?format=prometheus")
	assert.Contains(t, rr.Body.String(), "carprice_history_rows 2\n")
	assert.Contains(t, rr.Body.String(), "carprice_ws_clients 0\n")
}
