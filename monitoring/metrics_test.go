package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carprice/predict"
)

type fixedCount struct {
	n   int
	err error
}

func (f fixedCount) Count(context.Context) (int, error) { return f.n, f.err }

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()
	require.NoError(t, m.Record(ctx, predict.Event{Prediction: 100, Duration: 2 * time.Millisecond}))
	require.NoError(t, m.Record(ctx, predict.Event{Prediction: 250.5, Duration: 4 * time.Millisecond, Cached: true}))
	m.ObserveError(predict.KindBadInput)
	m.ObserveError(predict.KindBadInput)
	m.ObserveError(predict.KindModelUnavailable)

	s := m.Snapshot(ctx)
	assert.Equal(t, int64(2), s.Predictions)
	assert.Equal(t, int64(1), s.Cached)
	assert.Equal(t, int64(2000), s.LatencyMinUS)
	assert.Equal(t, int64(4000), s.LatencyMaxUS)
	assert.Equal(t, int64(3000), s.LatencyMeanUS)
	assert.Equal(t, 250.5, s.LastPrice)
	assert.Equal(t, int64(2), s.Errors[predict.KindBadInput])
	assert.Equal(t, int64(1), s.Errors[predict.KindModelUnavailable])
	assert.Nil(t, s.Stream)
	assert.Nil(t, s.StoredPredictions)
}

func TestExportPrometheus(t *testing.T) {
	m := NewMetrics()
	m.Record(context.Background(), predict.Event{Prediction: 1})
	m.ObserveError(predict.KindInference)

	out := m.ExportPrometheus(context.Background())
	assert.Contains(t, out, "# TYPE carprice_predictions_total counter\ncarprice_predictions_total 1\n")
	assert.Contains(t, out, `carprice_prediction_errors_total{kind="inference_error"} 1`)
	assert.Contains(t, out, "carprice_predictions_cached_total 0\n")
	assert.NotContains(t, out, "carprice_ws_clients")
	assert.NotContains(t, out, "carprice_history_rows")
}

func TestMetricsIncludeHubAndHistory(t *testing.T) {
	hub, srv := startHub(t)
	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()
	waitClients(t, hub, 1)

	m := NewMetrics(WithHub(hub), WithHistory(fixedCount{n: 7}))
	ctx := context.Background()

	s := m.Snapshot(ctx)
	require.NotNil(t, s.Stream)
	assert.Equal(t, int64(1), s.Stream.ConnectedClients)
	require.NotNil(t, s.StoredPredictions)
	assert.Equal(t, 7, *s.StoredPredictions)

	out := m.ExportPrometheus(ctx)
	assert.Contains(t, out, "carprice_ws_clients 1\n")
	assert.Contains(t, out, "# TYPE carprice_ws_messages_sent_total counter\n")
	assert.Contains(t, out, "carprice_ws_messages_dropped_total 0\n")
	assert.Contains(t, out, "carprice_history_rows 7\n")
}

func TestMetricsSkipFailingHistory(t *testing.T) {
	m := NewMetrics(WithHistory(fixedCount{err: errors.New("database is locked")}))
	s := m.Snapshot(context.Background())
	assert.Nil(t, s.StoredPredictions)
	assert.NotContains(t, m.ExportPrometheus(context.Background()), "carprice_history_rows")
}
