package http

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"carprice/db"
	"carprice/ml"
	"carprice/monitoring"
	"carprice/predict"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	// multipart parts beyond this are spooled to disk; the body limit still applies
	maxFormMemory = 1 << 20
)

// History lists recorded predictions, newest first.
type History interface {
	Recent(ctx context.Context, limit int) ([]db.Prediction, error)
}

// Handlers 请求处理器. Service is required; the others may be nil.
type Handlers struct {
	Service *predict.Context
	History History
	Stream  http.Handler
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

func RegisterHandlers(mux *http.ServeMux, h *Handlers) {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	mux.HandleFunc("GET /{$}", h.handleHome)
	mux.HandleFunc("POST /predict", h.handlePredictForm)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/mappings", h.handleMappings)
	mux.HandleFunc("POST /api/predict", h.handlePredictAPI)
	mux.HandleFunc("GET /api/predictions", h.handlePredictions)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
	if h.Stream != nil {
		mux.Handle("GET /api/ws/predictions", h.Stream)
	}
}

func (h *Handlers) handleHome(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "")
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, prediction string) {
	page := homePage{
		Ready:      h.Service.State() == predict.StateLoaded,
		Fields:     homeFields(h.Service.Mappings()),
		Prediction: prediction,
	}
	if err := renderHome(w, page); err != nil {
		h.Logger.Error("render home", zap.String("request_id", predict.RequestID(r.Context())), zap.Error(err))
	}
}

// handlePredictForm serves the HTML form. Success re-renders the page with the
// price, failure answers with the JSON error body.
func (h *Handlers) handlePredictForm(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		h.fail(w, r, err)
		return
	}
	record, err := predict.ParseForm(r.PostForm, h.Service.Mappings())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.Predict(r.Context(), record)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, res.Prediction.String())
}

func (h *Handlers) handlePredictAPI(w http.ResponseWriter, r *http.Request) {
	record, err := h.decodeRecord(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.Predict(r.Context(), record)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) decodeRecord(r *http.Request) (ml.FeatureRecord, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return predict.ParseJSON(r.Body, h.Service.Mappings())
	}
	if err := parseForm(r); err != nil {
		return ml.FeatureRecord{}, err
	}
	return predict.ParseForm(r.Form, h.Service.Mappings())
}

// parseForm reads urlencoded and multipart/form-data bodies alike.
func parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(maxFormMemory)
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		return nil
	}
	return &predict.Error{Kind: predict.KindBadInput, Err: err}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := predict.KindOf(err)
	fields := []zap.Field{
		zap.String("request_id", predict.RequestID(r.Context())),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if h.Metrics != nil {
		h.Metrics.ObserveError(kind)
	}
	if kind == predict.KindInference {
		h.Logger.Error("prediction failed", fields...)
	} else {
		h.Logger.Info("prediction rejected", fields...)
	}
	writeError(w, err)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":      "ok",
		"model_state": h.Service.State(),
	}
	if m := h.Service.Model(); m != nil {
		body["model"] = m.Info()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handlers) handleMappings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Mappings())
}

func (h *Handlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer", Kind: predict.KindBadInput, Field: "limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	items := []db.Prediction{}
	if h.History != nil {
		recent, err := h.History.Recent(r.Context(), limit)
		if err != nil {
			h.Logger.Error("list predictions", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Kind: predict.KindInference})
			return
		}
		items = recent
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"predictions": items})
}

// handleMetrics serves JSON, or the Prometheus text format with ?format=prometheus.
func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	if r.URL.Query().Get("format") == "prometheus" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(h.Metrics.ExportPrometheus(r.Context())))
		return
	}
	writeJSON(w, http.StatusOK, h.Metrics.Snapshot(r.Context()))
}
