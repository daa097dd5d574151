package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"carprice/predict"
)

// errorBody is the structured error payload returned for every failed request.
type errorBody struct {
	Error string       `json:"error"`
	Kind  predict.Kind `json:"kind"`
	Field string       `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind predict.Kind) int {
	switch kind {
	case predict.KindBadInput:
		return http.StatusBadRequest
	case predict.KindModelUnavailable:
		return http.StatusServiceUnavailable
	case predict.KindUnsupportedModel:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error(), Kind: predict.KindBadInput})
		return
	}
	body := errorBody{Error: err.Error(), Kind: predict.KindOf(err)}
	var pe *predict.Error
	if errors.As(err, &pe) {
		body.Field = pe.Field
	}
	writeJSON(w, statusFor(body.Kind), body)
}
