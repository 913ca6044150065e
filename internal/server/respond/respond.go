// Package respond writes JSON bodies and maps engine errors to HTTP statuses.
package respond

import (
	"encoding/json"
	"net/http"

	"rwa/engine"
)

type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusOf maps an error's kind to the status a client should see.
func StatusOf(err error) int {
	switch engine.KindOf(err) {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindConflict:
		return http.StatusConflict
	case engine.KindUnauthorized:
		return http.StatusForbidden
	case engine.KindPolicy:
		return http.StatusUnprocessableEntity
	case engine.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err with its status and code. Internal errors are not echoed
// to the client.
func Error(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, ErrorBody{Error: msg, Code: engine.CodeOf(err)})
}

// BadRequest is for requests rejected before they reach the engine.
func BadRequest(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusBadRequest, ErrorBody{Error: msg, Code: "InvalidRequest"})
}
