package payments_http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"safepay/internal/domain"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type response struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation: http.StatusBadRequest,
	domain.KindNotFound:   http.StatusNotFound,
	domain.KindGateway:    http.StatusBadGateway,
	domain.KindIntegrity:  http.StatusInternalServerError,
	domain.KindStore:      http.StatusInternalServerError,
	domain.KindInternal:   http.StatusInternalServerError,
}

// Messages for kinds whose underlying error must not reach the caller.
var kindMessage = map[domain.ErrorKind]string{
	domain.KindIntegrity: "Payment provider returned unexpected account details",
	domain.KindStore:     "Failed to access payment records",
	domain.KindInternal:  "Internal server error",
}

func writeJSON(w http.ResponseWriter, status int, body response, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, status int, message string, data any, logger *zap.Logger) {
	writeJSON(w, status, response{Success: true, Message: message, Data: data}, logger)
}

func writeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	kind := domain.Kind(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	message, hidden := kindMessage[kind]
	if !hidden {
		message = err.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("kind", string(kind)), zap.Error(err))
	}

	writeJSON(w, status, response{
		Success: false,
		Error:   &errorBody{Kind: string(kind), Message: message},
	}, logger)
}

func writeFailure(w http.ResponseWriter, status int, kind, message string, logger *zap.Logger) {
	writeJSON(w, status, response{
		Success: false,
		Error:   &errorBody{Kind: kind, Message: message},
	}, logger)
}
