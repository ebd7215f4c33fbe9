package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hopgate/carbroker/pkg/brokererr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, errCode string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// RespondBrokerErr maps a core operation's error to the wire-level envelope,
// falling back to 500 internal for anything that isn't a *brokererr.Error.
func RespondBrokerErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	var be *brokererr.Error
	if !errors.As(err, &be) {
		logger.Error("unclassified error reached transport edge", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	if be.Code == brokererr.Internal {
		logger.Error("internal error", "error", be.Cause, "message", be.Message)
	}

	msg := be.Message
	if be.Reason != "" {
		msg = be.Reason + ": " + msg
	}
	Respond(w, brokererr.HTTPStatus(be.Code), ErrorResponse{
		Error:   string(be.Code),
		Message: msg,
	})
}
