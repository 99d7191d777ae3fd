package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pdfchat/rolebroker/broker"
)

const (
	// maxJSONBodySize caps every JSON request body.
	maxJSONBodySize = 64 << 10
	// maxUploadSize caps multipart uploads to the file proxy.
	maxUploadSize = 25 << 20

	// isoMillis matches JavaScript's Date.toISOString.
	isoMillis = "2006-01-02T15:04:05.000Z07:00"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}

// writeInternalError logs err and sends a fixed message.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// decodeJSON reads a size-limited JSON body into T. On failure it writes a
// 400 (or 413) response and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// brokerStatus maps a broker error kind to an HTTP status.
func brokerStatus(kind broker.Kind) int {
	switch kind {
	case broker.KindInvalidArnFormat, broker.KindRoleAssumptionDenied:
		return http.StatusBadRequest
	case broker.KindNoCredentialsReturned, broker.KindUpstreamUnavailable:
		return http.StatusBadGateway
	case broker.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeBrokerError writes a *broker.Error. Its Message is client-safe by
// construction; anything else gets the generic internal message.
func writeBrokerError(w http.ResponseWriter, err error) {
	var be *broker.Error
	if !errors.As(err, &be) {
		writeError(w, http.StatusInternalServerError, broker.MessageInternal)
		return
	}
	msg := be.Message
	if be.Kind == broker.KindInternal {
		msg = broker.MessageInternal
	}
	writeError(w, brokerStatus(be.Kind), msg)
}
