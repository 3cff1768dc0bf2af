package api

import (
	"encoding/json"
	"net/http"
)

// Envelope status values.
const (
	StatusOK           = "OK"
	StatusError        = "ERROR"
	StatusUnauthorized = "UNAUTHORIZED"
)

// Messages shared by several handlers.
const (
	msgUnauthorized = "API password missing or incorrect."
	msgBadForm      = "Invalid form data received."
)

// reply is the outcome of a control action, rendered as a JSON envelope or
// as a flash message depending on the request mode.
type reply struct {
	status  string
	message string
	fields  map[string]any
}

// ok returns a successful reply carrying optional extra envelope fields.
func ok(message string, fields map[string]any) reply {
	return reply{status: StatusOK, message: message, fields: fields}
}

// clientError returns an ERROR reply for malformed or missing input.
func clientError(message string) reply {
	return reply{status: StatusError, message: message}
}

// httpStatus maps an envelope status to its HTTP status code.
func httpStatus(status string) int {
	switch status {
	case StatusOK:
		return http.StatusOK
	case StatusUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// envelope flattens a reply into the JSON object sent to API clients.
// status and message always win over same-named extra fields.
func (rp reply) envelope() map[string]any {
	out := make(map[string]any, len(rp.fields)+2)
	for k, v := range rp.fields {
		out[k] = v
	}
	out["status"] = rp.status
	out["message"] = rp.message
	return out
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeReply writes rp as a JSON envelope.
func writeReply(w http.ResponseWriter, rp reply) {
	writeJSON(w, httpStatus(rp.status), rp.envelope())
}

// writeUnauthorized writes the UNAUTHORIZED envelope. It never carries
// entity data.
func writeUnauthorized(w http.ResponseWriter) {
	writeReply(w, reply{status: StatusUnauthorized, message: msgUnauthorized})
}

// writeInternalError writes a 500 response for recovered panics.
func writeInternalError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"status":  StatusError,
		"message": message,
	})
}

// notFound answers unknown paths and wrong methods.
func notFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}
