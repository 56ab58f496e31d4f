// Package httpx holds the JSON response helpers shared by the demo
// backend's handlers.
package httpx

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// errorBody is the wire shape for failed requests.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondJSON writes data as a JSON response with the given status. Encode
// failures happen after the status line is out, so they are logged rather
// than surfaced.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithField("component", "httpx").WithError(err).Error("failed to encode response")
	}
}

// RespondError writes err as a JSON error body under the given status, with
// the status text as the error name.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondJSON(w, status, errorBody{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}
