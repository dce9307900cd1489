package kit

import (
	"encoding/json"
	"net/http"
)

// HTTPDecoder extracts the typed request from an HTTP request.
type HTTPDecoder func(*http.Request) (any, error)

// HTTPHandler exposes endpoint over HTTP with JSON responses. Decode
// failures answer 400; endpoint errors are mapped by status.
func HTTPHandler(endpoint Endpoint, decode HTTPDecoder, status func(error) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		resp, err := endpoint(WithTransport(r.Context(), "http"), req)
		if err != nil {
			WriteJSON(w, status(err), map[string]string{"error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
