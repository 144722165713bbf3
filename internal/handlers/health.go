package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthHandler answers 200 once ready reports true, 503 before.
func HealthHandler(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status, code := "ok", http.StatusOK
		if ready != nil && !ready() {
			status, code = "starting", http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
