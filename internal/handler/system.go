package handler

import "net/http"

// HandleRoot answers GET / so load balancers and humans can see the
// service is up.
func HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Alchemy AI Backend Running"})
}

// HealthChecker is anything whose liveness /health should report, such as
// the SQLite connection.
type HealthChecker interface {
	Ping() error
}

// HandleHealth returns the /health handler. With no checkers it always
// reports OK.
func HandleHealth(checks ...HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, c := range checks {
			if err := c.Ping(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "UNAVAILABLE"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	}
}
