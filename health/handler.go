package health

import (
	"net/http"

	"github.com/sugawarayuuta/sonnet"
)

// Handler serves the status returned by check as JSON. It answers 503 while
// the status is unhealthy and 200 otherwise.
func Handler(check func() Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := check()

		body, err := sonnet.Marshal(status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(body)
	})
}
