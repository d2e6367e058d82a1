package httpx

import "net/http"

// healthHandler answers load-balancer and deploy probes. It reports process
// liveness only; database or queue trouble surfaces through job metrics, not
// here, so a degraded pipeline keeps serving reads.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
