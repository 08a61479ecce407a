package pointwallet

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status      string    `json:"status"`
	Version     uint      `json:"version"`
	Time        time.Time `json:"time"`
	Ready       bool      `json:"ready"`
	AddressOK   bool      `json:"address_loaded"`
	QueueLength int       `json:"queue_length"`
	Submitting  bool      `json:"submitting"`
}

// HealthHandler always returns 200 while the process is up and reports
// wallet readiness in the body.
func HealthHandler(coord *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:      "ok",
			Version:     VERSION,
			Time:        time.Now().UTC(),
			Ready:       coord.Ready(),
			AddressOK:   coord.GetAddress() != "",
			QueueLength: coord.QueueLen(),
			Submitting:  coord.Submitting(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
