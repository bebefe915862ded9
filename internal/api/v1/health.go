package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger reports reachability of one dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WorkerCounter reports how many workers heartbeated recently.
type WorkerCounter interface {
	WorkersSeenSince(ctx context.Context, now time.Time, window time.Duration) (int64, error)
}

type healthResponse struct {
	DB              string `json:"db"`
	Queue           string `json:"queue"`
	Bus             string `json:"bus"`
	WorkersSeen60s  int64  `json:"workers_seen_last_60s"`
}

// HealthHandler returns the unauthenticated operational health endpoint.
// Queue and bus share the Redis connection, so one ping covers both; the
// fields stay separate in the response for dashboard compatibility.
func HealthHandler(db Pinger, redis Pinger, workers WorkerCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{DB: "ok", Queue: "ok", Bus: "ok"}
		healthy := true

		if err := db.Ping(ctx); err != nil {
			resp.DB = "fail"
			healthy = false
		}
		if err := redis.Ping(ctx); err != nil {
			resp.Queue = "fail"
			resp.Bus = "fail"
			healthy = false
		} else if workers != nil {
			if n, err := workers.WorkersSeenSince(ctx, time.Now(), time.Minute); err == nil {
				resp.WorkersSeen60s = n
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
