package api

import "time"

// StatusResponse reports the fetch service's current progress and the
// dictionary acceleration client's health, for operator polling.
type StatusResponse struct {
	State             string    `json:"state"`
	NextHeight        uint64    `json:"next_height"`
	FinalizedHeight   uint64    `json:"finalized_height"`
	DispatcherFree    int       `json:"dispatcher_free"`
	DictionaryHealthy bool      `json:"dictionary_healthy"`
	DictionaryVersion int       `json:"dictionary_version,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// HealthResponse is the liveness probe response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
