// Package responses defines API response types used by sitedev HTTP handlers.
package responses

import "time"

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime"`
	State     string    `json:"state,omitempty"`
}

// AcceptedResponse acknowledges inbound events handed to the session.
type AcceptedResponse struct {
	Status   string    `json:"status"`
	Accepted int       `json:"accepted"`
	Kinds    []string  `json:"kinds,omitempty"`
	Received time.Time `json:"received"`
}
