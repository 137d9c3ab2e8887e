package client

import (
	"fmt"
	"time"
)

// Server is one entry of the server list.
type Server struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Running bool   `json:"running"`
	State   string `json:"state"`
}

// Status represents the status of a single server. CPU and memory are set
// only when MetricsAvailable is true.
type Status struct {
	ID               string   `json:"id"`
	State            string   `json:"state"`
	Running          bool     `json:"running"`
	PID              int      `json:"pid,omitempty"`
	CPUPercent       *float64 `json:"cpu_percent,omitempty"`
	MemoryMB         *float64 `json:"memory_mb,omitempty"`
	MetricsAvailable bool     `json:"metrics_available"`
}

// Schedule is one cron entry reported by the daemon.
type Schedule struct {
	Profile string    `json:"profile"`
	Spec    string    `json:"spec"`
	Command string    `json:"command"`
	Next    time.Time `json:"next"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastErr string    `json:"last_error,omitempty"`
}

// Token is returned by Login.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type idRequest struct {
	ID string `json:"id"`
}

type sendRequest struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

type configRequest struct {
	ID     string `json:"id"`
	Config string `json:"config"`
}

type configWriteResponse struct {
	OK      bool   `json:"ok"`
	Warning string `json:"warning,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
