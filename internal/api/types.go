package api

import (
	"github.com/mattjoyce/intertalk/internal/journal"
	"github.com/mattjoyce/intertalk/internal/registry"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Layers        int    `json:"layers"`
	Conditions    int    `json:"conditions"`
	InFlight      int    `json:"in_flight"`
	PendingResets int    `json:"pending_resets"`
	EventsDropped int64  `json:"events_dropped"`
}

// ConditionListResponse is returned by GET /conditions.
type ConditionListResponse struct {
	Conditions []registry.ConditionStats `json:"conditions"`
}

// InvocationListResponse is returned by GET /invocations.
type InvocationListResponse struct {
	Invocations []journal.Entry `json:"invocations"`
}
