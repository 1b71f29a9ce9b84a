package admin

import (
	"time"

	"dataroute/internal/router"
)

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	Groups        int    `json:"groups"`
	DeadProviders int    `json:"dead_providers"`
}

type checkResponse struct {
	Group      string `json:"group"`
	Mode       string `json:"mode"`
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// groupStatuses returns the status of every group, sorted by name.
func groupStatuses(rt *router.Router) []router.GroupStatus {
	groups := rt.Groups()
	out := make([]router.GroupStatus, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Status())
	}
	return out
}

func healthOf(rt *router.Router, startTime time.Time, version string) healthResponse {
	h := healthResponse{
		Status:  "ok",
		Version: version,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
	}
	for _, g := range rt.Groups() {
		h.Groups++
		h.DeadProviders += len(g.Tracker().DeadProviders())
	}
	return h
}
