package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bdobrica/kioku/common/version"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status     string        `json:"status"`
	Version    string        `json:"version"`
	Commit     string        `json:"commit"`
	BuildTime  string        `json:"build_time"`
	StartedAt  time.Time     `json:"started_at"`
	UptimeSecs float64       `json:"uptime_seconds"`
	Store      string        `json:"store"`
	Provider   string        `json:"provider"`
	Retrieval  bool          `json:"retrieval"`
	Memory     memory.Config `json:"memory"`
}

// handleHealth responds with a simple ok JSON payload.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

// handleStatus responds with runtime information and the active memory
// configuration.
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  a.startedAt,
		UptimeSecs: time.Since(a.startedAt).Seconds(),
		Store:      storeKind(a.store),
		Provider:   providerName(a.provider, a.cfg.Completion.Provider),
		Retrieval:  a.index != nil,
		Memory:     a.manager.Config(),
	})
}

func storeKind(s any) string {
	// "*store.SQLiteStore" -> "SQLiteStore"
	name := fmt.Sprintf("%T", s)
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}
