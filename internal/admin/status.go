package admin

import (
	"net/http"

	"github.com/angeloszaimis/rule-proxy/internal/metrics"
)

type statusResponse struct {
	Running         bool              `json:"running"`
	ProxyAddress    string            `json:"proxy_address"`
	Ready           bool              `json:"ready"`
	RulesTotal      int               `json:"rules_total"`
	RulesEnabled    int               `json:"rules_enabled"`
	RulesUnsynced   []string          `json:"rules_unsynced"`
	SnapshotVersion uint64            `json:"snapshot_version"`
	DirectPrefix    string            `json:"direct_prefix"`
	InFlight        int64             `json:"in_flight"`
	Breakers        map[string]string `json:"breakers"`
	Metrics         *metrics.Snapshot `json:"metrics,omitempty"`
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	snap := a.opts.Table.Snapshot()

	resp := statusResponse{
		Running:         true,
		ProxyAddress:    a.opts.ProxyAddr,
		Ready:           a.opts.Table.Ready(),
		RulesTotal:      snap.Len(),
		RulesEnabled:    snap.EnabledLen(),
		RulesUnsynced:   a.opts.Table.DirtyIDs(),
		SnapshotVersion: snap.Version(),
		DirectPrefix:    a.opts.Decoder.Prefix(),
	}
	resp.Breakers = make(map[string]string)
	for host, state := range a.opts.Breakers.Stats() {
		resp.Breakers[host] = state.String()
	}
	if a.opts.InFlight != nil {
		resp.InFlight = a.opts.InFlight()
	}
	if a.opts.Metrics != nil {
		m := a.opts.Metrics.Snapshot()
		resp.Metrics = &m
	}

	ok(w, http.StatusOK, resp)
}
