package api

import (
	"encoding/json"
	"net/http"

	"github.com/tomvil/acd/pkg/arp"
	"github.com/tomvil/acd/pkg/eloop"
)

type API struct {
	Loop    *eloop.Loop
	Manager *arp.Manager
}

func (a *API) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	var sessions []arp.SessionInfo
	a.Loop.Do(func() {
		sessions = a.Manager.Snapshot()
	})

	type SessionView struct {
		Interface string `json:"interface"`
		Address   string `json:"address"`
		State     string `json:"state"`
		Probes    int    `json:"probes"`
		Claims    int    `json:"claims"`
	}

	var output []SessionView
	for _, s := range sessions {
		output = append(output, SessionView{
			Interface: s.Iface,
			Address:   s.Addr.String(),
			State:     s.State.String(),
			Probes:    s.Probes,
			Claims:    s.Claims,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(output)
}
