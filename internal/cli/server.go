package cli

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TheusHen/toxcore/toxcore"
)

type sessionView struct {
	Peer      string `json:"peer"`
	Addr      string `json:"addr"`
	Transport string `json:"transport"`
	State     string `json:"state"`
}

type statusView struct {
	Self     string        `json:"self"`
	Address  string        `json:"address"`
	Status   string        `json:"status"`
	UDP      string        `json:"udp,omitempty"`
	Interval string        `json:"interval"`
	DHTNodes int           `json:"dht_nodes"`
	Sessions []sessionView `json:"sessions"`
}

// newRouter serves the node status and its metrics.
func newRouter(n *toxcore.Node, g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, nodeStatus(n))
	})
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}

func nodeStatus(n *toxcore.Node) statusView {
	v := statusView{
		Self:     n.Self().String(),
		Address:  n.Address().String(),
		Status:   n.ConnectionStatus().String(),
		Interval: n.IterationInterval().String(),
		DHTNodes: len(n.DHTNodes()),
		Sessions: []sessionView{},
	}
	if a := n.LocalAddr(); a.IsValid() {
		v.UDP = a.String()
	}
	for _, s := range n.Sessions() {
		v.Sessions = append(v.Sessions, sessionView{
			Peer:      s.Peer.PublicKey.String(),
			Addr:      s.Peer.Addr.String(),
			Transport: s.Peer.Transport.String(),
			State:     s.State.String(),
		})
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
