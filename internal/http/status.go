package http

import (
	"github.com/dropDatabas3/routemaster/internal/cluster"
	"github.com/dropDatabas3/routemaster/internal/policy"
)

// MemberStatus es un miembro visto por una view.
type MemberStatus struct {
	ID     string `json:"id"`
	Leader bool   `json:"leader"`
	Local  bool   `json:"local"`
}

// ViewStatus resume una view: líder conocido, miembros y listeners.
type ViewStatus struct {
	Namespace   string         `json:"namespace"`
	Started     bool           `json:"started"`
	LocalLeader bool           `json:"local_leader"`
	Leader      string         `json:"leader,omitempty"`
	Listeners   int            `json:"listeners"`
	Members     []MemberStatus `json:"members"`
}

// ClusterStatus es la respuesta de GET /v1/cluster.
type ClusterStatus struct {
	ID      string       `json:"id"`
	Running bool         `json:"running"`
	Views   []ViewStatus `json:"views"`
}

// PolicyStatus es un elemento de GET /v1/policies.
type PolicyStatus struct {
	ClusterID string   `json:"cluster_id"`
	Namespace string   `json:"namespace"`
	State     string   `json:"state"`
	Leader    bool     `json:"leader"`
	RefCount  int      `json:"ref_count"`
	Started   []string `json:"started"`
	Stopped   []string `json:"stopped"`
}

func viewStatus(v *cluster.View) ViewStatus {
	out := ViewStatus{
		Namespace:   v.Namespace(),
		Started:     v.IsStarted(),
		LocalLeader: v.LocalMemberIsLeader(),
		Listeners:   v.ListenerCount(),
		Members:     []MemberStatus{},
	}
	if m, ok := v.Leader(); ok {
		out.Leader = m.ID()
	}
	for _, m := range v.Members() {
		if m == nil {
			continue
		}
		out.Members = append(out.Members, MemberStatus{ID: m.ID(), Leader: m.IsLeader(), Local: m.IsLocal()})
	}
	return out
}

func clusterStatus(p cluster.Provider) ClusterStatus {
	out := ClusterStatus{ID: p.ID(), Running: p.IsRunning(), Views: []ViewStatus{}}
	for _, v := range p.Views() {
		out.Views = append(out.Views, viewStatus(v))
	}
	return out
}

func policyStatus(p *policy.Policy) PolicyStatus {
	return PolicyStatus{
		ClusterID: p.View().ClusterID(),
		Namespace: p.Namespace(),
		State:     string(p.State()),
		Leader:    p.IsLeader(),
		RefCount:  p.RefCount(),
		Started:   nonNil(p.StartedRoutes()),
		Stopped:   nonNil(p.StoppedRoutes()),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
