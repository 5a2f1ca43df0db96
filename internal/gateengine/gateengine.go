// Package gateengine evaluates bundle promotability against a gate's policy
// and validates gate-graph edits (spec §4.5).
package gateengine

import (
	"sort"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/inflatable-cookie/converge/internal/repostate"
)

// Promotability is the (promotable, reasons) result of evaluating a bundle
// against its gate's policy.
type Promotability struct {
	Promotable bool
	Reasons    []string
}

const (
	ReasonSuperpositionsPresent = "superpositions_present"
	ReasonApprovalsMissing      = "approvals_missing"
)

// Evaluate computes promotability for bundle b at gate g, given whether its
// root manifest contains any superposition.
func Evaluate(b repostate.Bundle, g repostate.Gate, hasSuperpositions bool) Promotability {
	var reasons []string
	if hasSuperpositions && !g.AllowSuperpositions {
		reasons = append(reasons, ReasonSuperpositionsPresent)
	}
	if len(b.Approvals) < g.RequiredApprovals {
		reasons = append(reasons, ReasonApprovalsMissing)
	}
	return Promotability{Promotable: len(reasons) == 0, Reasons: reasons}
}

// HasSuperpositions is a convenience wrapper around
// objmodel.SuperpositionScan for gate evaluation call sites.
func HasSuperpositions(loader objmodel.ManifestLoader, root objmodel.ID) (bool, error) {
	scan, err := objmodel.SuperpositionScan(loader, root)
	if err != nil {
		return false, err
	}
	return len(scan) > 0, nil
}

// CanPromote reports whether a bundle currently at fromGate may be promoted
// to toGate: toGate must list fromGate in its upstream.
func CanPromote(graph repostate.GateGraph, fromGate, toGate string) bool {
	g, ok := graph.Gates[toGate]
	if !ok {
		return false
	}
	for _, u := range g.Upstream {
		if u == fromGate {
			return true
		}
	}
	return false
}

// ValidateGateGraph checks: no cycles, every upstream id exists, no gate is
// its own upstream, required_approvals >= 0 (§4.5).
func ValidateGateGraph(graph repostate.GateGraph) error {
	var issues []converrors.Issue

	ids := make([]string, 0, len(graph.Gates))
	for id := range graph.Gates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		g := graph.Gates[id]
		if g.RequiredApprovals < 0 {
			issues = append(issues, converrors.Issue{
				Code: "negative_required_approvals", Gate: id,
				Message: "required_approvals must be >= 0",
			})
		}
		for _, u := range g.Upstream {
			if u == id {
				issues = append(issues, converrors.Issue{
					Code: "self_upstream", Gate: id, Upstream: u,
					Message: "a gate cannot list itself as upstream",
				})
				continue
			}
			if _, ok := graph.Gates[u]; !ok {
				issues = append(issues, converrors.Issue{
					Code: "missing_upstream", Gate: id, Upstream: u,
					Message: "upstream gate does not exist",
				})
			}
		}
	}

	if cyc := findCycle(graph); cyc != "" {
		issues = append(issues, converrors.Issue{
			Code: "cycle", Gate: cyc,
			Message: "gate graph contains a cycle",
		})
	}

	if len(issues) > 0 {
		return converrors.WithIssues(converrors.GateGraphInvalid, "gate graph validation failed", issues)
	}
	return nil
}

// findCycle does a DFS over the upstream edges and returns the id of a gate
// found on a cycle, or "" if the graph is acyclic.
func findCycle(graph repostate.GateGraph) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		g, ok := graph.Gates[id]
		if ok {
			for _, u := range g.Upstream {
				if u == id {
					continue // reported separately as self_upstream
				}
				switch color[u] {
				case gray:
					return id
				case white:
					if found := visit(u); found != "" {
						return found
					}
				}
			}
		}
		color[id] = black
		return ""
	}
	ids := make([]string, 0, len(graph.Gates))
	for id := range graph.Gates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if found := visit(id); found != "" {
				return found
			}
		}
	}
	return ""
}
