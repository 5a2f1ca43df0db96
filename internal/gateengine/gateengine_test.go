package gateengine

import (
	"testing"

	"github.com/inflatable-cookie/converge/internal/repostate"
	"github.com/stretchr/testify/require"
)

func TestEvaluateSuperpositionsBlock(t *testing.T) {
	b := repostate.Bundle{Approvals: []string{"alice"}}
	g := repostate.Gate{AllowSuperpositions: false, RequiredApprovals: 1}
	p := Evaluate(b, g, true)
	require.False(t, p.Promotable)
	require.Contains(t, p.Reasons, ReasonSuperpositionsPresent)
}

func TestEvaluateApprovalsMissing(t *testing.T) {
	b := repostate.Bundle{Approvals: nil}
	g := repostate.Gate{AllowSuperpositions: true, RequiredApprovals: 2}
	p := Evaluate(b, g, false)
	require.False(t, p.Promotable)
	require.Contains(t, p.Reasons, ReasonApprovalsMissing)
}

func TestEvaluatePromotable(t *testing.T) {
	b := repostate.Bundle{Approvals: []string{"alice", "bob"}}
	g := repostate.Gate{AllowSuperpositions: true, RequiredApprovals: 2}
	p := Evaluate(b, g, true)
	require.True(t, p.Promotable)
	require.Empty(t, p.Reasons)
}

func TestValidateGateGraphCycle(t *testing.T) {
	graph := repostate.GateGraph{Gates: map[string]repostate.Gate{
		"a": {ID: "a", Upstream: []string{"b"}},
		"b": {ID: "b", Upstream: []string{"a"}},
	}}
	err := ValidateGateGraph(graph)
	require.Error(t, err)
}

func TestValidateGateGraphMissingUpstream(t *testing.T) {
	graph := repostate.GateGraph{Gates: map[string]repostate.Gate{
		"a": {ID: "a", Upstream: []string{"ghost"}},
	}}
	err := ValidateGateGraph(graph)
	require.Error(t, err)
}

func TestValidateGateGraphOK(t *testing.T) {
	graph := repostate.GateGraph{Gates: map[string]repostate.Gate{
		"dev":  {ID: "dev"},
		"prod": {ID: "prod", Upstream: []string{"dev"}},
	}}
	require.NoError(t, ValidateGateGraph(graph))
}

func TestCanPromote(t *testing.T) {
	graph := repostate.GateGraph{Gates: map[string]repostate.Gate{
		"dev":  {ID: "dev"},
		"prod": {ID: "prod", Upstream: []string{"dev"}},
	}}
	require.True(t, CanPromote(graph, "dev", "prod"))
	require.False(t, CanPromote(graph, "prod", "dev"))
}
