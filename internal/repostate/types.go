// Package repostate models the authoritative per-repo aggregate: the
// object-independent bookkeeping (publications, bundles, promotions,
// releases, gates, ACLs, lanes) that sits on top of the object store
// (spec §3 "Repo state", §4.4).
package repostate

import (
	"sort"
	"time"

	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// ResolutionRef captures how a published snap's root manifest was resolved
// from a bundle, if at all.
type ResolutionRef struct {
	BundleID             string      `json:"bundle_id"`
	RootManifest         objmodel.ID `json:"root_manifest"`
	ResolvedRootManifest objmodel.ID `json:"resolved_root_manifest"`
	CreatedAt            time.Time   `json:"created_at"`
}

// Publication is a server-registered claim that a snap belongs to a
// (scope, gate).
type Publication struct {
	ID           string         `json:"id"`
	Scope        string         `json:"scope"`
	Gate         string         `json:"gate"`
	Snap         objmodel.ID    `json:"snap"`
	Publisher    string         `json:"publisher"`
	CreatedAt    time.Time      `json:"created_at"`
	Resolution   *ResolutionRef `json:"resolution,omitempty"`
	MetadataOnly bool           `json:"metadata_only"`
}

// Bundle is a merge of one or more publications at a single gate.
type Bundle struct {
	ID                 string      `json:"id"`
	Scope              string      `json:"scope"`
	Gate               string      `json:"gate"`
	InputPublications  []string    `json:"input_publications"`
	RootManifest       objmodel.ID `json:"root_manifest"`
	CreatedBy          string      `json:"created_by"`
	CreatedAt          time.Time   `json:"created_at"`
	Approvals          []string    `json:"approvals"`
	Promotable         bool        `json:"promotable"`
	Reasons            []string    `json:"reasons"`
}

// HasApproval reports whether handle has already approved the bundle.
func (b Bundle) HasApproval(handle string) bool {
	for _, a := range b.Approvals {
		if a == handle {
			return true
		}
	}
	return false
}

// WithApproval returns a copy of b with handle added to its approvals
// (idempotent: approving twice is a no-op).
func (b Bundle) WithApproval(handle string) Bundle {
	if b.HasApproval(handle) {
		return b
	}
	out := b
	out.Approvals = append(append([]string(nil), b.Approvals...), handle)
	sort.Strings(out.Approvals)
	return out
}

// Promotion advances a bundle from one gate to a downstream gate.
type Promotion struct {
	ID          string    `json:"id"`
	BundleID    string    `json:"bundle_id"`
	Scope       string    `json:"scope"`
	FromGate    string    `json:"from_gate"`
	ToGate      string    `json:"to_gate"`
	PromotedBy  string    `json:"promoted_by"`
	PromotedAt  time.Time `json:"promoted_at"`
}

// Release is a named channel pointer to a bundle.
type Release struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	BundleID   string    `json:"bundle_id"`
	Scope      string    `json:"scope"`
	Gate       string    `json:"gate"`
	ReleasedBy string    `json:"released_by"`
	ReleasedAt time.Time `json:"released_at"`
	Notes      *string   `json:"notes,omitempty"`
}

// Gate is a node in the promotion DAG carrying policy.
type Gate struct {
	ID                           string   `json:"id"`
	Name                         string   `json:"name"`
	Upstream                     []string `json:"upstream"`
	AllowReleases                bool     `json:"allow_releases"`
	AllowSuperpositions          bool     `json:"allow_superpositions"`
	AllowMetadataOnlyPublications bool    `json:"allow_metadata_only_publications"`
	RequiredApprovals            int     `json:"required_approvals"`
}

// GateGraph is the set of gates keyed by id, forming a DAG.
type GateGraph struct {
	Gates map[string]Gate `json:"gates"`
}

// LaneHead is one recorded update to a lane's per-user head pointer.
type LaneHead struct {
	Snap      objmodel.ID `json:"snap"`
	UpdatedBy string      `json:"updated_by"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// KeepLastLaneHeads bounds per-user lane head history (P8, supplemented
// feature grounded on original_source/src/remote/identity.rs).
const KeepLastLaneHeads = 20

// Lane is a named collaboration group with its own membership and, per
// member, a bounded history of head updates (supplemented feature).
type Lane struct {
	ID      string              `json:"id"`
	Members []string            `json:"members"`
	// Heads holds each member's current head pointer.
	Heads map[string]objmodel.ID `json:"heads"`
	// HeadHistory holds each member's update history, newest first, capped
	// at KeepLastLaneHeads entries.
	HeadHistory map[string][]LaneHead `json:"head_history"`
}

// RecordHead appends a new head update for user, keeping only the most
// recent KeepLastLaneHeads entries (P8).
func (l *Lane) RecordHead(user string, snap objmodel.ID, at time.Time) {
	if l.Heads == nil {
		l.Heads = map[string]objmodel.ID{}
	}
	if l.HeadHistory == nil {
		l.HeadHistory = map[string][]LaneHead{}
	}
	l.Heads[user] = snap
	entry := LaneHead{Snap: snap, UpdatedBy: user, UpdatedAt: at}
	hist := append([]LaneHead{entry}, l.HeadHistory[user]...)
	if len(hist) > KeepLastLaneHeads {
		hist = hist[:KeepLastLaneHeads]
	}
	l.HeadHistory[user] = hist
}

// Repo is the authoritative aggregate for one repository.
type Repo struct {
	ID         string   `json:"id"`
	Owner      string   `json:"owner"`
	Readers    []string `json:"readers"`
	Publishers []string `json:"publishers"`

	Lanes     map[string]*Lane `json:"lanes"`
	GateGraph GateGraph        `json:"gate_graph"`

	// Scopes is the set of scope names ever used in this repo, informational.
	Scopes []string `json:"scopes"`

	Snaps        map[objmodel.ID]objmodel.Snap `json:"snaps"`
	Publications map[string]Publication        `json:"publications"`
	Bundles      map[string]Bundle             `json:"bundles"`
	PinnedBundles map[string]bool              `json:"pinned_bundles"`
	Promotions   map[string]Promotion          `json:"promotions"`

	// PromotionState[scope][gate] = bundle id (§3 invariant I5).
	PromotionState map[string]map[string]string `json:"promotion_state"`

	Releases map[string]Release `json:"releases"`
}

// NewRepo builds an empty repo aggregate with all maps initialised.
func NewRepo(id, owner string) *Repo {
	return &Repo{
		ID:             id,
		Owner:          owner,
		Readers:        []string{},
		Publishers:     []string{},
		Lanes:          map[string]*Lane{},
		GateGraph:      GateGraph{Gates: map[string]Gate{}},
		Scopes:         []string{},
		Snaps:          map[objmodel.ID]objmodel.Snap{},
		Publications:   map[string]Publication{},
		Bundles:        map[string]Bundle{},
		PinnedBundles:  map[string]bool{},
		Promotions:     map[string]Promotion{},
		PromotionState: map[string]map[string]string{},
		Releases:       map[string]Release{},
	}
}

// CurrentRelease returns the release in channel with the greatest
// ReleasedAt (RFC-3339 UTC sorts correctly lexicographically too; we compare
// time.Time directly). Returns ok=false if the channel has no releases.
func (r *Repo) CurrentRelease(channel string) (Release, bool) {
	var best Release
	found := false
	for _, rel := range r.Releases {
		if rel.Channel != channel {
			continue
		}
		if !found || rel.ReleasedAt.After(best.ReleasedAt) {
			best = rel
			found = true
		}
	}
	return best, found
}

// PromotionPointer returns the bundle id currently pointed to by
// (scope, gate) in PromotionState, if any.
func (r *Repo) PromotionPointer(scope, gate string) (string, bool) {
	byGate, ok := r.PromotionState[scope]
	if !ok {
		return "", false
	}
	id, ok := byGate[gate]
	return id, ok
}

// SetPromotionPointer updates the (scope, gate) pointer to bundleID only if
// at is not earlier than the current pointer's promotion record time (§3 I5,
// §8 scenario 6: monotonic, stale replays are ignored for pointer purposes).
func (r *Repo) SetPromotionPointer(scope, gate, bundleID string, at time.Time, latestKnown time.Time) {
	if _, ok := r.PromotionState[scope]; !ok {
		r.PromotionState[scope] = map[string]string{}
	}
	if at.Before(latestKnown) {
		return
	}
	r.PromotionState[scope][gate] = bundleID
}
