package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// The methods in this file wrap the repo-management and pipeline JSON
// endpoints (spec.md §6) that sit alongside the raw object transfer surface
// in client.go: repos, members, lanes, gate graphs, publications, bundles,
// promotions, releases, and GC. Each is a thin encode/decode shim over
// Client's retrying do/doWithRetry, following the same idiom as Missing.

// Whoami calls GET /whoami.
func (c *Client) Whoami(ctx context.Context) (WhoamiResponse, error) {
	var out WhoamiResponse
	raw, err := c.doWithRetry(ctx, http.MethodGet, "/whoami", nil, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

type WhoamiResponse struct {
	UserID string `json:"user_id"`
	Handle string `json:"handle"`
	Admin  bool   `json:"admin"`
}

// Bootstrap calls POST /bootstrap to create the first admin account.
func Bootstrap(ctx context.Context, baseURL, handle, bootstrapToken string) (WhoamiResponse, string, error) {
	c := NewClient(baseURL, "", "")
	body, err := json.Marshal(map[string]string{"handle": handle, "token": bootstrapToken})
	if err != nil {
		return WhoamiResponse{}, "", fmt.Errorf("transfer: encode bootstrap request: %w", err)
	}
	raw, err := c.doWithRetry(ctx, http.MethodPost, "/bootstrap", body, nil)
	if err != nil {
		return WhoamiResponse{}, "", err
	}
	var resp struct {
		WhoamiResponse
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return WhoamiResponse{}, "", fmt.Errorf("transfer: decode bootstrap response: %w", err)
	}
	return resp.WhoamiResponse, resp.Token, nil
}

// RepoInfo mirrors repostate.Repo's JSON shape closely enough for CLI
// display purposes without importing the server-internal package.
type RepoInfo struct {
	ID         string   `json:"id"`
	Owner      string   `json:"owner"`
	Readers    []string `json:"readers"`
	Publishers []string `json:"publishers"`
}

// CreateRepo calls POST /repos.
func (c *Client) CreateRepo(ctx context.Context, id string) (RepoInfo, error) {
	var out RepoInfo
	body, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return out, fmt.Errorf("transfer: encode create-repo request: %w", err)
	}
	raw, err := c.doWithRetry(ctx, http.MethodPost, "/repos", body, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

// ListRepos calls GET /repos.
func (c *Client) ListRepos(ctx context.Context) ([]string, error) {
	raw, err := c.doWithRetry(ctx, http.MethodGet, "/repos", nil, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Repos []string `json:"repos"`
	}
	return out.Repos, json.Unmarshal(raw, &out)
}

// GetRepo calls GET /repos/:r.
func (c *Client) GetRepo(ctx context.Context) (RepoInfo, error) {
	var out RepoInfo
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath(""), nil, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s%s", c.Repo, suffix)
}

// MembersResponse is GET/POST /repos/:r/members's shape.
type MembersResponse struct {
	Owner      string   `json:"owner"`
	Readers    []string `json:"readers"`
	Publishers []string `json:"publishers"`
}

func (c *Client) ListMembers(ctx context.Context) (MembersResponse, error) {
	var out MembersResponse
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath("/members"), nil, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) AddMember(ctx context.Context, handle, role string) error {
	body, err := json.Marshal(map[string]string{"handle": handle, "role": role})
	if err != nil {
		return fmt.Errorf("transfer: encode add-member request: %w", err)
	}
	_, err = c.doWithRetry(ctx, http.MethodPost, c.repoPath("/members"), body, nil)
	return err
}

func (c *Client) RemoveMember(ctx context.Context, handle string) error {
	_, err := c.doWithRetry(ctx, http.MethodDelete, c.repoPath("/members/"+url.PathEscape(handle)), nil, nil)
	return err
}

// LaneInfo mirrors repostate.Lane's JSON shape for CLI display.
type LaneInfo struct {
	ID      string                 `json:"id"`
	Members []string               `json:"members"`
	Heads   map[string]objmodel.ID `json:"heads"`
}

func (c *Client) ListLanes(ctx context.Context) (map[string]LaneInfo, error) {
	var out map[string]LaneInfo
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath("/lanes"), nil, nil)
	if err != nil {
		return nil, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) ListLaneMembers(ctx context.Context, lane string) ([]string, error) {
	var out []string
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath("/lanes/"+url.PathEscape(lane)+"/members"), nil, nil)
	if err != nil {
		return nil, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) AddLaneMember(ctx context.Context, lane, handle string) error {
	body, err := json.Marshal(map[string]string{"handle": handle})
	if err != nil {
		return fmt.Errorf("transfer: encode add-lane-member request: %w", err)
	}
	_, err = c.doWithRetry(ctx, http.MethodPost, c.repoPath("/lanes/"+url.PathEscape(lane)+"/members"), body, nil)
	return err
}

func (c *Client) RemoveLaneMember(ctx context.Context, lane, handle string) error {
	path := c.repoPath("/lanes/" + url.PathEscape(lane) + "/members/" + url.PathEscape(handle))
	_, err := c.doWithRetry(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func (c *Client) UpdateLaneHead(ctx context.Context, lane string, snap objmodel.ID) error {
	body, err := json.Marshal(map[string]objmodel.ID{"snap": snap})
	if err != nil {
		return fmt.Errorf("transfer: encode lane-head request: %w", err)
	}
	_, err = c.doWithRetry(ctx, http.MethodPost, c.repoPath("/lanes/"+url.PathEscape(lane)+"/heads/me"), body, nil)
	return err
}

func (c *Client) GetLaneHead(ctx context.Context, lane, user string) (objmodel.ID, error) {
	path := c.repoPath("/lanes/" + url.PathEscape(lane) + "/heads/" + url.PathEscape(user))
	raw, err := c.doWithRetry(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Snap objmodel.ID `json:"snap"`
	}
	return out.Snap, json.Unmarshal(raw, &out)
}

// GateGraph mirrors repostate.GateGraph's wire shape closely enough for the
// CLI to round-trip a JSON file without importing the server-internal type.
type GateGraph struct {
	Gates map[string]Gate `json:"gates"`
}

type Gate struct {
	Upstream                     []string `json:"upstream"`
	RequiredApprovals            int      `json:"required_approvals"`
	AllowMetadataOnlyPublications bool    `json:"allow_metadata_only_publications"`
	AllowReleases                bool     `json:"allow_releases"`
}

func (c *Client) GetGateGraph(ctx context.Context) (GateGraph, error) {
	var out GateGraph
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath("/gate-graph"), nil, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) PutGateGraph(ctx context.Context, graph GateGraph) (GateGraph, error) {
	var out GateGraph
	body, err := json.Marshal(graph)
	if err != nil {
		return out, fmt.Errorf("transfer: encode gate graph: %w", err)
	}
	raw, err := c.doWithRetry(ctx, http.MethodPut, c.repoPath("/gate-graph"), body, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

// Publication mirrors repostate.Publication's wire shape.
type Publication struct {
	ID           string      `json:"id"`
	Scope        string      `json:"scope"`
	Gate         string      `json:"gate"`
	Snap         objmodel.ID `json:"snap"`
	Publisher    string      `json:"publisher"`
	MetadataOnly bool        `json:"metadata_only"`
}

func (c *Client) CreatePublication(ctx context.Context, scope, gate string, snap objmodel.ID, metadataOnly bool) (Publication, error) {
	var out Publication
	body, err := json.Marshal(map[string]any{
		"scope": scope, "gate": gate, "snap": snap, "metadata_only": metadataOnly,
	})
	if err != nil {
		return out, fmt.Errorf("transfer: encode publication request: %w", err)
	}
	raw, err := c.doWithRetry(ctx, http.MethodPost, c.repoPath("/publications"), body, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) ListPublications(ctx context.Context) ([]Publication, error) {
	var out []Publication
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath("/publications"), nil, nil)
	if err != nil {
		return nil, err
	}
	return out, json.Unmarshal(raw, &out)
}

// Bundle mirrors repostate.Bundle's wire shape.
type Bundle struct {
	ID                string      `json:"id"`
	Scope             string      `json:"scope"`
	Gate              string      `json:"gate"`
	InputPublications []string    `json:"input_publications"`
	RootManifest      objmodel.ID `json:"root_manifest"`
	Approvals         []string    `json:"approvals"`
	Promotable        bool        `json:"promotable"`
	Reasons           []string    `json:"reasons"`
}

func (c *Client) CreateBundle(ctx context.Context, scope, gate string, inputs []string) (Bundle, error) {
	var out Bundle
	body, err := json.Marshal(map[string]any{
		"scope": scope, "gate": gate, "input_publications": inputs,
	})
	if err != nil {
		return out, fmt.Errorf("transfer: encode bundle request: %w", err)
	}
	raw, err := c.doWithRetry(ctx, http.MethodPost, c.repoPath("/bundles"), body, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) ListBundles(ctx context.Context) ([]Bundle, error) {
	var out []Bundle
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath("/bundles"), nil, nil)
	if err != nil {
		return nil, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) GetBundle(ctx context.Context, id string) (Bundle, error) {
	var out Bundle
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath("/bundles/"+url.PathEscape(id)), nil, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) ApproveBundle(ctx context.Context, id string) (Bundle, error) {
	var out Bundle
	raw, err := c.doWithRetry(ctx, http.MethodPost, c.repoPath("/bundles/"+url.PathEscape(id)+"/approve"), nil, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) PinBundle(ctx context.Context, id string, unpin bool) error {
	suffix := "/pin"
	if unpin {
		suffix = "/unpin"
	}
	_, err := c.doWithRetry(ctx, http.MethodPost, c.repoPath("/bundles/"+url.PathEscape(id)+suffix), nil, nil)
	return err
}

func (c *Client) ListPins(ctx context.Context) ([]string, error) {
	var out []string
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath("/pins"), nil, nil)
	if err != nil {
		return nil, err
	}
	return out, json.Unmarshal(raw, &out)
}

// Promotion mirrors repostate.Promotion's wire shape.
type Promotion struct {
	ID         string `json:"id"`
	BundleID   string `json:"bundle_id"`
	Scope      string `json:"scope"`
	FromGate   string `json:"from_gate"`
	ToGate     string `json:"to_gate"`
	PromotedBy string `json:"promoted_by"`
}

func (c *Client) CreatePromotion(ctx context.Context, bundleID, toGate string) (Promotion, error) {
	var out Promotion
	body, err := json.Marshal(map[string]string{"bundle_id": bundleID, "to_gate": toGate})
	if err != nil {
		return out, fmt.Errorf("transfer: encode promotion request: %w", err)
	}
	raw, err := c.doWithRetry(ctx, http.MethodPost, c.repoPath("/promotions"), body, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) ListPromotions(ctx context.Context, scope, toGate string) ([]Promotion, error) {
	q := url.Values{}
	if scope != "" {
		q.Set("scope", scope)
	}
	if toGate != "" {
		q.Set("to_gate", toGate)
	}
	path := c.repoPath("/promotions")
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out []Promotion
	raw, err := c.doWithRetry(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return out, json.Unmarshal(raw, &out)
}

// Release mirrors repostate.Release's wire shape.
type Release struct {
	ID         string  `json:"id"`
	Channel    string  `json:"channel"`
	BundleID   string  `json:"bundle_id"`
	Scope      string  `json:"scope"`
	Gate       string  `json:"gate"`
	ReleasedBy string  `json:"released_by"`
	Notes      *string `json:"notes,omitempty"`
}

func (c *Client) CreateRelease(ctx context.Context, channel, bundleID string, notes *string) (Release, error) {
	var out Release
	body, err := json.Marshal(map[string]any{"channel": channel, "bundle_id": bundleID, "notes": notes})
	if err != nil {
		return out, fmt.Errorf("transfer: encode release request: %w", err)
	}
	raw, err := c.doWithRetry(ctx, http.MethodPost, c.repoPath("/releases"), body, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) ListReleases(ctx context.Context) ([]Release, error) {
	var out []Release
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath("/releases"), nil, nil)
	if err != nil {
		return nil, err
	}
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) CurrentRelease(ctx context.Context, channel string) (Release, error) {
	var out Release
	raw, err := c.doWithRetry(ctx, http.MethodGet, c.repoPath("/releases/"+url.PathEscape(channel)), nil, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

// GCReport mirrors gc.ServerReport's wire shape closely enough for display.
type GCReport struct {
	DryRun  bool `json:"dry_run"`
	Deleted struct {
		Blobs     []objmodel.ID `json:"blobs"`
		Manifests []objmodel.ID `json:"manifests"`
		Recipes   []objmodel.ID `json:"recipes"`
	} `json:"deleted"`
}

func (c *Client) RunGC(ctx context.Context, dryRun, pruneMetadata bool, pruneReleasesKeepLast int) (GCReport, error) {
	q := url.Values{}
	q.Set("dry_run", fmt.Sprintf("%t", dryRun))
	q.Set("prune_metadata", fmt.Sprintf("%t", pruneMetadata))
	if pruneReleasesKeepLast > 0 {
		q.Set("prune_releases_keep_last", fmt.Sprintf("%d", pruneReleasesKeepLast))
	}
	var out GCReport
	raw, err := c.doWithRetry(ctx, http.MethodPost, c.repoPath("/gc?"+q.Encode()), nil, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}
