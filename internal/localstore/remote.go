package localstore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RemoteConfig is the client-local record of which server a workspace talks
// to and how, persisted so repeated CLI invocations don't require
// re-authentication. Grounded on the Rust original's RemoteConfig /
// login_bootstrap_flow, which separates the (url, repo, scope, gate)
// descriptor from the bearer token it carries.
type RemoteConfig struct {
	BaseURL string `json:"base_url"`
	RepoID  string `json:"repo_id"`
	Scope   string `json:"scope"`
	Gate    string `json:"gate"`
	Handle  string `json:"handle"`
}

type remoteDocument struct {
	RemoteConfig
	BearerToken string `json:"bearer_token"`
}

// SetRemote persists the remote descriptor together with its bearer token as
// a single local-only document. The token never appears in the workspace's
// checked-in config (see internal/config/workspace.go); it lives only in the
// local store index.
func (k *KV) SetRemote(cfg RemoteConfig, bearerToken string) error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return fmt.Errorf("remote base url required")
	}
	if strings.TrimSpace(bearerToken) == "" {
		return fmt.Errorf("remote bearer token required")
	}
	doc := remoteDocument{RemoteConfig: cfg, BearerToken: bearerToken}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode remote document: %w", err)
	}
	return k.PutRemote(raw)
}

// Remote loads the persisted remote descriptor and its bearer token, if any
// has been set via SetRemote.
func (k *KV) Remote() (RemoteConfig, string, bool, error) {
	raw, ok, err := k.GetRemote()
	if err != nil || !ok {
		return RemoteConfig{}, "", ok, err
	}
	var doc remoteDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return RemoteConfig{}, "", false, fmt.Errorf("decode remote document: %w", err)
	}
	return doc.RemoteConfig, doc.BearerToken, true, nil
}

// ClearRemote removes the persisted remote descriptor, e.g. on logout.
func (k *KV) ClearRemote() error {
	return k.DeleteRemote()
}
