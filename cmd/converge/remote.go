package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/inflatable-cookie/converge/internal/localstore"
	"github.com/inflatable-cookie/converge/internal/transfer"
)

// requireClient opens the workspace, loads its remote config, and builds a
// transfer.Client against it. Most commands that talk to a server go through
// this.
func requireClient() (*workspace, *transfer.Client, localstore.RemoteConfig, error) {
	ws, err := openWorkspace()
	if err != nil {
		return nil, nil, localstore.RemoteConfig{}, err
	}
	cfg, token, ok, err := ws.KV.Remote()
	if err != nil {
		ws.Close()
		return nil, nil, localstore.RemoteConfig{}, err
	}
	if !ok {
		ws.Close()
		return nil, nil, localstore.RemoteConfig{}, fmt.Errorf("no remote configured (run `converge login --url ... --token ... --repo ...`)")
	}
	return ws, transfer.NewClient(cfg.BaseURL, cfg.RepoID, token), cfg, nil
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	url := fs.String("url", "", "server base URL")
	token := fs.String("token", "", "bearer token")
	repo := fs.String("repo", "", "repo id")
	scope := fs.String("scope", "main", "default scope")
	gate := fs.String("gate", "dev-intake", "default gate")
	fs.Parse(args)
	if *url == "" || *token == "" || *repo == "" {
		return fmt.Errorf("--url, --token, and --repo are required")
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	c := transfer.NewClient(*url, *repo, *token)
	who, err := c.Whoami(context.Background())
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	cfg := localstore.RemoteConfig{BaseURL: *url, RepoID: *repo, Scope: *scope, Gate: *gate, Handle: who.Handle}
	if err := ws.KV.SetRemote(cfg, *token); err != nil {
		return err
	}
	fmt.Printf("logged in to %s as %s (repo %s)\n", *url, who.Handle, *repo)
	return nil
}

func runLogout(args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()
	return ws.KV.ClearRemote()
}

func runWhoami(args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, cfg, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	who, err := c.Whoami(context.Background())
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(who)
	}
	fmt.Printf("%s (admin=%t) @ %s/%s\n", who.Handle, who.Admin, cfg.BaseURL, cfg.RepoID)
	return nil
}

func runRemote(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: converge remote show|set|create-repo|purge")
	}
	switch args[0] {
	case "show":
		return runRemoteShow(args[1:])
	case "set":
		return runLogin(args[1:]) // identical shape: url/token/repo/scope/gate
	case "create-repo":
		return runRemoteCreateRepo(args[1:])
	case "purge":
		return runRemotePurge(args[1:])
	default:
		return fmt.Errorf("unknown remote subcommand %q", args[0])
	}
}

func runRemoteShow(args []string) error {
	fs := flag.NewFlagSet("remote show", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()
	cfg, _, ok, err := ws.KV.Remote()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no remote configured")
	}
	if *asJSON {
		return printJSON(cfg)
	}
	fmt.Printf("url:   %s\nrepo:  %s\nscope: %s\ngate:  %s\nas:    %s\n", cfg.BaseURL, cfg.RepoID, cfg.Scope, cfg.Gate, cfg.Handle)
	return nil
}

func runRemoteCreateRepo(args []string) error {
	fs := flag.NewFlagSet("remote create-repo", flag.ExitOnError)
	repo := fs.String("repo", "", "repo id (defaults to configured remote repo)")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, cfg, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	id := *repo
	if id == "" {
		id = cfg.RepoID
	}
	info, err := c.CreateRepo(context.Background(), id)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(info)
	}
	fmt.Printf("created repo %s (owner %s)\n", info.ID, info.Owner)
	return nil
}

func runRemotePurge(args []string) error {
	fs := flag.NewFlagSet("remote purge", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", true, "dry run (no deletions)")
	pruneMetadata := fs.Bool("prune-metadata", true, "also prune stale repo metadata")
	pruneReleasesKeepLast := fs.Int("prune-releases-keep-last", 0, "keep only the latest N releases per channel (0 disables)")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	report, err := c.RunGC(context.Background(), *dryRun, *pruneMetadata, *pruneReleasesKeepLast)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(report)
	}
	fmt.Printf("dry_run=%t deleted: %d blobs, %d manifests, %d recipes\n",
		report.DryRun, len(report.Deleted.Blobs), len(report.Deleted.Manifests), len(report.Deleted.Recipes))
	return nil
}

func runGates(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: converge gates show|set|init")
	}
	switch args[0] {
	case "show":
		return runGatesShow(args[1:])
	case "set":
		return runGatesSet(args[1:])
	case "init":
		return runGatesInit(args[1:])
	default:
		return fmt.Errorf("unknown gates subcommand %q", args[0])
	}
}

func runGatesShow(args []string) error {
	fs := flag.NewFlagSet("gates show", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	graph, err := c.GetGateGraph(context.Background())
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(graph)
	}
	for id, g := range graph.Gates {
		fmt.Printf("%s: upstream=%v required_approvals=%d metadata_only=%t releases=%t\n",
			id, g.Upstream, g.RequiredApprovals, g.AllowMetadataOnlyPublications, g.AllowReleases)
	}
	return nil
}

func runGatesSet(args []string) error {
	fs := flag.NewFlagSet("gates set", flag.ExitOnError)
	file := fs.String("file", "", "path to a gate graph JSON file")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read %s: %w", *file, err)
	}
	var graph transfer.GateGraph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return fmt.Errorf("decode %s: %w", *file, err)
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	out, err := c.PutGateGraph(context.Background(), graph)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(out)
	}
	fmt.Println("gate graph updated")
	return nil
}

// starterGateGraph is the default two-gate graph printed/applied by `gates
// init`: an intake gate feeding a release-eligible stable gate, matching the
// defaults baked into config.defaultWorkspace (scope "main", gate
// "dev-intake").
func starterGateGraph() transfer.GateGraph {
	return transfer.GateGraph{
		Gates: map[string]transfer.Gate{
			"dev-intake": {
				AllowMetadataOnlyPublications: true,
			},
			"stable": {
				Upstream:           []string{"dev-intake"},
				RequiredApprovals:  1,
				AllowReleases:      true,
			},
		},
	}
}

func runGatesInit(args []string) error {
	fs := flag.NewFlagSet("gates init", flag.ExitOnError)
	apply := fs.Bool("apply", false, "apply to the remote repo (admin-only)")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	graph := starterGateGraph()
	if !*apply {
		if *asJSON {
			return printJSON(graph)
		}
		raw, _ := json.MarshalIndent(graph, "", "  ")
		fmt.Println(string(raw))
		return nil
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	out, err := c.PutGateGraph(context.Background(), graph)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(out)
	}
	fmt.Println("starter gate graph applied")
	return nil
}
