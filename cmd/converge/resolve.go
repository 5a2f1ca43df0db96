package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/inflatable-cookie/converge/internal/resolver"
)

// runResolve dispatches `converge resolve init|pick|clear|show|validate|apply`,
// which build and apply a per-path Superposition decision set against one
// bundle's root manifest, persisted locally keyed by bundle id until
// `resolve clear` removes it.
func runResolve(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: converge resolve init|pick|clear|show|validate|apply [...]")
	}
	switch args[0] {
	case "init":
		return runResolveInit(args[1:])
	case "pick":
		return runResolvePick(args[1:])
	case "clear":
		return runResolveClear(args[1:])
	case "show":
		return runResolveShow(args[1:])
	case "validate":
		return runResolveValidate(args[1:])
	case "apply":
		return runResolveApply(args[1:])
	default:
		return fmt.Errorf("unknown resolve subcommand %q", args[0])
	}
}

func loadResolution(ws *workspace, bundleID string) (resolver.Resolution, bool, error) {
	raw, ok, err := ws.KV.GetResolution(bundleID)
	if err != nil || !ok {
		return resolver.Resolution{}, ok, err
	}
	var res resolver.Resolution
	if err := json.Unmarshal(raw, &res); err != nil {
		return resolver.Resolution{}, false, fmt.Errorf("decode resolution for %s: %w", bundleID, err)
	}
	return res, true, nil
}

func saveResolution(ws *workspace, res resolver.Resolution) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}
	return ws.KV.PutResolution(res.BundleID, raw)
}

func runResolveInit(args []string) error {
	fs := flag.NewFlagSet("resolve init", flag.ExitOnError)
	bundleID := fs.String("bundle-id", "", "bundle id")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if *bundleID == "" {
		return fmt.Errorf("usage: converge resolve init --bundle-id ID")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cliContext()
	b, err := c.GetBundle(ctx, *bundleID)
	if err != nil {
		return err
	}
	if err := pullManifestTree(ctx, ws, c, b.RootManifest); err != nil {
		return err
	}

	res := resolver.Resolution{
		Version: 2, BundleID: *bundleID, RootManifest: b.RootManifest,
		CreatedAt: time.Now().UTC(), Decisions: map[string]resolver.Decision{},
	}
	if err := saveResolution(ws, res); err != nil {
		return err
	}
	if *asJSON {
		return printJSON(res)
	}
	scan, err := objmodel.SuperpositionScan(ws.Objects, b.RootManifest)
	if err != nil {
		return err
	}
	fmt.Printf("initialized resolution for bundle %s: %d superposition(s) to resolve\n", *bundleID, len(scan))
	for _, sp := range scan {
		fmt.Printf("  %s (%d variants)\n", sp.Path, len(sp.Variants))
	}
	return nil
}

func runResolvePick(args []string) error {
	fs := flag.NewFlagSet("resolve pick", flag.ExitOnError)
	bundleID := fs.String("bundle-id", "", "bundle id")
	path := fs.String("path", "", "superposition path")
	key := fs.String("key", "", "structural variant key to pick")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if *bundleID == "" || *path == "" || *key == "" {
		return fmt.Errorf("usage: converge resolve pick --bundle-id ID --path PATH --key KEY")
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	res, ok, err := loadResolution(ws, *bundleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no resolution in progress for bundle %s (run `converge resolve init`)", *bundleID)
	}
	res.Decisions[*path] = resolver.Decision{Kind: resolver.DecisionKey, Key: *key}
	if err := saveResolution(ws, res); err != nil {
		return err
	}
	if *asJSON {
		return printJSON(res)
	}
	fmt.Printf("%s -> %s\n", *path, *key)
	return nil
}

func runResolveClear(args []string) error {
	fs := flag.NewFlagSet("resolve clear", flag.ExitOnError)
	bundleID := fs.String("bundle-id", "", "bundle id")
	path := fs.String("path", "", "superposition path to clear (all decisions cleared if empty)")
	fs.Parse(args)
	if *bundleID == "" {
		return fmt.Errorf("usage: converge resolve clear --bundle-id ID [--path PATH]")
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	if *path == "" {
		if err := ws.KV.DeleteResolution(*bundleID); err != nil {
			return err
		}
		fmt.Printf("cleared resolution for bundle %s\n", *bundleID)
		return nil
	}

	res, ok, err := loadResolution(ws, *bundleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no resolution in progress for bundle %s", *bundleID)
	}
	delete(res.Decisions, *path)
	if err := saveResolution(ws, res); err != nil {
		return err
	}
	fmt.Printf("cleared decision at %s\n", *path)
	return nil
}

func runResolveShow(args []string) error {
	fs := flag.NewFlagSet("resolve show", flag.ExitOnError)
	bundleID := fs.String("bundle-id", "", "bundle id")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if *bundleID == "" {
		return fmt.Errorf("usage: converge resolve show --bundle-id ID")
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	res, ok, err := loadResolution(ws, *bundleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no resolution in progress for bundle %s", *bundleID)
	}
	if *asJSON {
		return printJSON(res)
	}
	fmt.Printf("bundle: %s\nroot:   %s\n", res.BundleID, res.RootManifest)
	for path, d := range res.Decisions {
		switch d.Kind {
		case resolver.DecisionKey:
			fmt.Printf("  %s -> key %s\n", path, d.Key)
		case resolver.DecisionIndex:
			fmt.Printf("  %s -> index %d\n", path, d.Index)
		}
	}
	return nil
}

func runResolveValidate(args []string) error {
	fs := flag.NewFlagSet("resolve validate", flag.ExitOnError)
	bundleID := fs.String("bundle-id", "", "bundle id")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if *bundleID == "" {
		return fmt.Errorf("usage: converge resolve validate --bundle-id ID")
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	res, ok, err := loadResolution(ws, *bundleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no resolution in progress for bundle %s", *bundleID)
	}
	upgraded, err := resolver.UpgradeLegacyDecisions(ws.Objects, res)
	if err != nil {
		return err
	}
	if err := saveResolution(ws, upgraded); err != nil {
		return err
	}
	report, err := resolver.Validate(ws.Objects, upgraded.RootManifest, upgraded.Decisions)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(report)
	}
	if report.OK {
		fmt.Println("ok")
		return nil
	}
	for _, p := range report.Missing {
		fmt.Printf("missing decision: %s\n", p)
	}
	for _, ik := range report.InvalidKeys {
		fmt.Printf("invalid key at %s: %s\n", ik.Path, ik.Wanted)
	}
	for _, oor := range report.OutOfRange {
		fmt.Printf("index out of range at %s: %d (%d variants)\n", oor.Path, oor.Index, oor.Variants)
	}
	for _, p := range report.Extraneous {
		fmt.Printf("extraneous decision: %s\n", p)
	}
	return fmt.Errorf("resolution incomplete or invalid for bundle %s", *bundleID)
}

func runResolveApply(args []string) error {
	fs := flag.NewFlagSet("resolve apply", flag.ExitOnError)
	bundleID := fs.String("bundle-id", "", "bundle id")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if *bundleID == "" {
		return fmt.Errorf("usage: converge resolve apply --bundle-id ID")
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	res, ok, err := loadResolution(ws, *bundleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no resolution in progress for bundle %s", *bundleID)
	}
	report, err := resolver.Validate(ws.Objects, res.RootManifest, res.Decisions)
	if err != nil {
		return err
	}
	if !report.OK {
		return fmt.Errorf("resolution incomplete or invalid for bundle %s (run `converge resolve validate`)", *bundleID)
	}
	resolved, err := resolver.Apply(ws.Objects, res.RootManifest, res.Decisions)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(map[string]objmodel.ID{"resolved_manifest": resolved})
	}
	fmt.Printf("resolved manifest: %s\n", resolved)
	return nil
}
