// Command converge is the workspace-side CLI: it scans a working directory
// into the content-addressed object model, talks to a convergesrv server
// over the lazy transfer protocol, and drives the publication -> bundle ->
// promotion -> release pipeline and superposition resolution from the
// command line (spec.md §1, §4). It mirrors the original implementation's
// cli_exec command set, minus its terminal UI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/inflatable-cookie/converge/internal/converrors"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = runInit(args)
	case "snap":
		err = runSnap(args)
	case "snaps":
		err = runSnaps(args)
	case "show":
		err = runShow(args)
	case "restore":
		err = runRestore(args)
	case "diff":
		err = runDiff(args)
	case "mv":
		err = runMv(args)
	case "status":
		err = runStatus(args)

	case "remote":
		err = runRemote(args)
	case "login":
		err = runLogin(args)
	case "logout":
		err = runLogout(args)
	case "whoami":
		err = runWhoami(args)
	case "gates":
		err = runGates(args)

	case "publish":
		err = runPublish(args)
	case "sync":
		err = runSync(args)
	case "fetch":
		err = runFetch(args)

	case "members":
		err = runMembers(args)
	case "lane":
		err = runLane(args)
	case "lanes":
		err = runLanes(args)

	case "bundle":
		err = runBundle(args)
	case "promote":
		err = runPromote(args)
	case "approve":
		err = runApprove(args)
	case "pin":
		err = runPin(args)
	case "pins":
		err = runPins(args)
	case "release":
		err = runRelease(args)

	case "resolve":
		err = runResolve(args)

	case "gc":
		err = runGC(args)

	case "help", "-h", "--help":
		usage()
		return

	default:
		fmt.Fprintf(os.Stderr, "converge: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "converge: %v\n", err)
		if kind := converrors.KindOf(err); kind != "" {
			os.Exit(statusExitCode(kind))
		}
		os.Exit(1)
	}
}

// statusExitCode maps a converrors.Kind to a process exit code, separating
// auth/permission failures (common in scripted use) from everything else.
func statusExitCode(kind converrors.Kind) int {
	switch kind {
	case converrors.Unauthorized:
		return 77
	case converrors.Forbidden:
		return 77
	case converrors.NotFound:
		return 2
	default:
		return 1
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `converge - collaborative version control over a content-addressed object store

Usage:
  converge init [--force] [--path DIR]
  converge snap [-m MESSAGE] [--json]
  converge snaps [--json]
  converge show SNAP_ID [--json]
  converge restore SNAP_ID [--force]
  converge diff [--from SNAP_ID] [--to SNAP_ID] [--json]
  converge mv FROM TO
  converge status [--json] [--limit N]

  converge login --url URL --token TOKEN --repo REPO [--scope SCOPE] [--gate GATE]
  converge logout
  converge whoami [--json]
  converge remote show|set|create-repo|purge [...]
  converge gates show|set|init [...]

  converge publish [--snap-id ID] [--scope S] [--gate G] [--metadata-only] [--json]
  converge sync [--snap-id ID] [--lane LANE] [--json]
  converge fetch [--snap-id ID | --bundle-id ID | --release CHANNEL] [--restore] [--into DIR] [--json]

  converge members list|add|remove [...]
  converge lane members LANE list|add|remove [...]
  converge lanes [--json]

  converge bundle --scope S --gate G --publication ID [--publication ID ...] [--json]
  converge promote --bundle-id ID --to-gate GATE [--json]
  converge approve --bundle-id ID [--json]
  converge pin --bundle-id ID [--unpin]
  converge pins [--json]
  converge release create|list|show [...]

  converge resolve init|pick|clear|show|validate|apply [...]

  converge gc [--dry-run] [--prune-snaps] [--keep-last N] [--keep-within-days N]
`)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
