package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
)

// repeatableFlag collects repeated `--publication ID` occurrences into a
// slice, the same multi-flag idiom the teacher's flag-based subcommands use
// for repeatable arguments.
type repeatableFlag []string

func (r *repeatableFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatableFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func runBundle(args []string) error {
	fs := flag.NewFlagSet("bundle", flag.ExitOnError)
	scope := fs.String("scope", "", "scope")
	gate := fs.String("gate", "", "gate")
	var pubs repeatableFlag
	fs.Var(&pubs, "publication", "publication id to include (repeatable)")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if *scope == "" || *gate == "" || len(pubs) == 0 {
		return fmt.Errorf("usage: converge bundle --scope S --gate G --publication ID [--publication ID ...]")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	b, err := c.CreateBundle(context.Background(), *scope, *gate, pubs)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(b)
	}
	fmt.Printf("bundle %s (%s/%s) promotable=%t\n", b.ID, b.Scope, b.Gate, b.Promotable)
	for _, r := range b.Reasons {
		fmt.Printf("  - %s\n", r)
	}
	return nil
}

func runPromote(args []string) error {
	fs := flag.NewFlagSet("promote", flag.ExitOnError)
	bundleID := fs.String("bundle-id", "", "bundle id")
	toGate := fs.String("to-gate", "", "destination gate")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if *bundleID == "" || *toGate == "" {
		return fmt.Errorf("usage: converge promote --bundle-id ID --to-gate GATE")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	p, err := c.CreatePromotion(context.Background(), *bundleID, *toGate)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(p)
	}
	fmt.Printf("promoted %s: %s -> %s (promotion %s)\n", p.BundleID, p.FromGate, p.ToGate, p.ID)
	return nil
}

func runApprove(args []string) error {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	bundleID := fs.String("bundle-id", "", "bundle id")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if *bundleID == "" {
		return fmt.Errorf("usage: converge approve --bundle-id ID")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	b, err := c.ApproveBundle(context.Background(), *bundleID)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(b)
	}
	fmt.Printf("bundle %s approvals=%v promotable=%t\n", b.ID, b.Approvals, b.Promotable)
	return nil
}

func runPin(args []string) error {
	fs := flag.NewFlagSet("pin", flag.ExitOnError)
	bundleID := fs.String("bundle-id", "", "bundle id")
	unpin := fs.Bool("unpin", false, "unpin instead of pin")
	fs.Parse(args)
	if *bundleID == "" {
		return fmt.Errorf("usage: converge pin --bundle-id ID [--unpin]")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := c.PinBundle(context.Background(), *bundleID, *unpin); err != nil {
		return err
	}
	if *unpin {
		fmt.Printf("unpinned %s\n", *bundleID)
	} else {
		fmt.Printf("pinned %s\n", *bundleID)
	}
	return nil
}

func runPins(args []string) error {
	fs := flag.NewFlagSet("pins", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	pins, err := c.ListPins(context.Background())
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(pins)
	}
	for _, id := range pins {
		fmt.Println(id)
	}
	return nil
}

func runRelease(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: converge release create|list|show [...]")
	}
	switch args[0] {
	case "create":
		return runReleaseCreate(args[1:])
	case "list":
		return runReleaseList(args[1:])
	case "show":
		return runReleaseShow(args[1:])
	default:
		return fmt.Errorf("unknown release subcommand %q", args[0])
	}
}

func runReleaseCreate(args []string) error {
	fs := flag.NewFlagSet("release create", flag.ExitOnError)
	channel := fs.String("channel", "", "release channel")
	bundleID := fs.String("bundle-id", "", "bundle id")
	notes := fs.String("notes", "", "release notes")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if *channel == "" || *bundleID == "" {
		return fmt.Errorf("usage: converge release create --channel C --bundle-id ID [--notes TEXT]")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	var notesPtr *string
	if *notes != "" {
		notesPtr = notes
	}
	r, err := c.CreateRelease(context.Background(), *channel, *bundleID, notesPtr)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(r)
	}
	fmt.Printf("release %s on %s (bundle %s)\n", r.ID, r.Channel, r.BundleID)
	return nil
}

func runReleaseList(args []string) error {
	fs := flag.NewFlagSet("release list", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	releases, err := c.ListReleases(context.Background())
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(releases)
	}
	for _, r := range releases {
		fmt.Printf("%s  %s  bundle=%s\n", r.ID, r.Channel, r.BundleID)
	}
	return nil
}

func runReleaseShow(args []string) error {
	fs := flag.NewFlagSet("release show", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: converge release show CHANNEL")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	r, err := c.CurrentRelease(context.Background(), fs.Arg(0))
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(r)
	}
	msg := ""
	if r.Notes != nil {
		msg = *r.Notes
	}
	fmt.Printf("channel: %s\nbundle:  %s\nby:      %s\nnotes:   %s\n", r.Channel, r.BundleID, r.ReleasedBy, msg)
	return nil
}
