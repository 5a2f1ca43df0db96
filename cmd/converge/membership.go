package main

import (
	"context"
	"flag"
	"fmt"
)

func runMembers(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: converge members list|add|remove [...]")
	}
	switch args[0] {
	case "list":
		return runMembersList(args[1:])
	case "add":
		return runMembersAdd(args[1:])
	case "remove":
		return runMembersRemove(args[1:])
	default:
		return fmt.Errorf("unknown members subcommand %q", args[0])
	}
}

func runMembersList(args []string) error {
	fs := flag.NewFlagSet("members list", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	m, err := c.ListMembers(context.Background())
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(m)
	}
	fmt.Printf("owner: %s\n", m.Owner)
	for _, h := range m.Readers {
		fmt.Printf("reader:    %s\n", h)
	}
	for _, h := range m.Publishers {
		fmt.Printf("publisher: %s\n", h)
	}
	return nil
}

func runMembersAdd(args []string) error {
	fs := flag.NewFlagSet("members add", flag.ExitOnError)
	role := fs.String("role", "reader", "role to grant: reader or publisher")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: converge members add HANDLE --role reader|publisher")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := c.AddMember(context.Background(), fs.Arg(0), *role); err != nil {
		return err
	}
	fmt.Printf("added %s as %s\n", fs.Arg(0), *role)
	return nil
}

func runMembersRemove(args []string) error {
	fs := flag.NewFlagSet("members remove", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: converge members remove HANDLE")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := c.RemoveMember(context.Background(), fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", fs.Arg(0))
	return nil
}

// runLane dispatches `converge lane members LANE list|add|remove [...]`.
func runLane(args []string) error {
	if len(args) < 1 || args[0] != "members" {
		return fmt.Errorf("usage: converge lane members LANE list|add|remove [...]")
	}
	args = args[1:]
	if len(args) < 2 {
		return fmt.Errorf("usage: converge lane members LANE list|add|remove [...]")
	}
	lane := args[0]
	switch args[1] {
	case "list":
		return runLaneMembersList(lane, args[2:])
	case "add":
		return runLaneMembersAdd(lane, args[2:])
	case "remove":
		return runLaneMembersRemove(lane, args[2:])
	default:
		return fmt.Errorf("unknown lane members subcommand %q", args[1])
	}
}

func runLaneMembersList(lane string, args []string) error {
	fs := flag.NewFlagSet("lane members list", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	members, err := c.ListLaneMembers(context.Background(), lane)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(members)
	}
	for _, h := range members {
		fmt.Println(h)
	}
	return nil
}

func runLaneMembersAdd(lane string, args []string) error {
	fs := flag.NewFlagSet("lane members add", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: converge lane members LANE add HANDLE")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := c.AddLaneMember(context.Background(), lane, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("added %s to lane %s\n", fs.Arg(0), lane)
	return nil
}

func runLaneMembersRemove(lane string, args []string) error {
	fs := flag.NewFlagSet("lane members remove", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: converge lane members LANE remove HANDLE")
	}

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := c.RemoveLaneMember(context.Background(), lane, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("removed %s from lane %s\n", fs.Arg(0), lane)
	return nil
}

func runLanes(args []string) error {
	fs := flag.NewFlagSet("lanes", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	lanes, err := c.ListLanes(context.Background())
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(lanes)
	}
	for id, lane := range lanes {
		fmt.Printf("%s: members=%v heads=%d\n", id, lane.Members, len(lane.Heads))
	}
	return nil
}
