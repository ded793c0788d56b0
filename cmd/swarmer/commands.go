package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/swarmer/snapshot"
)

var listCommand = &cli.Command{
	Name:   "list",
	Usage:  "list saved agents",
	Action: runList,
}

var inspectCommand = &cli.Command{
	Name:      "inspect",
	Usage:     "show the modules, tools and live state of a saved agent",
	ArgsUsage: "<agent-id>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "print the stored snapshot document",
		},
	},
	Action: runInspect,
}

var removeCommand = &cli.Command{
	Name:      "remove",
	Aliases:   []string{"rm"},
	Usage:     "delete a saved agent",
	ArgsUsage: "<agent-id>",
	Action:    runRemove,
}

func runList(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() { err = joinClose(err, rt.close) }()

	ids, err := rt.store.List(c.Context)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(c.App.Writer)
	table.SetHeader([]string{"ID", "Name", "Modules", "Messages", "Tokens", "Saved"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)

	for _, id := range ids {
		data, err := rt.store.Get(c.Context, id)
		if err != nil {
			return err
		}
		snap, err := snapshot.Unmarshal(data)
		if err != nil {
			rt.logger.Warn("cli.list.skipped", "agent_id", id.String(), "error", err.Error())
			continue
		}
		table.Append([]string{
			snap.AgentID.String(),
			snap.Name,
			strings.Join(moduleKinds(snap), ","),
			strconv.Itoa(len(snap.Log)),
			strconv.Itoa(snap.TokenUsage.Total),
			snap.SavedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
	return nil
}

func runInspect(c *cli.Context) (err error) {
	id, err := parseIdentityArg(c)
	if err != nil {
		return err
	}

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() { err = joinClose(err, rt.close) }()

	out := c.App.Writer

	if c.Bool("raw") {
		data, err := rt.store.Get(c.Context, id)
		if err != nil {
			return err
		}
		fprintf(out, "%s\n", data)
		return nil
	}

	a, err := rt.swarm.GetOrLoad(c.Context, id)
	if err != nil {
		return err
	}

	fprintf(out, "Name:     %s\n", a.Name())
	fprintf(out, "ID:       %s\n", a.Identity())
	if m := a.Model(); m != "" {
		fprintf(out, "Model:    %s\n", m)
	}
	fprintf(out, "Usage:    %s\n", formatUsage(a.Usage(), a.TokenBudget()))
	fprintf(out, "Messages: %d\n", len(a.Log()))
	fprintf(out, "Modules:  %s\n", strings.Join(a.ModuleKinds(), ", "))

	fprintf(out, "\nTools:\n")
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, d := range a.Tools() {
		fprintf(w, "  %s\t%s\t%s\n", d.Name(), d.Hash()[:12], d.Description())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fprintf(out, "\nLive state:\n%s\n", a.LiveState())
	return nil
}

func runRemove(c *cli.Context) (err error) {
	id, err := parseIdentityArg(c)
	if err != nil {
		return err
	}

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() { err = joinClose(err, rt.close) }()

	if _, err := rt.store.Get(c.Context, id); err != nil {
		return fmt.Errorf("agent %s: %w", id, err)
	}
	if err := rt.swarm.Remove(c.Context, id); err != nil {
		return err
	}
	fprintf(c.App.Writer, "removed %s\n", id)
	return nil
}

// moduleKinds lists the kinds of a snapshot in load order.
func moduleKinds(snap *snapshot.Snapshot) []string {
	if len(snap.ModuleOrder) > 0 {
		return snap.ModuleOrder
	}
	kinds := make([]string, 0, len(snap.ModuleStates))
	for k := range snap.ModuleStates {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

func joinClose(err error, closeFn func() error) error {
	if cerr := closeFn(); cerr != nil && err == nil {
		return cerr
	}
	return err
}
