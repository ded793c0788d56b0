package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/inspector"
)

var serveCommand = &cli.Command{
	Name:      "serve",
	Usage:     "serve a read-only JSON inspector for saved agents",
	ArgsUsage: "[agent-id...]",
	Description: `Loads the given agents, or every saved agent, and serves
GET /agents, /agents/:id and /agents/:id/log until interrupted.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "listen address",
			Value: "127.0.0.1:5000",
		},
	},
	Action: runServe,
}

func runServe(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() { err = joinClose(err, rt.close) }()

	ids := make([]core.Identity, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		id, err := core.ParseIdentity(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		if ids, err = rt.store.List(c.Context); err != nil {
			return err
		}
	}

	for _, id := range ids {
		if _, err := rt.swarm.GetOrLoad(c.Context, id); err != nil {
			return err
		}
	}

	srv := inspector.New(rt.swarm, func(o *inspector.Options) { o.Logger = rt.logger })
	fprintf(c.App.Writer, "inspecting %d agents on http://%s\n", len(ids), c.String("addr"))

	err = srv.ListenAndServe(c.Context, c.String("addr"))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
