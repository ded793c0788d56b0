package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/swarmer/agent"
	"github.com/hupe1980/swarmer/core"
)

var chatCommand = &cli.Command{
	Name:      "chat",
	Usage:     "start an interactive session with a new or saved agent",
	ArgsUsage: "[agent-id]",
	Description: `Without an agent id a new agent is created. Lines starting with a slash
are session commands: /state, /tools, /save, /clear and /exit.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "name",
			Usage: "name of the agent to create",
			Value: "Assistant",
		},
	},
	Action: runChat,
}

func runChat(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.swarm.Shutdown(context.WithoutCancel(c.Context)), rt.close())
	}()

	var a *agent.Agent
	if c.NArg() > 0 {
		id, perr := parseIdentityArg(c)
		if perr != nil {
			return perr
		}
		a, err = rt.swarm.GetOrLoad(c.Context, id)
	} else {
		a, err = rt.swarm.CreateAgent(c.Context, c.String("name"))
	}
	if err != nil {
		return err
	}

	rt.swarm.StartAutosave(c.Context)

	out := c.App.Writer
	fprintf(out, "Agent %s (%s)\n", a.Name(), a.Identity())

	scanner := bufio.NewScanner(c.App.Reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fprintf(out, "> ")
		if !scanner.Scan() {
			fprintf(out, "\n")
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, cerr := rt.sessionCommand(c, a, line)
			if cerr != nil {
				fprintf(out, "error: %v\n", cerr)
			}
			if done {
				return nil
			}
			continue
		}

		reply, terr := rt.swarm.RunTurn(c.Context, a.Identity(), line)
		switch {
		case terr == nil:
			fprintf(out, "%s: %s\n", a.Name(), reply)
		case errors.Is(terr, context.Canceled):
			return nil
		default:
			fprintf(out, "error: %v\n", terr)
		}
	}
}

func (rt *runtime) sessionCommand(c *cli.Context, a *agent.Agent, line string) (bool, error) {
	out := c.App.Writer

	switch line {
	case "/exit", "/quit":
		return true, nil
	case "/save":
		if err := rt.swarm.Save(c.Context, a.Identity()); err != nil {
			return false, err
		}
		fprintf(out, "saved %s\n", a.Identity())
	case "/state":
		fprintf(out, "%s\n", a.LiveState())
		fprintf(out, "usage: %s\n", formatUsage(a.Usage(), a.TokenBudget()))
	case "/tools":
		for _, d := range a.Tools() {
			fprintf(out, "%-24s %s\n", d.Name(), d.Description())
		}
	case "/clear":
		if err := a.ClearLog(); err != nil {
			return false, err
		}
		fprintf(out, "conversation cleared\n")
	default:
		return false, fmt.Errorf("unknown command %s", line)
	}
	return false, nil
}

func formatUsage(u core.TokenUsage, budget int) string {
	if budget > 0 {
		return fmt.Sprintf("%d tokens (%d prompt, %d completion) of %d", u.Total, u.Prompt, u.Completion, budget)
	}
	return fmt.Sprintf("%d tokens (%d prompt, %d completion)", u.Total, u.Prompt, u.Completion)
}
