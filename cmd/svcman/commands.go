package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/loykin/svcman/internal/auth"
	"github.com/loykin/svcman/internal/config"
	"github.com/loykin/svcman/internal/tui"
	"github.com/loykin/svcman/pkg/client"
)

// command runs the client-side subcommands against a manager or, when a
// token is set, an agent.
type command struct {
	api   *client.Client
	url   string
	agent bool
}

func newCommand(f ClientFlags) command {
	return command{
		api: client.New(client.Config{
			BaseURL: f.APIUrl,
			Timeout: f.APITimeout,
			Token:   f.Token,
		}),
		url:   f.APIUrl,
		agent: f.Token != "",
	}
}

var errServiceRequired = errors.New("service name is required")

func (c command) Status(ctx context.Context, w io.Writer) error {
	if c.agent {
		st, err := c.api.AgentStatus(ctx)
		if err != nil {
			return err
		}
		return printJSON(w, st)
	}
	svcs, err := c.api.Services(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(svcs, func(i, j int) bool { return svcs[i].Name < svcs[j].Name })
	for _, s := range svcs {
		state := "stopped"
		switch {
		case s.Managed:
			state = "running"
		case s.Running:
			state = "external"
		}
		pid := "-"
		if s.PID != nil {
			pid = fmt.Sprint(*s.PID)
		}
		if _, err := fmt.Fprintf(w, "%-8s %-9s port=%-5d pid=%s\n", s.Name, state, s.Port, pid); err != nil {
			return err
		}
	}
	return nil
}

func (c command) Start(ctx context.Context, w io.Writer, service string) error {
	var (
		res client.StartResponse
		err error
	)
	if c.agent {
		res, err = c.api.AgentStart(ctx)
	} else {
		if service == "" {
			return errServiceRequired
		}
		res, err = c.api.Start(ctx, service)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s (pid %d)\n", res.Message, res.PID)
	return err
}

func (c command) Stop(ctx context.Context, w io.Writer, service string, wait time.Duration) error {
	var (
		res client.StopResponse
		err error
	)
	if c.agent {
		res, err = c.api.AgentStop(ctx)
	} else {
		if service == "" {
			return errServiceRequired
		}
		res, err = c.api.Stop(ctx, service, wait)
	}
	if err != nil {
		return err
	}
	if res.PID != nil {
		_, err = fmt.Fprintf(w, "%s (pid %d)\n", res.Message, *res.PID)
	} else {
		_, err = fmt.Fprintln(w, res.Message)
	}
	return err
}

func (c command) UI(ctx context.Context) error {
	if c.agent {
		return errors.New("the dashboard needs the manager API, not an agent")
	}
	if !c.api.IsReachable(ctx) {
		return fmt.Errorf("manager not reachable at %s", c.url)
	}
	return tui.Run(ctx, c.api, c.url)
}

func runToken(w io.Writer, f TokenFlags) error {
	secret := f.Secret
	if secret == "" {
		cfg, err := config.Load(f.ConfigPath)
		if err != nil {
			return err
		}
		secret = cfg.Agent.JWTSecret
	}
	if secret == "" {
		return errors.New("no secret: pass --secret or set JWT_SECRET")
	}
	tok, err := auth.IssueToken(secret, auth.RoleAdmin, f.Subject, f.TTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
