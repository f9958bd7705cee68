package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/loykin/scriptdeck/pkg/client"
)

// command binds CLI handlers to the daemon API.
type command struct {
	flags *GlobalFlags
	out   io.Writer
}

func (c *command) client() *client.Client {
	return client.New(client.Config{BaseURL: c.flags.APIUrl, Timeout: c.flags.APITimeout})
}

// reachable returns the API client once the daemon answers.
func (c *command) reachable(ctx context.Context) (*client.Client, error) {
	api := c.client()
	if !api.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start it first with 'scriptdeck serve'", c.flags.APIUrl)
	}
	return api, nil
}

func (c *command) Scripts(ctx context.Context) error {
	api, err := c.reachable(ctx)
	if err != nil {
		return err
	}
	scripts, err := api.Scripts(ctx)
	if err != nil {
		return err
	}
	return c.printJSON(scripts)
}

func (c *command) Start(ctx context.Context, f StartFlags) error {
	if strings.TrimSpace(f.Script) == "" {
		return fmt.Errorf("script name is required")
	}
	api, err := c.reachable(ctx)
	if err != nil {
		return err
	}
	if err := api.Start(ctx, client.StartRequest{Script: f.Script, Path: f.Path, Folder: f.Folder}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "started %s\n", f.Script)
	return nil
}

func (c *command) Stop(ctx context.Context, f StatusFlags) error {
	if strings.TrimSpace(f.Script) == "" {
		return fmt.Errorf("script name is required")
	}
	api, err := c.reachable(ctx)
	if err != nil {
		return err
	}
	if err := api.Stop(ctx, f.Script); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "stopped %s\n", f.Script)
	return nil
}

// Status prints one script's status, or every known script when none is given.
func (c *command) Status(ctx context.Context, f StatusFlags) error {
	api, err := c.reachable(ctx)
	if err != nil {
		return err
	}
	if f.Script == "" {
		all, err := api.StatusAll(ctx)
		if err != nil {
			return err
		}
		return c.printJSON(all)
	}
	st, err := api.Status(ctx, f.Script)
	if err != nil {
		return err
	}
	return c.printJSON(st)
}

func (c *command) Logs(ctx context.Context, f StatusFlags) error {
	if strings.TrimSpace(f.Script) == "" {
		return fmt.Errorf("script name is required")
	}
	api, err := c.reachable(ctx)
	if err != nil {
		return err
	}
	logs, err := api.Logs(ctx, f.Script)
	if err != nil {
		return err
	}
	_, err = io.WriteString(c.out, logs)
	return err
}

func (c *command) Packages(ctx context.Context) error {
	api, err := c.reachable(ctx)
	if err != nil {
		return err
	}
	pkgs, err := api.Packages(ctx)
	if err != nil {
		return err
	}
	for _, p := range pkgs {
		_, _ = fmt.Fprintf(c.out, "%s==%s\n", p.Name, p.Version)
	}
	return nil
}

func (c *command) Install(ctx context.Context, name string) error {
	api, err := c.reachable(ctx)
	if err != nil {
		return err
	}
	res, err := api.InstallPackage(ctx, name)
	if err != nil {
		return err
	}
	return c.result(res)
}

func (c *command) Uninstall(ctx context.Context, name string) error {
	api, err := c.reachable(ctx)
	if err != nil {
		return err
	}
	res, err := api.UninstallPackage(ctx, name)
	if err != nil {
		return err
	}
	return c.result(res)
}

func (c *command) InstallRequirements(ctx context.Context, f RequirementsFlags) error {
	api, err := c.reachable(ctx)
	if err != nil {
		return err
	}
	res, err := api.InstallRequirements(ctx, f.Folder)
	if err != nil {
		return err
	}
	return c.result(res)
}

// result prints pip output and turns an unsuccessful run into an error so the
// exit code reflects it.
func (c *command) result(res client.PackageResult) error {
	_, _ = io.WriteString(c.out, res.Output)
	if !strings.HasSuffix(res.Output, "\n") {
		_, _ = io.WriteString(c.out, "\n")
	}
	if !res.Success {
		return fmt.Errorf("pip command failed")
	}
	return nil
}

func (c *command) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}
