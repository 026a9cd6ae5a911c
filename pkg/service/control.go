package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/openboots/openboots/pkg/installer"
)

// Name is the Windows service name the engine registers under.
const Name = "OpenBoots"

// Controller manages the Windows service registration through sc.exe, so
// control paths stay testable via the shared Runner interface.
type Controller struct {
	runner installer.Runner
}

// NewController creates a Controller backed by runner.
func NewController(runner installer.Runner) *Controller {
	return &Controller{runner: runner}
}

// Install registers the service to run binPath with args.
func (c *Controller) Install(ctx context.Context, binPath string, args ...string) error {
	binArg := binPath
	if len(args) > 0 {
		binArg = fmt.Sprintf("%s %s", binPath, strings.Join(args, " "))
	}
	// sc.exe requires the space after binPath=.
	return c.sc(ctx, "create", Name, "binPath=", binArg, "start=", "auto")
}

// Uninstall removes the service registration.
func (c *Controller) Uninstall(ctx context.Context) error {
	return c.sc(ctx, "delete", Name)
}

// Start starts the registered service.
func (c *Controller) Start(ctx context.Context) error {
	return c.sc(ctx, "start", Name)
}

// Stop stops the registered service.
func (c *Controller) Stop(ctx context.Context) error {
	return c.sc(ctx, "stop", Name)
}

// Status returns the raw sc.exe query output.
func (c *Controller) Status(ctx context.Context) (string, error) {
	output, exitCode, err := c.runner.Run(ctx, "sc.exe", "query", Name)
	if err != nil {
		return "", fmt.Errorf("failed to query service: %w", err)
	}
	if exitCode != 0 {
		return output, fmt.Errorf("service %s not installed (sc exit %d)", Name, exitCode)
	}
	return output, nil
}

func (c *Controller) sc(ctx context.Context, args ...string) error {
	output, exitCode, err := c.runner.Run(ctx, "sc.exe", args...)
	if err != nil {
		return fmt.Errorf("failed to run sc.exe %s: %w", args[0], err)
	}
	if exitCode != 0 {
		return fmt.Errorf("sc.exe %s exited with code %d: %s", args[0], exitCode, strings.TrimSpace(output))
	}
	return nil
}
