package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/healthsup/internal/config"
	"github.com/loykin/healthsup/internal/daemon"
	"github.com/loykin/healthsup/internal/pidfile"
	"github.com/loykin/healthsup/pkg/client"
)

var errConfigRequired = errors.New("config file required: use --config=healthsup.toml")

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, errConfigRequired
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// runDaemon blocks until SIGINT/SIGTERM, a shutdown request or a fatal
// supervisor error.
func runDaemon(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

func stopDaemon(ctx context.Context, out io.Writer, configPath string, f StopFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.APIUrl != "" {
		c := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
		if err := c.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown via %s: %w", f.APIUrl, err)
		}
		_, _ = fmt.Fprintf(out, "shutdown requested via %s\n", f.APIUrl)
		return nil
	}

	path := f.PIDFile
	if path == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		path = cfg.Daemon.PIDFile
	}
	if path == "" {
		return errors.New("no pid file: set [daemon].pidfile or pass --pidfile")
	}

	pid, err := pidfile.Read(path)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon pid %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon pid %d: %w", pid, err)
	}
	_, _ = fmt.Fprintf(out, "sent SIGTERM to pid %d\n", pid)

	if f.Wait <= 0 {
		return nil
	}
	if err := pidfile.WaitRemoved(ctx, path, f.Wait); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "daemon pid %d stopped\n", pid)
	return nil
}

func showStatus(ctx context.Context, out io.Writer, f StatusFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
	if f.Name != "" {
		st, err := c.Status(ctx, f.Name)
		if err != nil {
			return err
		}
		return printJSON(out, st)
	}
	sts, err := c.Statuses(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, sts)
}

func validateConfig(out io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "config %s OK: %d service(s)\n", cfg.Path, len(cfg.Services))
	for _, s := range cfg.Services {
		_, _ = fmt.Fprintf(out, "  %s: %s (health %s every %s, threshold %d)\n",
			s.Name, s.Spec().String(), s.Health.URL, s.Health.Interval, s.Health.FailureThreshold)
	}
	return nil
}

func printJSON(out io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
