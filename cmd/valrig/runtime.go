// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/valrig/valrig/errors"
	"github.com/valrig/valrig/internal/config"
	"github.com/valrig/valrig/internal/discovery"
	"github.com/valrig/valrig/internal/engine"
	"github.com/valrig/valrig/internal/logging"
	"github.com/valrig/valrig/internal/runfolder"
	"github.com/valrig/valrig/internal/walker"
)

// runtimeFlags are the shared flags of every subcommand that needs the
// config and the discovered registry.
type runtimeFlags struct {
	workDir    string
	configPath string
}

func (rf *runtimeFlags) SetFlags(f *flag.FlagSet) {
	f.StringVar(&rf.workDir, "workdir", "", "workspace root (default: current directory)")
	f.StringVar(&rf.configPath, "config", "", "config file path (default: <workdir>/"+config.DefaultFilename+")")
}

// runtime is the per-invocation wiring: config, registry, index and walker.
type runtime struct {
	cfg    *config.Config
	reg    *discovery.Registry
	index  *runfolder.Index
	walker *walker.Walker
}

// open loads the config, discovers the roots and wires the walker. The
// caller must close the returned runtime.
func (rf *runtimeFlags) open(ctx context.Context) (*runtime, error) {
	workDir := rf.workDir
	if workDir == "" {
		var err error
		if workDir, err = os.Getwd(); err != nil {
			return nil, errors.Wrap(err, "failed to get working directory")
		}
	}
	configPath := rf.configPath
	if configPath == "" {
		configPath = filepath.Join(workDir, config.DefaultFilename)
	}
	cfg, err := config.Load(configPath, workDir)
	if err != nil {
		return nil, err
	}

	reg, err := discovery.Discover(ctx, discovery.Roots{
		CaseRoot:  cfg.CaseRoot,
		SuiteRoot: cfg.SuiteRoot,
		PlanRoot:  cfg.PlanRoot,
	})
	if err != nil {
		return nil, err
	}
	if err := reg.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.ResultsRoot, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create results root")
	}
	index, err := runfolder.OpenIndex(filepath.Join(cfg.ResultsRoot, runfolder.IndexFilename))
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:   cfg,
		reg:   reg,
		index: index,
		walker: &walker.Walker{
			Registry: reg,
			Engine: &engine.Engine{
				Interpreter:  cfg.Interpreter,
				AssetsRoot:   cfg.AssetsRoot,
				EnableReboot: cfg.RebootEnabled(),
			},
			ResultsRoot:    cfg.ResultsRoot,
			Index:          index,
			DefaultTimeout: cfg.DefaultTimeout(),
			ProcessEnv:     environMap(),
		},
	}, nil
}

func (rt *runtime) close() {
	rt.index.Close()
}

// report logs a run's outcome and, on a suspension, triggers the configured
// reboot command. It returns the process exit code.
func (rt *runtime) report(ctx context.Context, res *runfolder.Result) int {
	logging.Infof(ctx, "Run %s finished: %s %s -> %s", res.RunID, res.Kind, res.Target, res.Status)

	switch res.Status {
	case runfolder.StatusPassed:
		return 0
	case runfolder.StatusRebootRequired:
		if err := rt.reboot(ctx, res.DelaySec); err != nil {
			logging.Infof(ctx, "Failed to trigger reboot: %v", err)
			return 1
		}
		return 0
	default:
		return 1
	}
}

// reboot flushes the index and invokes the configured reboot command after
// the script-requested delay.
func (rt *runtime) reboot(ctx context.Context, delaySec int) error {
	if err := rt.index.Flush(); err != nil {
		return err
	}
	if delaySec > 0 {
		logging.Infof(ctx, "Rebooting in %d seconds", delaySec)
		time.Sleep(time.Duration(delaySec) * time.Second)
	}
	cmd := rt.cfg.RebootCommand
	logging.Infof(ctx, "Triggering reboot: %s", strings.Join(cmd, " "))
	return exec.Command(cmd[0], cmd[1:]...).Start()
}

// environMap converts the process environment into a map, later entries
// winning like the OS does.
func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}
