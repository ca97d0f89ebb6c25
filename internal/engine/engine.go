// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package engine executes one leaf case as an external process and derives
// the authoritative run result.
//
// The engine races the process's natural exit against a timeout timer and
// user-initiated aborts; both cancellation paths converge on the same
// process-tree kill routine, and the engine always waits for the actual
// process exit before finalizing. The derived status is final: whatever the
// script reports about itself is recorded as evidence only.
package engine

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/valrig/valrig/errors"
	"github.com/valrig/valrig/internal/logging"
	"github.com/valrig/valrig/internal/manifest"
	"github.com/valrig/valrig/internal/params"
	"github.com/valrig/valrig/internal/rebootctl"
	"github.com/valrig/valrig/internal/runfolder"
	"github.com/valrig/valrig/internal/xcontext"
	"github.com/valrig/valrig/shutil"
)

// Environment variables injected into every leaf invocation.
const (
	EnvCasePath    = "VALRIG_CASE_PATH"
	EnvCaseID      = "VALRIG_CASE_ID"
	EnvCaseName    = "VALRIG_CASE_NAME"
	EnvCaseVersion = "VALRIG_CASE_VERSION"
	EnvRunID       = "VALRIG_RUN_ID"
	EnvPhase       = "VALRIG_PHASE"
	EnvControlDir  = "VALRIG_CONTROL_DIR"
	EnvAssetsRoot  = "VALRIG_ASSETS_ROOT"
)

// errTimedOut cancels the invocation context when the timeout timer fires.
// It is distinguishable from a user abort at the same select point.
var errTimedOut = errors.New("case timed out")

// advisoryFilename is the optional script-written outcome file inside the
// artifacts sub-area.
const advisoryFilename = "outcome.json"

// Engine spawns and supervises leaf interpreter processes.
type Engine struct {
	// Interpreter is the leaf script runtime command plus any arguments
	// that precede the script path, e.g. {"pwsh", "-NoProfile", "-File"}.
	Interpreter []string
	// AssetsRoot is exposed to scripts via VALRIG_ASSETS_ROOT.
	AssetsRoot string
	// EnableReboot permits scripts to request a machine reboot. When
	// false, a reboot request is a protocol error.
	EnableReboot bool
}

// Invocation describes one leaf case execution. The caller has already
// resolved inputs and created the run folder.
type Invocation struct {
	Case    *manifest.Case
	Params  *params.Resolved
	Env     map[string]string // effective environment, overlays applied
	Phase   int
	Folder  *runfolder.Folder
	Timeout time.Duration
	Events  *runfolder.EventLog // best-effort diagnostics, may be nil
}

// Result is the engine-derived outcome of one process execution.
type Result struct {
	Status   runfolder.Status
	ExitCode int
	TimedOut bool
	Start    time.Time
	End      time.Time

	// Reboot holds the script's suspension request when Status is
	// RebootRequired.
	Reboot *rebootctl.Request

	// Advisory is the script's self-reported outcome, evidence only.
	Advisory *runfolder.Advisory

	// Err is a diagnostic for Error and Aborted statuses.
	Err string
}

// Run executes the invocation and derives its authoritative result.
// It never returns a Go error: every failure mode ends in a Result with a
// terminal status so the caller always has something durable to persist.
func (e *Engine) Run(ctx context.Context, inv *Invocation) *Result {
	res := &Result{Start: time.Now()}

	argv := e.buildArgv(inv)
	logging.Debugf(ctx, "Running %s", shutil.EscapeSlice(argv))

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = inv.Folder.Dir()
	cmd.Env = buildEnv(inv, e.AssetsRoot)
	// A fresh session lets the kill routine take down the whole process
	// tree, not just the immediate child.
	cmd.SysProcAttr = &unix.SysProcAttr{Setsid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return e.failedToStart(res, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return e.failedToStart(res, err)
	}

	outFile, err := os.Create(inv.Folder.StdoutPath())
	if err != nil {
		return e.failedToStart(res, err)
	}
	defer outFile.Close()
	errFile, err := os.Create(inv.Folder.StderrPath())
	if err != nil {
		return e.failedToStart(res, err)
	}
	defer errFile.Close()

	if err := cmd.Start(); err != nil {
		return e.failedToStart(res, err)
	}
	inv.Events.Event("processStarted", map[string]interface{}{
		"pid": cmd.Process.Pid, "phase": inv.Phase,
	})

	// Pump both streams as they arrive, then reap the process. The pumps
	// finish when the pipes hit EOF, which the kill routine guarantees.
	waitCh := make(chan error, 1)
	go func() {
		var g errgroup.Group
		g.Go(func() error { _, err := io.Copy(outFile, stdout); return err })
		g.Go(func() error { _, err := io.Copy(errFile, stderr); return err })
		g.Wait()
		waitCh <- cmd.Wait()
	}()

	tctx, cancel := xcontext.WithTimeout(ctx, inv.Timeout, errTimedOut)
	defer cancel(context.Canceled)

	var waitErr error
	select {
	case waitErr = <-waitCh:
		// Exited naturally.
	case <-tctx.Done():
		if errors.Is(tctx.Err(), errTimedOut) {
			res.TimedOut = true
			logging.Infof(ctx, "Case %s timed out after %v; killing process tree", inv.Case.Identity(), inv.Timeout)
		} else {
			logging.Infof(ctx, "Case %s aborted; killing process tree", inv.Case.Identity())
		}
		// Kill the whole session, then wait for the actual exit before
		// finalizing anything.
		KillSession(cmd.Process.Pid, unix.SIGKILL)
		waitErr = reapAfterKill(ctx, waitCh, inv.Case.Identity())
		if !res.TimedOut {
			res.End = time.Now()
			res.Status = runfolder.StatusAborted
			res.Err = tctx.Err().Error()
			res.ExitCode = exitCode(waitErr)
			res.Advisory = readAdvisory(inv.Folder)
			inv.Events.Event("processAborted", nil)
			return res
		}
	}

	res.End = time.Now()
	res.ExitCode = exitCode(waitErr)
	res.Advisory = readAdvisory(inv.Folder)
	inv.Events.Event("processExited", map[string]interface{}{
		"exitCode": res.ExitCode, "timedOut": res.TimedOut,
	})

	res.Status = deriveStatus(res.TimedOut, res.ExitCode, waitErr)
	if res.Status == runfolder.StatusError && waitErr != nil {
		res.Err = waitErr.Error()
	}

	// A zero exit with a suspension request becomes a durable continuation
	// rather than a pass.
	if res.Status == runfolder.StatusPassed {
		req, err := rebootctl.ReadRequest(inv.Folder.Control())
		if err != nil {
			res.Status = runfolder.StatusError
			res.Err = err.Error()
			return res
		}
		if req != nil {
			if !e.EnableReboot {
				res.Status = runfolder.StatusError
				res.Err = "script requested a reboot but no reboot handling is configured"
				return res
			}
			res.Status = runfolder.StatusRebootRequired
			res.Reboot = req
		}
	}
	return res
}

// buildArgv builds the leaf interpreter command line. Every resolved
// parameter becomes a discrete named argument; omitted optionals are not
// passed at all.
func (e *Engine) buildArgv(inv *Invocation) []string {
	argv := append([]string{}, e.Interpreter...)
	argv = append(argv, filepath.Join(inv.Case.Dir, inv.Case.Script))
	for _, name := range inv.Params.Names() {
		v, _ := inv.Params.Get(name)
		argv = append(argv, "-"+name)
		argv = append(argv, v.ArgTokens()...)
	}
	return argv
}

// buildEnv flattens the effective environment and adds the fixed injected
// variable set.
func buildEnv(inv *Invocation, assetsRoot string) []string {
	env := make([]string, 0, len(inv.Env)+8)
	for k, v := range inv.Env {
		env = append(env, k+"="+v)
	}
	c := inv.Case
	for k, v := range map[string]string{
		EnvCasePath:    c.Dir,
		EnvCaseID:      c.ID,
		EnvCaseName:    c.Name,
		EnvCaseVersion: c.Version,
		EnvRunID:       inv.Folder.RunID(),
		EnvPhase:       strconv.Itoa(inv.Phase),
		EnvControlDir:  inv.Folder.Control(),
		EnvAssetsRoot:  assetsRoot,
	} {
		env = append(env, k+"="+v)
	}
	return env
}

// reapAfterKill waits for the killed process to actually exit. A tree that
// survives SIGKILL (e.g. stuck in uninterruptible IO) is escalated to the
// log on every stall interval; it is never silently abandoned.
func reapAfterKill(ctx context.Context, waitCh <-chan error, id manifest.Identity) error {
	const stallInterval = 10 * time.Second
	for {
		select {
		case err := <-waitCh:
			return err
		case <-time.After(stallInterval):
			logging.Infof(ctx, "Process tree for %s survived SIGKILL; still waiting for exit", id)
		}
	}
}

// failedToStart finalizes a result for a process that never ran.
func (e *Engine) failedToStart(res *Result, err error) *Result {
	res.End = time.Now()
	res.Status = runfolder.StatusError
	res.ExitCode = -1
	res.Err = errors.Wrap(err, "failed to start process").Error()
	return res
}

// deriveStatus maps the supervision outcome to the authoritative status.
// The runner wins: timeout beats any exit code, and the script's own
// self-report is never consulted.
func deriveStatus(timedOut bool, code int, waitErr error) runfolder.Status {
	switch {
	case timedOut:
		return runfolder.StatusTimeout
	case waitErr == nil && code == 0:
		return runfolder.StatusPassed
	case code == 1:
		return runfolder.StatusFailed
	default:
		return runfolder.StatusError
	}
}

// exitCode extracts the process exit code from cmd.Wait's error.
func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// readAdvisory reads the script's optional self-reported outcome from the
// artifacts sub-area. It is evidence only, so any failure just drops it.
func readAdvisory(f *runfolder.Folder) *runfolder.Advisory {
	b, err := os.ReadFile(filepath.Join(f.Artifacts(), advisoryFilename))
	if err != nil {
		return nil
	}
	var a runfolder.Advisory
	if err := json.Unmarshal(b, &a); err != nil {
		return nil
	}
	return &a
}
