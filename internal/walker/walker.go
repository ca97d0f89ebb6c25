// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package walker executes a resolved case, suite or plan tree sequentially.
//
// The walk order is the manifest's declared order. Per-node controls are
// applied here: repeat replicates a node, retryOnError re-runs an attempt
// only after an Error verdict, and continueOnFailure=false aborts the
// remaining siblings while completed siblings keep their real status. All
// discovery and input validation errors surface before the first process is
// spawned.
package walker

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/valrig/valrig/errors"
	"github.com/valrig/valrig/internal/discovery"
	"github.com/valrig/valrig/internal/engine"
	"github.com/valrig/valrig/internal/logging"
	"github.com/valrig/valrig/internal/manifest"
	"github.com/valrig/valrig/internal/params"
	"github.com/valrig/valrig/internal/rebootctl"
	"github.com/valrig/valrig/internal/runfolder"
)

// Walker runs execution trees and persists their results.
type Walker struct {
	Registry    *discovery.Registry
	Engine      *engine.Engine
	ResultsRoot string
	Index       *runfolder.Index

	// DefaultTimeout applies to cases whose manifest sets no timeout.
	DefaultTimeout time.Duration

	// ProcessEnv is the base environment; manifest overlays apply on top.
	ProcessEnv map[string]string

	// Elevated overrides the euid==0 check in tests.
	Elevated func() bool
}

func (w *Walker) elevated() bool {
	if w.Elevated != nil {
		return w.Elevated()
	}
	return unix.Geteuid() == 0
}

// RunCase executes a single case as its own run.
func (w *Walker) RunCase(ctx context.Context, c *manifest.Case, request map[string]manifest.RawValue) (*runfolder.Result, error) {
	return w.run(ctx, c, nil, nil, request)
}

// RunSuite executes a suite tree.
func (w *Walker) RunSuite(ctx context.Context, s *manifest.Suite, request map[string]manifest.RawValue) (*runfolder.Result, error) {
	return w.run(ctx, nil, s, nil, request)
}

// RunPlan executes a plan tree.
func (w *Walker) RunPlan(ctx context.Context, p *manifest.Plan, request map[string]manifest.RawValue) (*runfolder.Result, error) {
	return w.run(ctx, nil, nil, p, request)
}

// run builds and validates the tree, enforces privilege, then walks it.
// A returned error means nothing was executed; once the walk starts, every
// outcome is a Result.
func (w *Walker) run(ctx context.Context, c *manifest.Case, s *manifest.Suite, p *manifest.Plan, request map[string]manifest.RawValue) (*runfolder.Result, error) {
	t, err := buildTree(w.Registry, c, s, p)
	if err != nil {
		return nil, err
	}
	resolved, err := t.preflight(w.ProcessEnv, request)
	if err != nil {
		return nil, err
	}

	root := t.nodes[t.root]
	if !w.elevated() {
		switch root.priv {
		case manifest.PrivilegeAdminRequired:
			return nil, errors.Errorf("%s requires elevation; re-run as root", root.target())
		case manifest.PrivilegeAdminPreferred:
			logging.Infof(ctx, "Warning: %s prefers elevation; results may be incomplete", root.target())
		}
	}

	res, err := w.walk(ctx, t, t.root, resolved, request)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// walk executes one node and returns its authoritative result.
func (w *Walker) walk(ctx context.Context, t *tree, idx int, resolved map[int]*params.Resolved, request map[string]manifest.RawValue) (*runfolder.Result, error) {
	n := t.nodes[idx]
	if n.kind == KindCase {
		return w.runLeaf(ctx, n, resolved[idx], 0)
	}
	return w.runGroup(ctx, t, idx, resolved, request)
}

// Resume re-enters a case suspended for reboot. It consumes the prior run's
// continuation, so a second resume of the same suspension fails, then runs
// the case again in a fresh run folder with the continuation's phase.
func (w *Walker) Resume(ctx context.Context, prior *runfolder.Folder) (*runfolder.Result, error) {
	cont, err := rebootctl.Load(prior)
	if err != nil {
		return nil, err
	}
	if cont.Kind != KindCase {
		return nil, errors.Errorf("cannot resume %s run %s: only cases suspend", cont.Kind, cont.RunID)
	}
	id, err := manifest.ParseIdentity(cont.Target)
	if err != nil {
		return nil, errors.Wrap(err, "malformed continuation target")
	}
	c, ok := w.Registry.Case(id)
	if !ok {
		return nil, errors.Errorf("cannot resume run %s: case %s is no longer discoverable", cont.RunID, cont.Target)
	}

	n := &node{parent: -1, kind: KindCase, nodeID: cont.Target, c: c, env: cont.Env}
	if len(cont.Inputs) > 0 {
		n.layers = []params.Layer{{Name: "continuation", Inputs: cont.Inputs}}
	}
	resolved, errs := params.Resolve(c, overlay(w.ProcessEnv, n.env), n.layers...)
	if len(errs) > 0 {
		return nil, errors.Errorf("cannot resume run %s: %v", cont.RunID, errs[0])
	}

	if err := rebootctl.Consume(prior); err != nil {
		return nil, err
	}
	logging.Infof(ctx, "Resuming %s at phase %d (suspended run %s)", cont.Target, cont.Phase, cont.RunID)
	return w.runLeaf(ctx, n, resolved, cont.Phase)
}

// runLeaf executes a single case attempt in a fresh run folder. phase is
// zero for a first execution and the continuation's phase on resume.
func (w *Walker) runLeaf(ctx context.Context, n *node, resolved *params.Resolved, phase int) (*runfolder.Result, error) {
	runID := runfolder.NewRunID()
	f, err := runfolder.Create(w.ResultsRoot, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create run folder")
	}
	logging.Infof(ctx, "Running case %s (run %s)", n.c.Identity(), runID)

	effEnv := overlay(w.ProcessEnv, n.env)

	// Snapshots first, so even a crashed run is reproducible.
	if err := f.WriteManifestSnapshot(n.c); err != nil {
		return nil, err
	}
	if err := f.WriteParams(resolved.Snapshot()); err != nil {
		return nil, err
	}
	if err := f.WriteEnv(effEnv, secretEnvNames(n)); err != nil {
		return nil, err
	}

	events, err := f.OpenEvents()
	if err != nil {
		return nil, err
	}
	defer events.Close()

	timeout := w.DefaultTimeout
	if n.c.TimeoutSec > 0 {
		timeout = time.Duration(n.c.TimeoutSec) * time.Second
	}

	er := w.Engine.Run(ctx, &engine.Invocation{
		Case:    n.c,
		Params:  resolved,
		Env:     effEnv,
		Phase:   phase,
		Folder:  f,
		Timeout: timeout,
		Events:  events,
	})

	res := &runfolder.Result{
		RunID:    runID,
		Target:   n.c.Identity().String(),
		Kind:     KindCase,
		Status:   er.Status,
		ExitCode: er.ExitCode,
		TimedOut: er.TimedOut,
		Start:    er.Start,
		End:      er.End,
		Advisory: er.Advisory,
		Error:    er.Err,
	}
	if er.Status == runfolder.StatusRebootRequired {
		res.NextPhase = er.Reboot.NextPhase
		res.DelaySec = er.Reboot.DelaySec
		cont := &rebootctl.Continuation{
			RunID:   runID,
			Target:  res.Target,
			Kind:    KindCase,
			Phase:   er.Reboot.NextPhase,
			Request: er.Reboot,
			Created: time.Now(),
			Inputs:  mergedInputs(n.layers),
			Env:     n.env,
		}
		if err := rebootctl.Save(f, cont); err != nil {
			return nil, errors.Wrap(err, "failed to persist continuation")
		}
	}

	if err := w.finalize(f, res); err != nil {
		return nil, err
	}
	return res, nil
}

// runGroup executes a suite or plan node: its children in declared order,
// with repeat, retry and continue-on-failure bookkeeping, recording each
// child as it finishes.
func (w *Walker) runGroup(ctx context.Context, t *tree, idx int, resolved map[int]*params.Resolved, request map[string]manifest.RawValue) (*runfolder.Result, error) {
	n := t.nodes[idx]
	runID := runfolder.NewRunID()
	f, err := runfolder.Create(w.ResultsRoot, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create run folder")
	}
	logging.Infof(ctx, "Running %s %s (run %s)", n.kind, n.target(), runID)

	var ctrls []manifest.Node
	if n.kind == KindSuite {
		ctrls = n.s.Nodes
	} else {
		ctrls = n.p.Nodes
	}
	if err := f.WriteControls(ctrls); err != nil {
		return nil, err
	}
	if err := f.WriteEnvironment(n.env); err != nil {
		return nil, err
	}
	if len(request) > 0 {
		if err := f.WriteRunRequest(request); err != nil {
			return nil, err
		}
	}

	res := &runfolder.Result{
		RunID:  runID,
		Target: n.target().String(),
		Kind:   n.kind,
		Start:  time.Now(),
	}

	var statuses []runfolder.Status
	aborting := false
	suspended := false
	for _, childIdx := range n.children {
		child := t.nodes[childIdx]
		for iter := 0; iter < child.ctrl.Iterations(); iter++ {
			if aborting {
				// No process runs for an aborted sibling; record it with
				// no run folder.
				statuses = append(statuses, runfolder.StatusAborted)
				if err := f.AppendChild(&runfolder.ChildRecord{
					NodeID:    child.nodeID,
					Iteration: iter,
					Target:    child.target().String(),
					Status:    runfolder.StatusAborted,
				}); err != nil {
					return nil, err
				}
				continue
			}

			childRes, attempt, err := w.runAttempts(ctx, t, childIdx, resolved, request)
			if err != nil {
				return nil, err
			}
			statuses = append(statuses, childRes.Status)
			if err := f.AppendChild(&runfolder.ChildRecord{
				RunID:     childRes.RunID,
				NodeID:    child.nodeID,
				Iteration: iter,
				Attempt:   attempt,
				Target:    childRes.Target,
				Status:    childRes.Status,
			}); err != nil {
				return nil, err
			}

			if childRes.Status == runfolder.StatusRebootRequired {
				// The leaf's continuation is the resume point; nothing
				// after it runs in this process.
				res.NextPhase = childRes.NextPhase
				res.DelaySec = childRes.DelaySec
				suspended = true
				break
			}
			if childRes.Status != runfolder.StatusPassed && !child.ctrl.ContinueOnFailure {
				aborting = true
			}
		}
		if suspended {
			break
		}
	}

	res.Status = runfolder.Aggregate(statuses)
	res.End = time.Now()
	if err := w.finalize(f, res); err != nil {
		return nil, err
	}
	return res, nil
}

// runAttempts executes one iteration of a child node, re-running it after an
// Error verdict up to the node's retry bound. Failed is a legitimate verdict
// and is never retried. It returns the final attempt's result and index.
func (w *Walker) runAttempts(ctx context.Context, t *tree, idx int, resolved map[int]*params.Resolved, request map[string]manifest.RawValue) (*runfolder.Result, int, error) {
	n := t.nodes[idx]
	for attempt := 0; ; attempt++ {
		res, err := w.walk(ctx, t, idx, resolved, request)
		if err != nil {
			return nil, 0, err
		}
		if res.Status != runfolder.StatusError || attempt >= n.ctrl.RetryOnError {
			return res, attempt, nil
		}
		logging.Infof(ctx, "Node %s attempt %d ended in Error; retrying (%d left)",
			n.nodeID, attempt, n.ctrl.RetryOnError-attempt)
	}
}

// finalize writes the immutable result record and appends the index entry.
func (w *Walker) finalize(f *runfolder.Folder, res *runfolder.Result) error {
	if err := f.WriteResult(res); err != nil {
		return errors.Wrap(err, "failed to write result")
	}
	if w.Index != nil {
		if err := w.Index.Append(&runfolder.IndexRecord{
			RunID:  res.RunID,
			Target: res.Target,
			Kind:   res.Kind,
			Start:  res.Start,
			End:    res.End,
			Status: res.Status,
		}); err != nil {
			return errors.Wrap(err, "failed to append index record")
		}
	}
	return nil
}
