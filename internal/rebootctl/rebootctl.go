// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package rebootctl implements the reboot/resume control protocol.
//
// A leaf script may, instead of finishing, ask for the machine to reboot and
// the same logical run to resume afterward. The script writes a request file
// into the control directory the engine injects; the engine converts
// "exit code 0 plus a valid request" into a durable continuation rather than
// a terminal result. The persisted continuation is the resume point: no
// in-memory state survives the reboot.
package rebootctl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/valrig/valrig/errors"
	"github.com/valrig/valrig/internal/manifest"
	"github.com/valrig/valrig/internal/runfolder"
)

// File names used by the protocol.
const (
	// RequestFilename is the script-written handoff file inside the
	// control directory.
	RequestFilename = "reboot.json"

	// ContinuationFilename is the engine-written resume state inside the
	// run folder.
	ContinuationFilename = "continuation.json"

	// consumedFilename is what a continuation is renamed to on resume, so
	// a second resume of the same state fails instead of running twice.
	consumedFilename = "continuation.consumed.json"
)

// Request is a script's reboot request: the phase to resume at and an
// optional delay before the reboot is triggered.
type Request struct {
	NextPhase int `json:"nextPhase"`
	DelaySec  int `json:"delaySec,omitempty"`
}

// WriteRequest places a request file into the control directory using an
// atomic write-then-rename, so a reader never observes a half-written file.
// This mirrors what leaf scripts do and backs the engine's tests.
func WriteRequest(controlDir string, req *Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "failed to marshal reboot request")
	}
	return runfolder.AtomicWriteFile(filepath.Join(controlDir, RequestFilename), b, 0644)
}

// ReadRequest looks for a request file in the control directory.
// It returns (nil, nil) when no request was made. A malformed request is a
// protocol error: it must fail the run, never silently convert to Passed.
func ReadRequest(controlDir string) (*Request, error) {
	b, err := os.ReadFile(filepath.Join(controlDir, RequestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read reboot request")
	}
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, errors.Wrap(err, "malformed reboot request")
	}
	if req.NextPhase < 1 {
		return nil, errors.Errorf("malformed reboot request: nextPhase %d, want >= 1", req.NextPhase)
	}
	return &req, nil
}

// ClearRequest removes a consumed request file so a stale phase-0 leftover
// cannot be mistaken for a new request after resume.
func ClearRequest(controlDir string) error {
	err := os.Remove(filepath.Join(controlDir, RequestFilename))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Continuation is the durable resume point of a suspended run. The phase
// counter and control payload live in the run folder, not memory, so the
// resumed process can tell "resuming phase 1" from a stale phase-0 leftover.
type Continuation struct {
	RunID   string    `json:"runId"`
	Target  string    `json:"target"`
	Kind    string    `json:"kind"`
	Phase   int       `json:"phase"` // phase to inject on resume
	Request *Request  `json:"request"`
	Created time.Time `json:"created"`

	// Inputs is the merged raw input set of the suspended invocation.
	// Secrets stay behind EnvRef indirection, so persisting this is safe.
	Inputs map[string]manifest.RawValue `json:"inputs,omitempty"`

	// Env is the manifest-provided environment overlay. The process
	// environment itself is re-read at resume time, never persisted.
	Env map[string]string `json:"env,omitempty"`
}

// Save persists a continuation into the run folder.
func Save(f *runfolder.Folder, c *Continuation) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal continuation")
	}
	return runfolder.AtomicWriteFile(filepath.Join(f.Dir(), ContinuationFilename), append(b, '\n'), 0644)
}

// Load reads the continuation state of a suspended run. Missing or malformed
// state on resume is a protocol error.
func Load(f *runfolder.Folder) (*Continuation, error) {
	b, err := os.ReadFile(filepath.Join(f.Dir(), ContinuationFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("run %s has no continuation state", f.RunID())
		}
		return nil, errors.Wrap(err, "failed to read continuation state")
	}
	var c Continuation
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrap(err, "malformed continuation state")
	}
	if c.Phase < 1 || c.RunID == "" || c.Target == "" {
		return nil, errors.Errorf("malformed continuation state for run %s", f.RunID())
	}
	return &c, nil
}

// Consume marks a continuation as used by renaming it. Consuming twice
// fails, which makes resume idempotent: the same suspension can never be
// resumed more than once.
func Consume(f *runfolder.Folder) error {
	src := filepath.Join(f.Dir(), ContinuationFilename)
	dst := filepath.Join(f.Dir(), consumedFilename)
	if _, err := os.Stat(src); err != nil {
		return errors.Errorf("run %s was already resumed or never suspended", f.RunID())
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.Wrap(err, "failed to consume continuation")
	}
	return nil
}
