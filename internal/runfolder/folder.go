// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package runfolder owns the durable record of a run.
//
// One folder exists per run id. The engine, not the leaf script, creates it
// and is the sole writer of the engine-owned snapshot files; the script may
// only add files under the artifacts sub-area. Once written, a run's result
// record is authoritative and immutable.
package runfolder

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/valrig/valrig/errors"
	"github.com/valrig/valrig/internal/manifest"
)

// Engine-owned files inside a run folder.
const (
	ManifestFile    = "manifest.json"
	ParamsFile      = "params.json"
	EnvFile         = "env.json"
	ResultFile      = "result.json"
	StdoutFile      = "stdout.log"
	StderrFile      = "stderr.log"
	EventsFile      = "events.jsonl"
	ControlsFile    = "controls.json"
	EnvironmentFile = "environment.json"
	RunRequestFile  = "runRequest.json"
	ChildrenFile    = "children.jsonl"

	// ArtifactsDir is the script-owned sub-area. The engine ignores
	// anything the script creates there.
	ArtifactsDir = "artifacts"

	// ControlDir receives the reboot/resume handoff file.
	ControlDir = "control"
)

// NewRunID generates a unique run id.
func NewRunID() string {
	return uuid.NewString()
}

// Advisory is a leaf script's self-reported outcome, recorded as evidence.
// It never overrides the engine-derived status.
type Advisory struct {
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the authoritative record of one run.
type Result struct {
	RunID    string    `json:"runId"`
	Target   string    `json:"target"` // identity, id@version
	Kind     string    `json:"kind"`   // case, suite or plan
	Status   Status    `json:"status"`
	ExitCode int       `json:"exitCode"`
	TimedOut bool      `json:"timedOut,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`

	// NextPhase and DelaySec are set when Status is RebootRequired.
	NextPhase int `json:"nextPhase,omitempty"`
	DelaySec  int `json:"delaySec,omitempty"`

	// Advisory carries the script's self-reported outcome, if any.
	Advisory *Advisory `json:"advisory,omitempty"`

	// Error holds a diagnostic for Error and Aborted statuses.
	Error string `json:"error,omitempty"`
}

// ChildRecord is one line of a group run's children.jsonl, appended as each
// child finishes so a crash mid-suite still leaves a usable partial record.
type ChildRecord struct {
	RunID     string `json:"runId"`
	NodeID    string `json:"nodeId"`
	Iteration int    `json:"iteration"`
	Attempt   int    `json:"attempt"`
	Target    string `json:"target"`
	Status    Status `json:"status"`
}

// Folder is one run's folder. It is a single-writer resource: only this
// package and the engine write its engine-owned files.
type Folder struct {
	runID string
	dir   string
}

// Create makes a new run folder under root, including the artifacts and
// control sub-areas.
func Create(root, runID string) (*Folder, error) {
	f := &Folder{runID: runID, dir: filepath.Join(root, runID)}
	for _, d := range []string{f.dir, f.Artifacts(), f.Control()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create run folder %s", f.dir)
		}
	}
	return f, nil
}

// Open opens an existing run folder, typically to resume a suspended run.
func Open(dir string) (*Folder, error) {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return nil, errors.Errorf("run folder %s does not exist", dir)
	}
	return &Folder{runID: filepath.Base(dir), dir: dir}, nil
}

// RunID returns the run id the folder belongs to.
func (f *Folder) RunID() string { return f.runID }

// Dir returns the folder path.
func (f *Folder) Dir() string { return f.dir }

// Artifacts returns the script-owned artifacts sub-area.
func (f *Folder) Artifacts() string { return filepath.Join(f.dir, ArtifactsDir) }

// Control returns the control directory used for the reboot/resume handoff.
func (f *Folder) Control() string { return filepath.Join(f.dir, ControlDir) }

// StdoutPath returns the path of the persisted stdout log.
func (f *Folder) StdoutPath() string { return filepath.Join(f.dir, StdoutFile) }

// StderrPath returns the path of the persisted stderr log.
func (f *Folder) StderrPath() string { return filepath.Join(f.dir, StderrFile) }

// writeJSON atomically writes v as indented JSON to the named file.
func (f *Folder) writeJSON(name string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", name)
	}
	if err := AtomicWriteFile(filepath.Join(f.dir, name), append(b, '\n'), 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", name)
	}
	return nil
}

// WriteManifestSnapshot records the case manifest the run executed against.
func (f *Folder) WriteManifestSnapshot(c *manifest.Case) error {
	return f.writeJSON(ManifestFile, c)
}

// WriteParams records the resolved parameter snapshot. The caller must pass
// an already-redacted snapshot (params.Resolved.Snapshot does this).
func (f *Folder) WriteParams(snap map[string]interface{}) error {
	return f.writeJSON(ParamsFile, snap)
}

// WriteEnv records the effective environment of the invocation. Variables
// named in secrets are redacted.
func (f *Folder) WriteEnv(env map[string]string, secrets map[string]bool) error {
	snap := make(map[string]string, len(env))
	for k, v := range env {
		if secrets[k] {
			snap[k] = "[REDACTED]"
			continue
		}
		snap[k] = v
	}
	return f.writeJSON(EnvFile, snap)
}

// WriteResult writes the final result record. The record is immutable once
// written; overwriting an existing result is a programming error surfaced
// as a regular error so it never silently corrupts the audit trail.
func (f *Folder) WriteResult(res *Result) error {
	path := filepath.Join(f.dir, ResultFile)
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("result already written for run %s", f.runID)
	}
	return f.writeJSON(ResultFile, res)
}

// ReadResult reads a previously written result record.
func (f *Folder) ReadResult() (*Result, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, ResultFile))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read result for run %s", f.runID)
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, errors.Wrapf(err, "failed to parse result for run %s", f.runID)
	}
	return &res, nil
}

// WriteControls records a group run's node controls.
func (f *Folder) WriteControls(nodes []manifest.Node) error {
	return f.writeJSON(ControlsFile, nodes)
}

// WriteEnvironment records a group run's environment overlay.
func (f *Folder) WriteEnvironment(env map[string]string) error {
	return f.writeJSON(EnvironmentFile, env)
}

// WriteRunRequest records the run-request overrides supplied at invocation
// time, if any.
func (f *Folder) WriteRunRequest(req interface{}) error {
	return f.writeJSON(RunRequestFile, req)
}

// AppendChild appends one child record to children.jsonl.
func (f *Folder) AppendChild(rec *ChildRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal child record")
	}
	fh, err := os.OpenFile(filepath.Join(f.dir, ChildrenFile), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open children.jsonl")
	}
	defer fh.Close()
	_, err = fh.Write(append(b, '\n'))
	return err
}

// ReadChildren reads back the child records of a group run.
func (f *Folder) ReadChildren() ([]*ChildRecord, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, ChildrenFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var recs []*ChildRecord
	dec := json.NewDecoder(bytes.NewReader(b))
	for dec.More() {
		var rec ChildRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, errors.Wrap(err, "corrupt children.jsonl")
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

// AtomicWriteFile writes data to path via a temporary file in the same
// directory followed by a rename, so a reader never observes a half-written
// file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
