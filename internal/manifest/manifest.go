// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package manifest defines the on-disk description of cases, suites and
// plans, and the typed parameter values derived from them.
//
// Manifests are read-only at run time; only the discovery package loads them.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/valrig/valrig/errors"
)

// Manifest file names, one per entity kind, looked up inside an entity folder.
const (
	CaseFilename  = "case.json"
	SuiteFilename = "suite.json"
	PlanFilename  = "plan.json"
)

// DefaultScript is the leaf script file used when a case manifest does not
// name one.
const DefaultScript = "run.ps1"

// Identity identifies an entity. It is globally unique within each entity
// kind; folder location is never part of identity.
type Identity struct {
	ID      string
	Version string
}

// String returns the canonical "id@version" form.
func (i Identity) String() string {
	return i.ID + "@" + i.Version
}

// ParseIdentity parses the canonical "id@version" form.
func ParseIdentity(s string) (Identity, error) {
	id, ver, ok := strings.Cut(s, "@")
	if !ok || id == "" || ver == "" {
		return Identity{}, errors.Errorf("invalid identity %q: want id@version", s)
	}
	return Identity{ID: id, Version: ver}, nil
}

// Privilege is the privilege level a case or composite node needs.
type Privilege string

// Privilege levels in ascending order.
const (
	PrivilegeUser           Privilege = "User"
	PrivilegeAdminPreferred Privilege = "AdminPreferred"
	PrivilegeAdminRequired  Privilege = "AdminRequired"
)

// rank orders privilege levels so the effective privilege of a composite node
// can be computed as a maximum.
func (p Privilege) rank() int {
	switch p {
	case PrivilegeAdminRequired:
		return 2
	case PrivilegeAdminPreferred:
		return 1
	default:
		return 0
	}
}

// MaxPrivilege returns the higher of two privilege levels.
func MaxPrivilege(a, b Privilege) Privilege {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Case describes one leaf test: a script plus its parameter schema.
// It is immutable once loaded; re-read only on re-discovery.
type Case struct {
	SchemaVersion int        `json:"schemaVersion"`
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	Version       string     `json:"version"`
	Privilege     Privilege  `json:"privilege"`
	TimeoutSec    int        `json:"timeoutSec"`
	Script        string     `json:"script"`
	Tags          []string   `json:"tags"`
	Parameters    []ParamDef `json:"parameters"`

	// Dir is the folder the manifest was loaded from. Not part of identity.
	Dir string `json:"-"`
}

// Identity returns the case's identity.
func (c *Case) Identity() Identity {
	return Identity{ID: c.ID, Version: c.Version}
}

// Param returns the parameter definition with the given name, or nil.
func (c *Case) Param(name string) *ParamDef {
	for i := range c.Parameters {
		if c.Parameters[i].Name == name {
			return &c.Parameters[i]
		}
	}
	return nil
}

// Node is one child reference inside a suite or plan, with its per-node
// execution controls.
type Node struct {
	NodeID string `json:"nodeId"`
	// Exactly one of Case and Suite is set: a folder reference string
	// resolved against the corresponding root.
	Case  string `json:"case,omitempty"`
	Suite string `json:"suite,omitempty"`

	Inputs map[string]RawValue `json:"inputs,omitempty"`
	Env    map[string]string   `json:"env,omitempty"`

	// RetryOnError bounds re-execution after an Error verdict. It never
	// applies to a Failed verdict.
	RetryOnError int `json:"retryOnError"`
	// ContinueOnFailure lets later siblings run after this node fails.
	ContinueOnFailure bool `json:"continueOnFailure"`
	// Repeat replicates the node this many times in sequence. Zero means one.
	Repeat int `json:"repeat"`
}

// Iterations returns the number of sequential executions Repeat asks for.
func (n *Node) Iterations() int {
	if n.Repeat <= 0 {
		return 1
	}
	return n.Repeat
}

// Suite is an ordered group of case (or nested suite) references.
type Suite struct {
	SchemaVersion int               `json:"schemaVersion"`
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Environment   map[string]string `json:"environment,omitempty"`
	Nodes         []Node            `json:"nodes"`

	Dir string `json:"-"`
}

// Identity returns the suite's identity.
func (s *Suite) Identity() Identity {
	return Identity{ID: s.ID, Version: s.Version}
}

// Plan is an ordered group of suite references.
type Plan struct {
	SchemaVersion int               `json:"schemaVersion"`
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Environment   map[string]string `json:"environment,omitempty"`
	Nodes         []Node            `json:"nodes"`

	Dir string `json:"-"`
}

// Identity returns the plan's identity.
func (p *Plan) Identity() Identity {
	return Identity{ID: p.ID, Version: p.Version}
}

// readManifest reads path, validates it against schema and unmarshals it
// into out. Unknown fields are ignored for forward compatibility.
func readManifest(path string, schema *compiledSchema, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read manifest %s", path)
	}
	if err := schema.validate(b); err != nil {
		return errors.Wrapf(err, "invalid manifest %s", path)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrapf(err, "failed to parse manifest %s", path)
	}
	return nil
}

// LoadCase loads and validates the case manifest inside dir.
func LoadCase(dir string) (*Case, error) {
	var c Case
	if err := readManifest(filepath.Join(dir, CaseFilename), caseSchema(), &c); err != nil {
		return nil, err
	}
	if c.Privilege == "" {
		c.Privilege = PrivilegeUser
	}
	if c.Script == "" {
		c.Script = DefaultScript
	}
	c.Dir = dir
	return &c, nil
}

// LoadSuite loads and validates the suite manifest inside dir.
func LoadSuite(dir string) (*Suite, error) {
	var s Suite
	if err := readManifest(filepath.Join(dir, SuiteFilename), suiteSchema(), &s); err != nil {
		return nil, err
	}
	s.Dir = dir
	return &s, nil
}

// LoadPlan loads and validates the plan manifest inside dir.
func LoadPlan(dir string) (*Plan, error) {
	var p Plan
	if err := readManifest(filepath.Join(dir, PlanFilename), planSchema(), &p); err != nil {
		return nil, err
	}
	p.Dir = dir
	return &p, nil
}
