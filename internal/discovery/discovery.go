// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package discovery scans the configured entity roots for manifests and
// resolves references between them.
//
// Discovery is the only component that loads manifests. Everything it finds
// is keyed by identity (id@version), never by folder location.
package discovery

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/valrig/valrig/errors"
	"github.com/valrig/valrig/internal/logging"
	"github.com/valrig/valrig/internal/manifest"
)

// Kind names an entity kind.
type Kind string

// Entity kinds.
const (
	KindCase  Kind = "case"
	KindSuite Kind = "suite"
	KindPlan  Kind = "plan"
)

// Roots configures one root directory per entity kind.
type Roots struct {
	CaseRoot  string
	SuiteRoot string
	PlanRoot  string
}

// Duplicate records two distinct folders resolving to the same identity
// within one entity kind.
type Duplicate struct {
	Kind     Kind
	Identity manifest.Identity
	FirstDir string
	OtherDir string
}

func (d *Duplicate) Error() string {
	return strings.Join([]string{
		"duplicate " + string(d.Kind) + " identity " + d.Identity.String(),
		"first seen in " + d.FirstDir,
		"also in " + d.OtherDir,
	}, "; ")
}

// Registry holds everything discovery found, keyed by identity.
type Registry struct {
	roots Roots

	cases  map[manifest.Identity]*manifest.Case
	suites map[manifest.Identity]*manifest.Suite
	plans  map[manifest.Identity]*manifest.Plan

	// Folder indexes used for reference resolution. Keys are fully resolved
	// (symlink-free) directory paths.
	caseDirs  map[string]*manifest.Case
	suiteDirs map[string]*manifest.Suite

	// Duplicates holds all duplicate-identity conflicts found during the
	// scan, in scan order. A non-empty slice makes the registry unusable
	// for running; callers must check Err.
	Duplicates []*Duplicate
}

// Err returns a single error describing all duplicate-identity conflicts, or
// nil if there are none. All conflicts are reported, not just the first.
func (r *Registry) Err() error {
	if len(r.Duplicates) == 0 {
		return nil
	}
	msgs := make([]string, len(r.Duplicates))
	for i, d := range r.Duplicates {
		msgs[i] = d.Error()
	}
	return errors.Errorf("discovery found %d identity conflict(s): %s",
		len(r.Duplicates), strings.Join(msgs, "; "))
}

// Case returns the case with the given identity.
func (r *Registry) Case(id manifest.Identity) (*manifest.Case, bool) {
	c, ok := r.cases[id]
	return c, ok
}

// Suite returns the suite with the given identity.
func (r *Registry) Suite(id manifest.Identity) (*manifest.Suite, bool) {
	s, ok := r.suites[id]
	return s, ok
}

// Plan returns the plan with the given identity.
func (r *Registry) Plan(id manifest.Identity) (*manifest.Plan, bool) {
	p, ok := r.plans[id]
	return p, ok
}

// Identities returns the sorted identities of one entity kind.
func (r *Registry) Identities(kind Kind) []manifest.Identity {
	var ids []manifest.Identity
	switch kind {
	case KindCase:
		for id := range r.cases {
			ids = append(ids, id)
		}
	case KindSuite:
		for id := range r.suites {
			ids = append(ids, id)
		}
	case KindPlan:
		for id := range r.plans {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Discover scans all configured roots. A manifest that fails to parse is
// skipped with a warning so one malformed case cannot block the whole run.
// Duplicate identities are collected into Registry.Duplicates; callers must
// check Registry.Err before executing anything.
func Discover(ctx context.Context, roots Roots) (*Registry, error) {
	r := &Registry{
		roots:     roots,
		cases:     make(map[manifest.Identity]*manifest.Case),
		suites:    make(map[manifest.Identity]*manifest.Suite),
		plans:     make(map[manifest.Identity]*manifest.Plan),
		caseDirs:  make(map[string]*manifest.Case),
		suiteDirs: make(map[string]*manifest.Suite),
	}

	if roots.CaseRoot != "" {
		err := scanRoot(ctx, roots.CaseRoot, manifest.CaseFilename, func(dir string) error {
			c, err := manifest.LoadCase(dir)
			if err != nil {
				return err
			}
			if prev, ok := r.cases[c.Identity()]; ok {
				r.Duplicates = append(r.Duplicates, &Duplicate{KindCase, c.Identity(), prev.Dir, dir})
				return nil
			}
			r.cases[c.Identity()] = c
			if resolved, err := filepath.EvalSymlinks(dir); err == nil {
				r.caseDirs[resolved] = c
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if roots.SuiteRoot != "" {
		err := scanRoot(ctx, roots.SuiteRoot, manifest.SuiteFilename, func(dir string) error {
			s, err := manifest.LoadSuite(dir)
			if err != nil {
				return err
			}
			if prev, ok := r.suites[s.Identity()]; ok {
				r.Duplicates = append(r.Duplicates, &Duplicate{KindSuite, s.Identity(), prev.Dir, dir})
				return nil
			}
			r.suites[s.Identity()] = s
			if resolved, err := filepath.EvalSymlinks(dir); err == nil {
				r.suiteDirs[resolved] = s
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if roots.PlanRoot != "" {
		err := scanRoot(ctx, roots.PlanRoot, manifest.PlanFilename, func(dir string) error {
			p, err := manifest.LoadPlan(dir)
			if err != nil {
				return err
			}
			if prev, ok := r.plans[p.Identity()]; ok {
				r.Duplicates = append(r.Duplicates, &Duplicate{KindPlan, p.Identity(), prev.Dir, dir})
				return nil
			}
			r.plans[p.Identity()] = p
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

// scanRoot walks root looking for directories containing filename and calls
// load for each. Load failures are demoted to warnings.
func scanRoot(ctx context.Context, root, filename string, load func(dir string) error) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != filename {
			return nil
		}
		if err := load(filepath.Dir(path)); err != nil {
			logging.Infof(ctx, "Warning: skipping %s: %v", path, err)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to scan %s", root)
	}
	return nil
}
