// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/valrig/valrig/internal/manifest"
)

// RefErrorKind classifies a failed suite/plan reference resolution.
type RefErrorKind string

// Resolution failure modes, in priority order: a reference that both escapes
// the root and does not exist reports OutOfRoot.
const (
	// OutOfRoot means the fully resolved path escapes the configured root.
	OutOfRoot RefErrorKind = "OutOfRoot"
	// NotFound means the target folder does not exist.
	NotFound RefErrorKind = "NotFound"
	// MissingManifest means the folder exists but its manifest is missing
	// or unparsable.
	MissingManifest RefErrorKind = "MissingManifest"
)

// RefError is a structured validation error for a reference that could not
// be resolved. Low-level I/O errors are never surfaced to callers directly.
type RefError struct {
	Kind RefErrorKind
	Ref  string // the reference string as written in the manifest
	Path string // the path resolution got to before failing
}

func (e *RefError) Error() string {
	return fmt.Sprintf("reference %q: %s (%s)", e.Ref, e.Kind, e.Path)
}

// ResolveCaseRef resolves a reference string from a suite node against the
// case root and returns the referenced case.
func (r *Registry) ResolveCaseRef(ref string) (*manifest.Case, *RefError) {
	dir, refErr := resolveRef(r.roots.CaseRoot, ref)
	if refErr != nil {
		return nil, refErr
	}
	c, ok := r.caseDirs[dir]
	if !ok {
		return nil, &RefError{Kind: MissingManifest, Ref: ref, Path: dir}
	}
	return c, nil
}

// ResolveSuiteRef resolves a reference string from a plan node against the
// suite root and returns the referenced suite.
func (r *Registry) ResolveSuiteRef(ref string) (*manifest.Suite, *RefError) {
	dir, refErr := resolveRef(r.roots.SuiteRoot, ref)
	if refErr != nil {
		return nil, refErr
	}
	s, ok := r.suiteDirs[dir]
	if !ok {
		return nil, &RefError{Kind: MissingManifest, Ref: ref, Path: dir}
	}
	return s, nil
}

// resolveRef resolves ref against root and enforces containment. Containment
// is checked on the fully resolved path, after following symbolic links, so a
// link inside the root cannot escape it.
func resolveRef(root, ref string) (string, *RefError) {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", &RefError{Kind: NotFound, Ref: ref, Path: root}
	}

	target := filepath.Join(root, ref)
	resolved, exists := resolveDeepest(target)

	if !contained(resolvedRoot, resolved) {
		return "", &RefError{Kind: OutOfRoot, Ref: ref, Path: resolved}
	}
	if !exists {
		return "", &RefError{Kind: NotFound, Ref: ref, Path: target}
	}
	return resolved, nil
}

// resolveDeepest resolves symlinks in path. If path does not exist, the
// deepest existing ancestor is resolved and the remainder is appended
// lexically, so escape checks still see through symlinked parents. The
// second return value reports whether the full path exists.
func resolveDeepest(path string) (string, bool) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, true
	}

	dir, rest := path, ""
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest), false
		}
		if _, err := os.Lstat(dir); err == nil {
			break
		}
	}
	return filepath.Clean(path), false
}

// contained reports whether path is root itself or lies beneath it.
func contained(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
