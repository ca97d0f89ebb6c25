// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package walker

import (
	"fmt"
	"strings"

	"github.com/valrig/valrig/errors"
	"github.com/valrig/valrig/internal/discovery"
	"github.com/valrig/valrig/internal/manifest"
	"github.com/valrig/valrig/internal/params"
)

// Node kinds in the execution tree.
const (
	KindCase  = "case"
	KindSuite = "suite"
	KindPlan  = "plan"
)

// node is one entry of the tree arena. Nodes reference each other by index,
// not by pointer, which keeps the bottom-up privilege roll-up and the
// per-node repeat/retry bookkeeping flat loops over slices.
type node struct {
	parent   int // -1 for the root
	children []int

	kind   string
	nodeID string // unique within the parent; the root uses its identity

	// Exactly one of these is set, matching kind.
	c *manifest.Case
	s *manifest.Suite
	p *manifest.Plan

	// ctrl carries the per-node execution controls from the parent
	// manifest. The root has zero controls.
	ctrl manifest.Node

	// env is the manifest-provided environment overlay for this subtree,
	// outer scopes already merged, innermost wins. The process environment
	// is applied underneath at execution time, never stored here, so the
	// overlay is safe to persist in a continuation.
	env map[string]string

	// layers are the input override layers accumulated root-to-leaf.
	// Only meaningful on leaves.
	layers []params.Layer

	// priv is the effective privilege: the maximum over this node and all
	// descendants.
	priv manifest.Privilege
}

// tree is the fully resolved execution tree for one run target.
type tree struct {
	nodes []*node
	root  int
}

// target returns the identity of the node's manifest.
func (n *node) target() manifest.Identity {
	switch n.kind {
	case KindCase:
		return n.c.Identity()
	case KindSuite:
		return n.s.Identity()
	default:
		return n.p.Identity()
	}
}

// builder accumulates arena nodes and every validation error found while
// resolving references, so all problems surface together before any process
// is spawned.
type builder struct {
	reg   *discovery.Registry
	nodes []*node
	errs  []string
}

func (b *builder) addError(path string, err error) {
	b.errs = append(b.errs, fmt.Sprintf("%s: %v", path, err))
}

func (b *builder) add(n *node) int {
	b.nodes = append(b.nodes, n)
	return len(b.nodes) - 1
}

// buildTree resolves the target into an execution tree. Exactly one of c, s
// and p is non-nil.
func buildTree(reg *discovery.Registry, c *manifest.Case, s *manifest.Suite, p *manifest.Plan) (*tree, error) {
	b := &builder{reg: reg}

	var root int
	switch {
	case c != nil:
		root = b.add(&node{
			parent: -1, kind: KindCase, nodeID: c.Identity().String(),
			c: c,
		})
	case s != nil:
		root = b.buildSuite(-1, s.Identity().String(), s, manifest.Node{}, nil, s.Identity().String())
	default:
		rootEnv := p.Environment
		root = b.add(&node{
			parent: -1, kind: KindPlan, nodeID: p.Identity().String(),
			p: p, env: rootEnv,
		})
		for _, ctrl := range p.Nodes {
			path := p.Identity().String() + "/" + ctrl.NodeID
			if ctrl.Suite == "" {
				b.addError(path, errors.New("plan nodes must reference suites"))
				continue
			}
			child, refErr := reg.ResolveSuiteRef(ctrl.Suite)
			if refErr != nil {
				b.addError(path, refErr)
				continue
			}
			idx := b.buildSuite(root, ctrl.NodeID, child, ctrl, rootEnv, path)
			b.nodes[root].children = append(b.nodes[root].children, idx)
		}
	}

	if len(b.errs) > 0 {
		return nil, errors.Errorf("invalid run target:\n  %s", strings.Join(b.errs, "\n  "))
	}

	t := &tree{nodes: b.nodes, root: root}
	t.rollUpPrivilege(root)
	return t, nil
}

// buildSuite adds a suite subtree to the arena and returns its index.
// env is the parent's effective environment; the suite's own environment is
// applied first and the referencing node's env on top, so the inner override
// wins.
func (b *builder) buildSuite(parent int, nodeID string, s *manifest.Suite, ctrl manifest.Node, env map[string]string, path string) int {
	suiteEnv := overlay(overlay(env, s.Environment), ctrl.Env)
	idx := b.add(&node{
		parent: parent, kind: KindSuite, nodeID: nodeID,
		s: s, ctrl: ctrl, env: suiteEnv,
	})

	for _, childCtrl := range s.Nodes {
		childPath := path + "/" + childCtrl.NodeID
		var childIdx int
		switch {
		case childCtrl.Case != "" && childCtrl.Suite != "":
			b.addError(childPath, errors.New("node references both a case and a suite"))
			continue
		case childCtrl.Case != "":
			c, refErr := b.reg.ResolveCaseRef(childCtrl.Case)
			if refErr != nil {
				b.addError(childPath, refErr)
				continue
			}
			childIdx = b.add(&node{
				parent: idx, kind: KindCase, nodeID: childCtrl.NodeID,
				c: c, ctrl: childCtrl, env: overlay(suiteEnv, childCtrl.Env),
			})
		case childCtrl.Suite != "":
			child, refErr := b.reg.ResolveSuiteRef(childCtrl.Suite)
			if refErr != nil {
				b.addError(childPath, refErr)
				continue
			}
			childIdx = b.buildSuite(idx, childCtrl.NodeID, child, childCtrl, suiteEnv, childPath)
		default:
			b.addError(childPath, errors.New("node references neither a case nor a suite"))
			continue
		}
		b.nodes[idx].children = append(b.nodes[idx].children, childIdx)
	}
	return idx
}

// rollUpPrivilege computes each node's effective privilege as the maximum of
// itself and all descendants. Depth-first so children finish before their
// parent reads them.
func (t *tree) rollUpPrivilege(idx int) manifest.Privilege {
	n := t.nodes[idx]
	priv := manifest.PrivilegeUser
	if n.kind == KindCase {
		priv = n.c.Privilege
	}
	for _, child := range n.children {
		priv = manifest.MaxPrivilege(priv, t.rollUpPrivilege(child))
	}
	n.priv = priv
	return priv
}

// computeLayers fills each leaf's input override layers, outer nodes first
// so inner overrides win, with the run-request overrides on top.
func (t *tree) computeLayers(idx int, inherited []params.Layer, request map[string]manifest.RawValue) {
	n := t.nodes[idx]
	layers := inherited
	if len(n.ctrl.Inputs) > 0 {
		layers = append(append([]params.Layer{}, inherited...), params.Layer{
			Name:   fmt.Sprintf("node %s", n.nodeID),
			Inputs: n.ctrl.Inputs,
		})
	}
	if n.kind == KindCase {
		if len(request) > 0 {
			layers = append(append([]params.Layer{}, layers...), params.Layer{
				Name:   "run request",
				Inputs: request,
			})
		}
		n.layers = layers
		return
	}
	for _, child := range n.children {
		t.computeLayers(child, layers, request)
	}
}

// preflight resolves every leaf's inputs against the process environment
// with each leaf's overlay applied. All validation errors across the whole
// tree are collected so the caller can report them together; a non-nil error
// means nothing may be spawned.
func (t *tree) preflight(processEnv map[string]string, request map[string]manifest.RawValue) (map[int]*params.Resolved, error) {
	t.computeLayers(t.root, nil, request)

	resolved := make(map[int]*params.Resolved)
	var msgs []string
	for idx, n := range t.nodes {
		if n.kind != KindCase {
			continue
		}
		r, errs := params.Resolve(n.c, overlay(processEnv, n.env), n.layers...)
		if len(errs) > 0 {
			for _, e := range errs {
				msgs = append(msgs, fmt.Sprintf("%s (%s): %v", n.nodeID, n.c.Identity(), e))
			}
			continue
		}
		resolved[idx] = r
	}
	if len(msgs) > 0 {
		return nil, errors.Errorf("input validation failed:\n  %s", strings.Join(msgs, "\n  "))
	}
	return resolved, nil
}

// secretEnvNames collects the names of environment variables referenced by
// secret EnvRefs anywhere in the leaf's defaults or override layers. The env
// snapshot redacts exactly these.
func secretEnvNames(n *node) map[string]bool {
	secrets := make(map[string]bool)
	note := func(raw manifest.RawValue) {
		if raw.EnvRef != nil && raw.EnvRef.Secret {
			secrets[raw.EnvRef.Name] = true
		}
	}
	for i := range n.c.Parameters {
		if d := &n.c.Parameters[i]; d.Default != nil {
			note(*d.Default)
		}
	}
	for _, layer := range n.layers {
		for _, raw := range layer.Inputs {
			note(raw)
		}
	}
	return secrets
}

// mergedInputs flattens a leaf's override layers into one raw map, later
// layers winning, for persistence in a continuation. Values stay raw:
// EnvRef indirection is re-resolved at resume time.
func mergedInputs(layers []params.Layer) map[string]manifest.RawValue {
	if len(layers) == 0 {
		return nil
	}
	merged := make(map[string]manifest.RawValue)
	for _, layer := range layers {
		for name, raw := range layer.Inputs {
			merged[name] = raw
		}
	}
	return merged
}

// overlay returns base with over applied on top. base is never modified.
func overlay(base, over map[string]string) map[string]string {
	if len(over) == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = v
	}
	return merged
}
