// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package params computes the effective input set for one case invocation.
//
// Values are merged from three layers in strict priority order (highest
// wins): case parameter defaults, suite/plan node-level overrides, and
// run-request overrides supplied at invocation time. All validation errors
// are collected and reported before any process is spawned.
package params

import (
	"fmt"

	"github.com/valrig/valrig/internal/manifest"
)

// Redacted replaces secret values in persisted snapshots.
const Redacted = "[REDACTED]"

// Layer is one override layer. Later layers passed to Resolve take priority
// over earlier ones.
type Layer struct {
	// Name identifies the layer in error messages, e.g. "suite node stress".
	Name   string
	Inputs map[string]manifest.RawValue
}

// Error is a named validation error identifying the offending parameter.
type Error struct {
	Param  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Param, e.Reason)
}

// Resolved is the effective input set for one case invocation.
type Resolved struct {
	values map[string]manifest.Value
	order  []string // present parameters in declaration order
}

// Get returns the resolved value of a parameter, if present.
func (r *Resolved) Get(name string) (manifest.Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Names returns the present parameters in case declaration order. Omitted
// optional parameters do not appear.
func (r *Resolved) Names() []string {
	return r.order
}

// Snapshot returns the resolved values for persistence. Values resolved from
// secret EnvRefs are redacted regardless of how they were supplied.
func (r *Resolved) Snapshot() map[string]interface{} {
	snap := make(map[string]interface{}, len(r.order))
	for _, name := range r.order {
		v := r.values[name]
		if v.Secret {
			snap[name] = Redacted
			continue
		}
		snap[name] = v.Interface()
	}
	return snap
}

// Resolve merges the case defaults with the given override layers, resolves
// EnvRef indirection against env, and converts and validates every value
// against the case's parameter schema. env must be the effective environment
// with suite/plan overlays already applied.
//
// All errors are collected; a non-empty slice means the invocation must not
// start.
func Resolve(c *manifest.Case, env map[string]string, layers ...Layer) (*Resolved, []*Error) {
	var errs []*Error

	// Merge raw values, highest priority last.
	merged := make(map[string]manifest.RawValue)
	for i := range c.Parameters {
		d := &c.Parameters[i]
		if d.Default != nil {
			merged[d.Name] = *d.Default
		}
	}
	for _, layer := range layers {
		for name, raw := range layer.Inputs {
			if c.Param(name) == nil {
				errs = append(errs, &Error{
					Param:  name,
					Reason: fmt.Sprintf("unknown parameter supplied by %s", layer.Name),
				})
				continue
			}
			merged[name] = raw
		}
	}

	res := &Resolved{values: make(map[string]manifest.Value)}
	for i := range c.Parameters {
		d := &c.Parameters[i]
		raw, present := merged[d.Name]
		if !present {
			if d.Required {
				errs = append(errs, &Error{Param: d.Name, Reason: "required parameter is missing"})
			}
			continue
		}

		lit, secret, omit, err := resolveRaw(raw, env)
		if err != nil {
			errs = append(errs, &Error{Param: d.Name, Reason: err.Error()})
			continue
		}
		if omit {
			if d.Required {
				errs = append(errs, &Error{Param: d.Name, Reason: "required parameter is missing"})
			}
			continue
		}

		v, err := d.Convert(lit)
		if err != nil {
			errs = append(errs, &Error{Param: d.Name, Reason: err.Error()})
			continue
		}
		v.Secret = secret
		res.values[d.Name] = v
		res.order = append(res.order, d.Name)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return res, nil
}

// resolveRaw reduces a raw value to a literal. For an EnvRef it looks up the
// named variable in the effective environment; an absent or empty variable
// falls back to the EnvRef's own default, fails if the EnvRef is required,
// and otherwise omits the parameter entirely.
func resolveRaw(raw manifest.RawValue, env map[string]string) (lit interface{}, secret, omit bool, err error) {
	ref := raw.EnvRef
	if ref == nil {
		return raw.Literal, false, false, nil
	}
	if val, ok := env[ref.Name]; ok && val != "" {
		return val, ref.Secret, false, nil
	}
	if ref.Default != nil {
		return ref.Default, ref.Secret, false, nil
	}
	if ref.Required {
		return nil, false, false, fmt.Errorf("environment variable %s is not set", ref.Name)
	}
	return nil, false, true, nil
}
