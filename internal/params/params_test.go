// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package params_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/valrig/valrig/internal/manifest"
	"github.com/valrig/valrig/internal/params"
)

func lit(v interface{}) manifest.RawValue {
	return manifest.RawValue{Literal: v}
}

func litPtr(v interface{}) *manifest.RawValue {
	r := lit(v)
	return &r
}

func testCase() *manifest.Case {
	return &manifest.Case{
		ID: "c", Name: "c", Version: "1",
		Parameters: []manifest.ParamDef{
			{Name: "count", Type: manifest.TypeInt, Default: litPtr(float64(1))},
			{Name: "label", Type: manifest.TypeString},
			{Name: "mode", Type: manifest.TypeEnum, Values: []string{"fast", "slow"}, Required: true},
		},
	}
}

func TestResolvePriority(t *testing.T) {
	c := testCase()

	suiteLayer := params.Layer{Name: "suite node", Inputs: map[string]manifest.RawValue{
		"count": lit(float64(2)),
		"mode":  lit("fast"),
	}}
	runLayer := params.Layer{Name: "run request", Inputs: map[string]manifest.RawValue{
		"count": lit(float64(3)),
	}}

	// Default=1, suite=2, run=3: run wins.
	r, errs := params.Resolve(c, nil, suiteLayer, runLayer)
	if errs != nil {
		t.Fatalf("Resolve failed: %v", errs)
	}
	if v, _ := r.Get("count"); v.Int != 3 {
		t.Errorf("count = %d; want 3", v.Int)
	}

	// Without the run override the suite layer wins.
	r, errs = params.Resolve(c, nil, suiteLayer)
	if errs != nil {
		t.Fatalf("Resolve failed: %v", errs)
	}
	if v, _ := r.Get("count"); v.Int != 2 {
		t.Errorf("count = %d; want 2", v.Int)
	}

	// Without both, the case default applies.
	r, errs = params.Resolve(c, nil, params.Layer{Name: "suite node", Inputs: map[string]manifest.RawValue{
		"mode": lit("slow"),
	}})
	if errs != nil {
		t.Fatalf("Resolve failed: %v", errs)
	}
	if v, _ := r.Get("count"); v.Int != 1 {
		t.Errorf("count = %d; want 1", v.Int)
	}
}

func TestResolveCollectsErrors(t *testing.T) {
	c := testCase()

	_, errs := params.Resolve(c, nil, params.Layer{Name: "run request", Inputs: map[string]manifest.RawValue{
		"bogus": lit("x"),
		"count": lit("not a number"),
	}})
	if len(errs) != 3 {
		t.Fatalf("Got %d errors; want 3 (unknown, conversion, missing required): %v", len(errs), errs)
	}
	var reasons []string
	for _, e := range errs {
		reasons = append(reasons, e.Error())
	}
	all := strings.Join(reasons, "\n")
	for _, want := range []string{"bogus", "count", "mode"} {
		if !strings.Contains(all, want) {
			t.Errorf("Errors %q do not mention parameter %q", all, want)
		}
	}
}

func TestResolveOmittedOptional(t *testing.T) {
	c := testCase()
	r, errs := params.Resolve(c, nil, params.Layer{Name: "run request", Inputs: map[string]manifest.RawValue{
		"mode": lit("fast"),
	}})
	if errs != nil {
		t.Fatalf("Resolve failed: %v", errs)
	}
	// label has no default and no override: omitted, not present as null.
	if _, ok := r.Get("label"); ok {
		t.Error("label unexpectedly present")
	}
	if diff := cmp.Diff([]string{"count", "mode"}, r.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveEnvRef(t *testing.T) {
	c := &manifest.Case{
		ID: "c", Name: "c", Version: "1",
		Parameters: []manifest.ParamDef{
			{Name: "token", Type: manifest.TypeString},
			{Name: "host", Type: manifest.TypeString},
			{Name: "port", Type: manifest.TypeInt},
		},
	}
	layer := params.Layer{Name: "suite node", Inputs: map[string]manifest.RawValue{
		"token": {EnvRef: &manifest.EnvRef{Name: "LAB_TOKEN", Secret: true}},
		"host":  {EnvRef: &manifest.EnvRef{Name: "LAB_HOST", Default: "localhost"}},
		"port":  {EnvRef: &manifest.EnvRef{Name: "LAB_PORT"}},
	}}

	env := map[string]string{"LAB_TOKEN": "hunter2", "LAB_PORT": "8080"}
	r, errs := params.Resolve(c, env, layer)
	if errs != nil {
		t.Fatalf("Resolve failed: %v", errs)
	}

	if v, _ := r.Get("token"); v.Str != "hunter2" || !v.Secret {
		t.Errorf("token = %+v; want secret hunter2", v)
	}
	// Absent variable falls back to the EnvRef default.
	if v, _ := r.Get("host"); v.Str != "localhost" {
		t.Errorf("host = %q; want localhost", v.Str)
	}
	// Env values convert like literals.
	if v, _ := r.Get("port"); v.Int != 8080 {
		t.Errorf("port = %d; want 8080", v.Int)
	}

	// Secret values never appear in snapshots.
	snap := r.Snapshot()
	if snap["token"] != params.Redacted {
		t.Errorf("Snapshot token = %v; want %q", snap["token"], params.Redacted)
	}
	if snap["host"] != "localhost" {
		t.Errorf("Snapshot host = %v; want localhost", snap["host"])
	}
}

func TestResolveEnvRefRequiredAndOmitted(t *testing.T) {
	c := &manifest.Case{
		ID: "c", Name: "c", Version: "1",
		Parameters: []manifest.ParamDef{
			{Name: "need", Type: manifest.TypeString},
			{Name: "opt", Type: manifest.TypeString},
		},
	}
	layer := params.Layer{Name: "suite node", Inputs: map[string]manifest.RawValue{
		"need": {EnvRef: &manifest.EnvRef{Name: "MISSING_VAR", Required: true}},
		"opt":  {EnvRef: &manifest.EnvRef{Name: "ALSO_MISSING"}},
	}}

	// An empty value counts as unset.
	_, errs := params.Resolve(c, map[string]string{"MISSING_VAR": ""}, layer)
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "MISSING_VAR") {
		t.Fatalf("Resolve errors = %v; want one unresolved-EnvRef error for MISSING_VAR", errs)
	}

	r, errs := params.Resolve(c, map[string]string{"MISSING_VAR": "x"}, layer)
	if errs != nil {
		t.Fatalf("Resolve failed: %v", errs)
	}
	// A non-required unresolved EnvRef omits the parameter entirely.
	if _, ok := r.Get("opt"); ok {
		t.Error("opt unexpectedly present")
	}
}
