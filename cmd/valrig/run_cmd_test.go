// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"path/filepath"
	"testing"

	"github.com/valrig/valrig/internal/manifest"
	"github.com/valrig/valrig/testutil"
)

func TestParseTarget(t *testing.T) {
	id, err := parseTarget("case", "cpu.burnin@1.0")
	if err != nil {
		t.Fatalf("parseTarget failed: %v", err)
	}
	if id != (manifest.Identity{ID: "cpu.burnin", Version: "1.0"}) {
		t.Errorf("Identity = %+v", id)
	}

	for _, tc := range []struct{ kind, target string }{
		{"bundle", "cpu.burnin@1.0"},
		{"case", "cpu.burnin"},
		{"case", "@1.0"},
	} {
		if _, err := parseTarget(tc.kind, tc.target); err == nil {
			t.Errorf("parseTarget(%q, %q) unexpectedly succeeded", tc.kind, tc.target)
		}
	}
}

func TestParseInputs(t *testing.T) {
	got, err := parseInputs(`{"count": 3, "token": {"$env": "LAB_TOKEN", "secret": true}}`)
	if err != nil {
		t.Fatalf("parseInputs failed: %v", err)
	}
	if got["count"].Literal != float64(3) {
		t.Errorf("count = %+v", got["count"])
	}
	if ref := got["token"].EnvRef; ref == nil || ref.Name != "LAB_TOKEN" || !ref.Secret {
		t.Errorf("token = %+v", got["token"])
	}

	if got, err := parseInputs(""); err != nil || got != nil {
		t.Errorf("parseInputs(empty) = %v, %v", got, err)
	}
	if _, err := parseInputs(`[1, 2]`); err == nil {
		t.Error("parseInputs accepted a non-object")
	}
}

func TestParseInputsFromFile(t *testing.T) {
	td := testutil.TempDir(t)
	if err := testutil.WriteFiles(td, map[string]string{
		"overrides.json": `{"mode": "quick"}`,
	}); err != nil {
		t.Fatal(err)
	}
	got, err := parseInputs("@" + filepath.Join(td, "overrides.json"))
	if err != nil {
		t.Fatalf("parseInputs failed: %v", err)
	}
	if got["mode"].Literal != "quick" {
		t.Errorf("mode = %+v", got["mode"])
	}
	if _, err := parseInputs("@" + filepath.Join(td, "missing.json")); err == nil {
		t.Error("parseInputs accepted a missing file")
	}
}
