// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/valrig/valrig/testutil"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	td := testutil.TempDir(t)
	cfg, err := Load(filepath.Join(td, DefaultFilename), td)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CaseRoot != filepath.Join(td, "cases") || cfg.ResultsRoot != filepath.Join(td, "results") {
		t.Errorf("Defaults = %+v", cfg)
	}
	if cfg.DefaultTimeout() != 30*time.Minute {
		t.Errorf("DefaultTimeout = %v; want 30m", cfg.DefaultTimeout())
	}
	if cfg.RebootEnabled() {
		t.Error("RebootEnabled = true with no reboot command")
	}
}

func TestLoadOverrides(t *testing.T) {
	td := testutil.TempDir(t)
	if err := testutil.WriteFiles(td, map[string]string{
		DefaultFilename: `
caseRoot: /srv/validation/cases
interpreter: [/bin/sh]
defaultTimeoutSec: 60
rebootCommand: [systemctl, reboot]
`,
	}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(filepath.Join(td, DefaultFilename), td)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CaseRoot != "/srv/validation/cases" {
		t.Errorf("CaseRoot = %q", cfg.CaseRoot)
	}
	// Unset fields still get defaults.
	if cfg.SuiteRoot != filepath.Join(td, "suites") {
		t.Errorf("SuiteRoot = %q", cfg.SuiteRoot)
	}
	if diff := cmp.Diff([]string{"/bin/sh"}, cfg.Interpreter); diff != "" {
		t.Errorf("Interpreter mismatch (-want +got):\n%s", diff)
	}
	if cfg.DefaultTimeout() != time.Minute {
		t.Errorf("DefaultTimeout = %v; want 1m", cfg.DefaultTimeout())
	}
	if !cfg.RebootEnabled() {
		t.Error("RebootEnabled = false with a reboot command configured")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	td := testutil.TempDir(t)
	if err := testutil.WriteFiles(td, map[string]string{
		DefaultFilename: "caseroots: [/x]\n",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(filepath.Join(td, DefaultFilename), td); err == nil {
		t.Error("Load unexpectedly accepted unknown key")
	}
}
