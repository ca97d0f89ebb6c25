// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"strings"
	"testing"

	"github.com/google/subcommands"

	"github.com/valrig/valrig/testutil"
)

func writeWorkspace(t *testing.T) string {
	t.Helper()
	td := testutil.TempDir(t)
	if err := testutil.WriteFiles(td, map[string]string{
		"cases/burnin/case.json": `{"id": "cpu.burnin", "name": "Burn-in", "version": "1.0"}`,
		"suites/nightly/suite.json": `{"id": "nightly", "name": "Nightly", "version": "2.0",
			"nodes": [{"nodeId": "burnin", "case": "burnin"}]}`,
		"plans/release/plan.json": `{"id": "release", "name": "Release", "version": "1.0",
			"nodes": [{"nodeId": "nightly", "suite": "nightly"}]}`,
	}); err != nil {
		t.Fatal(err)
	}
	return td
}

func execDiscover(t *testing.T, args []string) string {
	t.Helper()
	var out bytes.Buffer
	dc := newDiscoverCmd(&out)
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	dc.SetFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	if status := dc.Execute(context.Background(), fs); status != subcommands.ExitSuccess {
		t.Fatalf("Execute = %v", status)
	}
	return out.String()
}

func TestDiscoverCmd(t *testing.T) {
	td := writeWorkspace(t)
	out := execDiscover(t, []string{"-workdir", td})
	for _, want := range []string{"cpu.burnin@1.0", "nightly@2.0", "release@1.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output %q does not list %s", out, want)
		}
	}
}

func TestDiscoverCmdJSON(t *testing.T) {
	td := writeWorkspace(t)
	out := execDiscover(t, []string{"-workdir", td, "-json"})

	var got map[string][]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Output is not JSON: %v\n%s", err, out)
	}
	if len(got["cases"]) != 1 || got["cases"][0] != "cpu.burnin@1.0" {
		t.Errorf("cases = %v", got["cases"])
	}
	if len(got["suites"]) != 1 || len(got["plans"]) != 1 {
		t.Errorf("Output = %v", got)
	}
}
