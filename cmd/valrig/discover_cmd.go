// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/valrig/valrig/internal/discovery"
	"github.com/valrig/valrig/internal/manifest"
)

// discoverCmd implements subcommands.Command to list discovered manifests.
type discoverCmd struct {
	rt     runtimeFlags
	json   bool
	stdout io.Writer
}

func newDiscoverCmd(stdout io.Writer) *discoverCmd {
	return &discoverCmd{stdout: stdout}
}

func (*discoverCmd) Name() string     { return "discover" }
func (*discoverCmd) Synopsis() string { return "list discovered cases, suites and plans" }
func (*discoverCmd) Usage() string {
	return `Usage: discover [flag]...

Description:
    Scan the configured roots and list every discovered case, suite and plan
    by identity. Unparsable manifests are skipped with a warning; duplicate
    identities fail the scan.

Flag:
`
}

func (dc *discoverCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&dc.json, "json", false, "print identities as JSON")
	dc.rt.SetFlags(f)
}

func (dc *discoverCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rt, err := dc.rt.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	defer rt.close()

	if dc.json {
		out := make(map[string][]string)
		for _, kind := range []discovery.Kind{discovery.KindCase, discovery.KindSuite, discovery.KindPlan} {
			ids := []string{}
			for _, id := range rt.reg.Identities(kind) {
				ids = append(ids, id.String())
			}
			out[string(kind)+"s"] = ids
		}
		enc := json.NewEncoder(dc.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	for _, s := range []struct {
		heading string
		kind    discovery.Kind
	}{
		{"Cases", discovery.KindCase},
		{"Suites", discovery.KindSuite},
		{"Plans", discovery.KindPlan},
	} {
		fmt.Fprintf(dc.stdout, "%s:\n", s.heading)
		for _, id := range rt.reg.Identities(s.kind) {
			fmt.Fprintf(dc.stdout, "  %s\n", id)
		}
	}
	return subcommands.ExitSuccess
}

var _ = subcommands.Command(&discoverCmd{})

// lookupKinds maps the run command's kind argument to a registry lookup.
var lookupKinds = map[string]bool{"case": true, "suite": true, "plan": true}

// parseTarget validates a "<kind> <id@version>" argument pair.
func parseTarget(kind, target string) (manifest.Identity, error) {
	if !lookupKinds[kind] {
		return manifest.Identity{}, fmt.Errorf("unknown kind %q; want case, suite or plan", kind)
	}
	return manifest.ParseIdentity(target)
}
