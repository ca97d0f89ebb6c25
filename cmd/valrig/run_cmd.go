// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"github.com/valrig/valrig/internal/manifest"
	"github.com/valrig/valrig/internal/runfolder"
)

// runCmd implements subcommands.Command to execute a case, suite or plan.
type runCmd struct {
	rt     runtimeFlags
	inputs string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run a case, suite or plan" }
func (*runCmd) Usage() string {
	return `Usage: run [flag]... <kind> <id@version>

Description:
    Execute the named case, suite or plan and record the outcome under the
    results root. kind is one of case, suite or plan.

    Input overrides supplied with -inputs take priority over both case
    defaults and node-level overrides:

        $ valrig run -inputs '{"iterations": 10}' case cpu.burnin@1.2.0

    An @-prefixed value reads the overrides from a JSON file instead:

        $ valrig run -inputs @overrides.json suite mem.nightly@2.0

Flag:
`
}

func (rc *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&rc.inputs, "inputs", "", "run-request input overrides as a JSON object, or @file")
	rc.rt.SetFlags(f)
}

func (rc *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if len(f.Args()) != 2 {
		fmt.Fprint(os.Stderr, "Missing kind and target.\n\n"+rc.Usage())
		return subcommands.ExitUsageError
	}
	id, err := parseTarget(f.Args()[0], f.Args()[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	request, err := parseInputs(rc.inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}

	rt, err := rc.rt.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	defer rt.close()

	var res *runfolder.Result
	switch f.Args()[0] {
	case "case":
		c, ok := rt.reg.Case(id)
		if !ok {
			fmt.Fprintf(os.Stderr, "ERROR: case %s not found\n", id)
			return subcommands.ExitFailure
		}
		res, err = rt.walker.RunCase(ctx, c, request)
	case "suite":
		s, ok := rt.reg.Suite(id)
		if !ok {
			fmt.Fprintf(os.Stderr, "ERROR: suite %s not found\n", id)
			return subcommands.ExitFailure
		}
		res, err = rt.walker.RunSuite(ctx, s, request)
	case "plan":
		p, ok := rt.reg.Plan(id)
		if !ok {
			fmt.Fprintf(os.Stderr, "ERROR: plan %s not found\n", id)
			return subcommands.ExitFailure
		}
		res, err = rt.walker.RunPlan(ctx, p, request)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitStatus(rt.report(ctx, res))
}

// parseInputs decodes the -inputs flag. Values keep EnvRef indirection, so
// secrets can be supplied as {"$env": "NAME", "secret": true}.
func parseInputs(arg string) (map[string]manifest.RawValue, error) {
	if arg == "" {
		return nil, nil
	}
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read inputs file: %v", err)
		}
		data = b
	}
	var request map[string]manifest.RawValue
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, fmt.Errorf("malformed inputs: %v", err)
	}
	return request, nil
}

var _ = subcommands.Command(&runCmd{})
