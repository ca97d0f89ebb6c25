// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/valrig/valrig/internal/runfolder"
)

// resumeCmd implements subcommands.Command to resume a run suspended for
// reboot.
type resumeCmd struct {
	rt runtimeFlags
}

func (*resumeCmd) Name() string     { return "resume" }
func (*resumeCmd) Synopsis() string { return "resume a run suspended for reboot" }
func (*resumeCmd) Usage() string {
	return `Usage: resume [flag]... <runDir>

Description:
    Resume the suspended run whose folder is runDir. The continuation is
    consumed first, so the same suspension can never be resumed twice; the
    next phase executes as a fresh run record linked to the suspended one.

Flag:
`
}

func (rc *resumeCmd) SetFlags(f *flag.FlagSet) {
	rc.rt.SetFlags(f)
}

func (rc *resumeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if len(f.Args()) != 1 {
		fmt.Fprint(os.Stderr, "Missing run directory.\n\n"+rc.Usage())
		return subcommands.ExitUsageError
	}
	prior, err := runfolder.Open(f.Args()[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}

	rt, err := rc.rt.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	defer rt.close()

	res, err := rt.walker.Resume(ctx, prior)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitStatus(rt.report(ctx, res))
}

var _ = subcommands.Command(&resumeCmd{})
