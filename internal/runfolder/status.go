// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runfolder

// Status is the terminal status of a run. It is derived by the engine;
// a leaf script's self-reported outcome is advisory evidence only.
type Status string

// Terminal run statuses.
const (
	StatusPassed         Status = "Passed"
	StatusFailed         Status = "Failed"
	StatusError          Status = "Error"
	StatusTimeout        Status = "Timeout"
	StatusAborted        Status = "Aborted"
	StatusRebootRequired Status = "RebootRequired"
)

// rank orders statuses for aggregating a composite node from its children.
// A more severe status dominates.
func (s Status) rank() int {
	switch s {
	case StatusRebootRequired:
		return 5
	case StatusError:
		return 4
	case StatusTimeout:
		return 3
	case StatusFailed:
		return 2
	case StatusAborted:
		return 1
	default:
		return 0
	}
}

// Aggregate returns the status of a composite run given its children's
// statuses. All children Passed means Passed; otherwise the most severe
// child status wins, with a suspension (RebootRequired) dominating.
func Aggregate(children []Status) Status {
	agg := StatusPassed
	for _, s := range children {
		if s.rank() > agg.rank() {
			agg = s
		}
	}
	return agg
}
